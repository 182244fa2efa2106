package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sharegate/internal/handler"
)

const sessionName = "sharegate_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestID(), api.RequestLogger())

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   7 * 24 * 60 * 60,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(handler.LocaleMiddleware())

	r.GET("/healthz", api.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 分享接口，用户身份由网关通过 X-User-ID 传入
	v1 := r.Group("/api")
	{
		v1.POST("/posts/:id/share/friends", api.ShareToFriends)
		v1.POST("/posts/:id/share/feed", api.ShareToFeed)
		v1.POST("/posts/:id/share/groups", api.ShareToGroups)
		v1.GET("/posts/:id/shares/count", api.GetShareCount)
		v1.GET("/posts/:id/analytics", api.GetPostAnalytics)
		v1.GET("/users/:id/analytics", api.GetUserAnalytics)
		v1.DELETE("/shares/:shareId", api.RemoveShare)
		v1.GET("/rate-limit", api.GetRateLimitStatus)
	}

	// 后台管理路由
	admin := r.Group("/admin")
	{
		admin.POST("/login", api.Login)
		admin.POST("/logout", api.Logout)

		// 需要认证的后台路由
		auth := admin.Group("/api")
		auth.Use(handler.AuthRequired())
		{
			auth.POST("/rate-limits/reset", api.ResetRateLimits)
			auth.PUT("/spam-patterns", api.UpdateSpamPatterns)
			auth.GET("/spam-stats", api.GetSpamStats)
			auth.GET("/shares", api.ListShares)
			auth.GET("/posts", api.ListPosts)
			auth.POST("/posts", api.CreatePost)
		}
	}

	return r
}
