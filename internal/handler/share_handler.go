package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sharegate/internal/analytics"
	"github.com/sharegate/internal/locale"
	"github.com/sharegate/internal/service"
)

type shareRequest struct {
	Targets []string `json:"targets"`
	Message string   `json:"message"`
	Privacy string   `json:"privacy"`
}

type shareFunc func(context.Context, service.ShareRequest) (service.ShareResult, error)

func (a *API) handleShare(c *gin.Context, share shareFunc) {
	subject, ok := requireSubject(c)
	if !ok {
		return
	}
	var payload shareRequest
	if !bindOptionalJSON(c, &payload) {
		return
	}

	result, err := share(c.Request.Context(), service.ShareRequest{
		PostID:   c.Param("id"),
		SharerID: subject,
		Targets:  payload.Targets,
		Message:  payload.Message,
		Privacy:  payload.Privacy,
	})
	if err != nil {
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ShareToFriends 处理 POST /api/posts/:id/share/friends。
func (a *API) ShareToFriends(c *gin.Context) {
	a.handleShare(c, a.shares.ShareToFriends)
}

// ShareToFeed 处理 POST /api/posts/:id/share/feed。
func (a *API) ShareToFeed(c *gin.Context) {
	a.handleShare(c, a.shares.ShareToFeed)
}

// ShareToGroups 处理 POST /api/posts/:id/share/groups。
func (a *API) ShareToGroups(c *gin.Context) {
	a.handleShare(c, a.shares.ShareToGroups)
}

// RemoveShare 撤销当前用户的一次分享。
func (a *API) RemoveShare(c *gin.Context) {
	subject, ok := requireSubject(c)
	if !ok {
		return
	}

	result, err := a.shares.RemoveShare(c.Request.Context(), c.Param("shareId"), subject)
	if err != nil {
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       locale.T(requestLanguage(c), "message.share_removed"),
		"shareId":       result.ShareID,
		"postId":        result.PostID,
		"newShareCount": result.NewShareCount,
	})
}

// GetRateLimitStatus 返回当前用户各窗口的占用与冷却。
func (a *API) GetRateLimitStatus(c *gin.Context) {
	subject, ok := requireSubject(c)
	if !ok {
		return
	}

	status := a.shares.RateLimitStatus(subject, strings.TrimSpace(c.Query("action")))
	windows := make([]gin.H, 0, len(status.Windows))
	for _, w := range status.Windows {
		windows = append(windows, gin.H{
			"window":         w.Window.String(),
			"current":        w.Current,
			"max":            w.Max,
			"remaining":      w.Remaining,
			"resetInSeconds": w.ResetInSeconds,
		})
	}
	cooldown := gin.H{"active": !status.Cooldown.Allowed}
	if !status.Cooldown.Allowed {
		cooldown["kind"] = status.Cooldown.Kind
		cooldown["reason"] = status.Cooldown.Reason
		cooldown["retryAfterSeconds"] = status.Cooldown.RetryAfterSeconds
		cooldown["expiresAt"] = status.Cooldown.ExpiresAt
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":  status.Subject,
		"action":   status.Action,
		"windows":  windows,
		"cooldown": cooldown,
	})
}

// GetPostAnalytics 返回文章维度的分享分析。
func (a *API) GetPostAnalytics(c *gin.Context) {
	a.respondAnalytics(c, analytics.PostScope(c.Param("id")))
}

// GetUserAnalytics 返回分享者维度的分享分析。
func (a *API) GetUserAnalytics(c *gin.Context) {
	a.respondAnalytics(c, analytics.SharerScope(c.Param("id")))
}

func (a *API) respondAnalytics(c *gin.Context, scope analytics.Scope) {
	days := analytics.ParseDays(c.Query("days"))
	c.JSON(http.StatusOK, a.shares.Analytics(scope, days))
}

// GetShareCount 返回文章的分享计数。
func (a *API) GetShareCount(c *gin.Context) {
	result, err := a.shares.ShareCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
