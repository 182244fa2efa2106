package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sharegate/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db     *gorm.DB
	shares *service.ShareOrchestrator
	posts  *service.PostService
	log    zerolog.Logger
}

// NewAPI constructs a handler set around the share orchestrator.
func NewAPI(db *gorm.DB, shares *service.ShareOrchestrator, posts *service.PostService, log zerolog.Logger) *API {
	return &API{
		db:     db,
		shares: shares,
		posts:  posts,
		log:    log,
	}
}

// DB exposes the underlying gorm instance for health checks and admin paths.
func (a *API) DB() *gorm.DB {
	return a.db
}

// RequestLogger 记录每个请求的耗时与状态码。
func (a *API) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		event := a.log.Debug()
		if c.Writer.Status() >= 500 {
			event = a.log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Str("request_id", c.GetString(requestIDContextKey)).
			Msg("http request")
	}
}
