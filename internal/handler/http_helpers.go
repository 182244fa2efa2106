package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sharegate/internal/locale"
	"github.com/sharegate/internal/service"
)

const (
	subjectHeader       = "X-User-ID"
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "__request_id"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondLocalized 按请求语言返回目录中的错误文案。
func respondLocalized(c *gin.Context, status int, key string) {
	respondError(c, status, locale.T(requestLanguage(c), key))
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondLocalized(c, http.StatusBadRequest, "error.bad_request")
		return false
	}
	return true
}

// bindOptionalJSON 允许空请求体。
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, dst)
}

// requireSubject 从网关注入的 X-User-ID 读取当前用户。
func requireSubject(c *gin.Context) (string, bool) {
	subject := strings.TrimSpace(c.GetHeader(subjectHeader))
	if subject == "" {
		respondLocalized(c, http.StatusUnauthorized, "error.unauthenticated")
		return "", false
	}
	return subject, true
}

// statusForKind 将错误类别映射为 HTTP 状态码。
func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindRateLimit, service.KindCooldown:
		return http.StatusTooManyRequests
	case service.KindSpamRejected:
		return http.StatusUnprocessableEntity
	case service.KindPermission:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondShareError 输出本地化的分享错误，限流与冷却附带 Retry-After。
func respondShareError(c *gin.Context, err error) {
	var se *service.ShareError
	if !errors.As(err, &se) {
		se = &service.ShareError{Kind: service.KindOf(err), Err: err}
	}

	status := statusForKind(se.Kind)
	body := gin.H{
		"error": locale.T(requestLanguage(c), "error."+string(se.Kind)),
		"kind":  se.Kind,
	}
	if se.Message != "" && status != http.StatusInternalServerError {
		body["detail"] = se.Message
	}
	if se.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(se.RetryAfterSeconds))
		body["retryAfterSeconds"] = se.RetryAfterSeconds
	}
	if se.Reason != "" {
		body["reason"] = se.Reason
	}
	if se.Tier != "" {
		body["tier"] = se.Tier
	}
	if len(se.Reasons) > 0 {
		body["reasons"] = se.Reasons
	}
	if status == http.StatusInternalServerError {
		c.Error(err)
	}
	c.JSON(status, body)
}

// RequestID 为每个请求分配追踪 ID，沿用上游传入的值。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
