package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/locale"
	"github.com/sharegate/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 校验管理员账号并写入会话。
func (a *API) Login(c *gin.Context) {
	var payload loginRequest
	if !bindJSON(c, &payload) {
		return
	}

	user, err := db.Authenticate(a.db, payload.Username, payload.Password)
	if err != nil {
		a.log.Info().Str("username", payload.Username).Msg("admin login failed")
		respondLocalized(c, http.StatusUnauthorized, "error.bad_credentials")
		return
	}

	// 设置会话
	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondLocalized(c, http.StatusInternalServerError, "error.session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": user.Username})
}

// Logout 处理用户登出
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.JSON(http.StatusOK, gin.H{"message": locale.T(requestLanguage(c), "message.logged_out")})
}

// AuthRequired 是一个简单的认证中间件
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get("user_id") == nil {
			respondLocalized(c, http.StatusUnauthorized, "error.admin_required")
			c.Abort()
			return
		}
		c.Next()
	}
}

type resetRequest struct {
	Subject string `json:"subject"`
	Action  string `json:"action"`
}

// ResetRateLimits 清除指定用户的限流计数与冷却。
func (a *API) ResetRateLimits(c *gin.Context) {
	var payload resetRequest
	if !bindJSON(c, &payload) {
		return
	}
	if err := a.shares.ResetRateLimits(payload.Subject, strings.TrimSpace(payload.Action)); err != nil {
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": locale.T(requestLanguage(c), "message.rate_reset")})
}

type spamPatternsRequest struct {
	Keywords []string `json:"keywords"`
	Patterns []string `json:"patterns"`
}

// UpdateSpamPatterns 追加垃圾检测关键词与正则。
func (a *API) UpdateSpamPatterns(c *gin.Context) {
	var payload spamPatternsRequest
	if !bindJSON(c, &payload) {
		return
	}

	rules, err := a.shares.UpdateSpamPatterns(payload.Keywords, payload.Patterns)
	if err != nil {
		respondShareError(c, err)
		return
	}

	patterns := make([]string, 0, len(rules.Patterns()))
	for _, p := range rules.Patterns() {
		patterns = append(patterns, p.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  locale.T(requestLanguage(c), "message.patterns_saved"),
		"version":  rules.Version,
		"keywords": rules.Keywords(),
		"patterns": patterns,
	})
}

// GetSpamStats 返回 timeframe 内的垃圾检测统计，默认 24h。
func (a *API) GetSpamStats(c *gin.Context) {
	var timeframe time.Duration
	if raw := strings.TrimSpace(c.Query("timeframe")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			respondLocalized(c, http.StatusBadRequest, "error.bad_timeframe")
			return
		}
		timeframe = parsed
	}
	c.JSON(http.StatusOK, a.shares.SpamDetectionStats(timeframe))
}

// ListShares 按文章、分享者与时间范围查询分享记录。
func (a *API) ListShares(c *gin.Context) {
	filter := service.ShareFilter{
		PostID:         strings.TrimSpace(c.Query("postId")),
		SharerID:       strings.TrimSpace(c.Query("sharerId")),
		IncludeRemoved: c.Query("includeRemoved") == "true",
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}

	var ok bool
	if filter.Since, ok = parseTimeQuery(c, "since"); !ok {
		return
	}
	if filter.Until, ok = parseTimeQuery(c, "until"); !ok {
		return
	}

	shares, err := a.shares.ListShares(c.Request.Context(), filter)
	if err != nil {
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares, "count": len(shares)})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondLocalized(c, http.StatusBadRequest, "error.bad_time")
		return nil, false
	}
	return &parsed, true
}

type postRequest struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Privacy    string `json:"privacy"`
	AllowShare *bool  `json:"allowShare"`
}

// CreatePost 创建可被分享的文章，allowShare 缺省为 true。
func (a *API) CreatePost(c *gin.Context) {
	var payload postRequest
	if !bindJSON(c, &payload) {
		return
	}
	allow := true
	if payload.AllowShare != nil {
		allow = *payload.AllowShare
	}

	post, err := a.posts.Create(c.Request.Context(), service.PostInput{
		ID:         payload.ID,
		AuthorID:   payload.AuthorID,
		Title:      payload.Title,
		Content:    payload.Content,
		Privacy:    payload.Privacy,
		AllowShare: allow,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPost) {
			respondLocalized(c, http.StatusBadRequest, "error.bad_request")
			return
		}
		respondShareError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post.Snapshot())
}

// ListPosts 分页返回文章快照。
func (a *API) ListPosts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "20"))

	posts, total, err := a.posts.List(c.Request.Context(), service.PostFilter{
		AuthorID: c.Query("authorId"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		respondShareError(c, err)
		return
	}

	items := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		items = append(items, p.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"posts": items, "total": total, "page": page})
}
