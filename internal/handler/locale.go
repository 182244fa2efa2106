package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sharegate/internal/locale"
)

const localeContextKey = "__request_locale"

// LocaleMiddleware resolves request language and sets headers for downstream caching.
func LocaleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		pref := requestLocale(c)
		c.Header("Content-Language", pref.HTMLLang)
		appendVaryHeader(c, "Accept-Language")
		c.Next()
	}
}

func requestLocale(c *gin.Context) locale.Preference {
	if cached, exists := c.Get(localeContextKey); exists {
		if pref, ok := cached.(locale.Preference); ok {
			return pref
		}
	}
	pref := locale.Resolve(c.Query("lang"), c.GetHeader("Accept-Language"))
	c.Set(localeContextKey, pref)
	return pref
}

func requestLanguage(c *gin.Context) string {
	return requestLocale(c).Language
}

func appendVaryHeader(c *gin.Context, headers ...string) {
	existing := c.Writer.Header().Get("Vary")
	seen := make(map[string]struct{})
	order := make([]string, 0, len(headers))
	for _, token := range append(strings.Split(existing, ","), headers...) {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		order = append(order, trimmed)
	}
	if len(order) > 0 {
		c.Header("Vary", strings.Join(order, ", "))
	}
}
