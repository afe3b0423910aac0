package middleware

import (
	"net/http"
	"strings"

	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin rejects websocket handshakes on path from origins outside allowed.
// An empty list allows every origin.
func Origin(path string, allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != path {
			c.Next()
			return
		}
		origin := strings.ToLower(strings.TrimRight(c.GetHeader("Origin"), "/"))
		if _, ok := set[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrForbidden.WithDetail("origin not allowed"))
			return
		}
		c.Next()
	}
}
