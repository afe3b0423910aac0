package security

import (
	"crypto/subtle"
	"strings"

	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

// PPCtxAuthKey holds the presented key once accepted.
const PPCtxAuthKey = "authorization"

type Options struct {
	APIKey                    string // 期望的密钥；为空时拒绝所有请求
	HeaderToken               string // 默认 "X-Api-Key"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(apiKey string) *Options {
	return &Options{
		APIKey:                    apiKey,
		HeaderToken:               "X-Api-Key",
		EnableAuthorizationBearer: true,
	}
}

// Middleware guards service-to-service routes with a shared API key.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions("")
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if opts.APIKey == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(opts.APIKey)) != 1 {
			c.AbortWithStatusJSON(errs.ErrUnauthorized.HTTPStatus(), errs.ErrUnauthorized)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Next()
	}
}
