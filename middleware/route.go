package middleware

import (
	midsec "PPresence/middleware/security"

	"github.com/gin-gonic/gin"
)

// RouteOpt 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   *midsec.Options
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	if o.IsAuth {
		return []gin.HandlerFunc{midsec.Middleware(o.Auth), handler}
	}
	return []gin.HandlerFunc{handler}
}

// POST 封装
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
