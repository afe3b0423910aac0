package admin

import (
	"net/http"
	"strconv"

	"PPresence/logger"
	"PPresence/tools/errs"
	"PPresence/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

// fail writes err as a CodeError body; anything unmapped is a 500.
func fail(c *gin.Context, err error) {
	ce, isCode := specialerror.Resolve(err)
	if !isCode {
		logger.Error("[admin] request failed", zap.String("path", c.FullPath()), zap.Error(err))
		ce = &errs.ErrInternal
	}
	c.AbortWithStatusJSON(ce.HTTPStatus(), ce)
}

func pathInt64(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, errs.ErrBadRequest.WrapMsg(name + " must be a positive integer")
	}
	return v, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errs.ErrBadRequest.WrapMsg(name + " must be an integer")
	}
	return v, nil
}
