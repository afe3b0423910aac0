package natsx

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、恢复、幂等等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain wraps h so that mws[0] runs outermost.
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover turns a panicking handler into an error.
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// NatsxLogErrors logs handler failures; slow handlers are logged at warn.
func NatsxLogErrors(slow time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("[natsx] handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			if d := time.Since(start); slow > 0 && d > slow {
				logger.Warn("[natsx] slow handler", zap.String("subject", msg.Subject), zap.Duration("took", d))
			}
			return err
		}
	}
}
