package safe

import (
	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// Go starts a named goroutine that recovers from panic,
// so that one broken loop doesn't crash the whole gateway.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run executes f on the current goroutine with panic recovery.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[safe] panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)))
		}
	}()
	f()
}
