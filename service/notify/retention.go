package notify

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

// RunRetention prunes once per interval until ctx is done. maxAgeDays == 0 disables it.
func (e *Engine) RunRetention(ctx context.Context, every time.Duration, maxAgeDays int) {
	if every <= 0 || maxAgeDays <= 0 {
		logger.Info("[notify] retention disabled")
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			safe.Run("notify.retention", func() {
				if _, err := e.DeleteOldNotifications(ctx, maxAgeDays); err != nil {
					logger.Error("[notify] retention failed", zap.Error(err))
				}
			})
		}
	}
}
