// Package expiry revokes login sessions past their expiry and tells their sockets.
package expiry

import (
	"context"
	"time"

	"PPresence/logger"
	umodel "PPresence/module/user/model"
	"PPresence/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultMessage = "Your session has expired. Please sign in again."

type SessionStore interface {
	ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]umodel.LoginSession, error)
	InvalidateSessions(ctx context.Context, ids []int64, reason string, at time.Time) (int64, error)
}

// Notifier is the slice of the gateway the sweep calls.
type Notifier interface {
	EmitSessionExpired(ctx context.Context, sessionIDs []int64, reason, message string) int
	ForceDisconnectSession(ctx context.Context, sessionID, userID, tenantID int64, reason string) int
}

type Config struct {
	Every      time.Duration
	BatchSize  int
	CloseAfter bool // also revoke the sockets after the advisory
	Message    string
}

type Sweeper struct {
	cfg      Config
	sessions SessionStore
	gw       Notifier
	now      func() time.Time
}

func NewSweeper(cfg Config, sessions SessionStore, gw Notifier) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Message == "" {
		cfg.Message = defaultMessage
	}
	return &Sweeper{cfg: cfg, sessions: sessions, gw: gw, now: time.Now}
}

// Result of one pass.
type Result struct {
	Expired  int
	Notified int
	Closed   int
}

// SweepOnce invalidates every expired session, then notifies (and optionally closes) their sockets.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var res Result
	for {
		now := s.now()
		batch, err := s.sessions.ExpiredSessions(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return res, errors.Wrap(err, "expiry: scan")
		}
		if len(batch) == 0 {
			return res, nil
		}
		ids := make([]int64, len(batch))
		for i, sess := range batch {
			ids[i] = sess.SessionID
		}
		if _, err := s.sessions.InvalidateSessions(ctx, ids, umodel.ReasonExpired, now); err != nil {
			return res, errors.Wrap(err, "expiry: invalidate")
		}
		res.Expired += len(batch)
		res.Notified += s.gw.EmitSessionExpired(ctx, ids, umodel.ReasonExpired, s.cfg.Message)
		if s.cfg.CloseAfter {
			for _, sess := range batch {
				res.Closed += s.gw.ForceDisconnectSession(ctx, sess.SessionID, sess.UserID, sess.TenantID, umodel.ReasonExpired)
			}
		}
		if len(batch) < s.cfg.BatchSize {
			return res, nil
		}
	}
}

// Run sweeps every cfg.Every until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Every <= 0 {
		logger.Info("[expiry] sweep disabled")
		return
	}
	t := time.NewTicker(s.cfg.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			safe.Run("expiry.sweep", func() {
				res, err := s.SweepOnce(ctx)
				if err != nil {
					logger.Error("[expiry] sweep failed", zap.Error(err))
					return
				}
				if res.Expired > 0 {
					logger.Info("[expiry] sessions expired",
						zap.Int("expired", res.Expired), zap.Int("notified", res.Notified), zap.Int("closed", res.Closed))
				}
			})
		}
	}
}
