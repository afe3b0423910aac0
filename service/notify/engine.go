// Package notify persists notifications for every active tenant user and pushes them live.
package notify

import (
	"context"
	"time"

	"PPresence/logger"
	nmodel "PPresence/module/notify/model"
	"PPresence/service/gateway"
	"PPresence/tools/errs"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Store is the event log.
type Store interface {
	CreateWithDeliveries(ctx context.Context, in nmodel.NewNotification, now time.Time) (nmodel.Notification, []int64, error)
	Unread(ctx context.Context, userID int64, limit int) ([]nmodel.UserNotification, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	List(ctx context.Context, userID int64, page, pageSize int) (nmodel.Page, error)
	MarkRead(ctx context.Context, userID, notificationID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher is the live side; *gateway.Gateway satisfies it.
type Publisher interface {
	Broadcast(ctx context.Context, event string, data any, groups ...string) int
	GetOnlineUsers(ctx context.Context, tenantID int64) ([]int64, error)
}

type Engine struct {
	store Store
	pub   Publisher
	now   func() time.Time

	emitted metric.Int64Counter
	records metric.Int64Counter
}

func NewEngine(store Store, pub Publisher) *Engine {
	meter := otel.Meter("PPresence/notify")
	e := &Engine{store: store, pub: pub, now: time.Now}
	e.emitted, _ = meter.Int64Counter("notify_notifications_total",
		metric.WithDescription("Notifications persisted"))
	e.records, _ = meter.Int64Counter("notify_delivery_records_total",
		metric.WithDescription("Delivery records created"))
	return e
}

// EmitResult is what EmitNotification reports back.
type EmitResult struct {
	Notification nmodel.Notification `json:"notification"`
	Recipients   int                 `json:"recipients"`
	// OnlineUserIDs were in the presence store at publish time; informational only.
	OnlineUserIDs []int64 `json:"onlineUserIds"`
}

// EmitNotification persists the notification with one delivery record per active
// tenant user, then broadcasts it to the tenant group. Identical calls are not deduplicated.
func (e *Engine) EmitNotification(ctx context.Context, in nmodel.NewNotification) (*EmitResult, error) {
	if in.TenantID <= 0 || in.Type == "" || in.Title == "" {
		return nil, errs.ErrBadRequest.WrapMsg("tenantId, type and title are required")
	}
	n, recipients, err := e.store.CreateWithDeliveries(ctx, in, e.now())
	if err != nil {
		return nil, errors.Wrap(err, "notify: persist")
	}
	attrs := metric.WithAttributes(attribute.Int64("tenant_id", in.TenantID), attribute.String("type", in.Type))
	e.emitted.Add(ctx, 1, attrs)
	e.records.Add(ctx, int64(len(recipients)), attrs)

	online, err := e.pub.GetOnlineUsers(ctx, in.TenantID)
	if err != nil {
		logger.Warn("[notify] online snapshot failed", zap.Int64("tenant_id", in.TenantID), zap.Error(err))
	}
	if online == nil {
		online = []int64{}
	}
	e.pub.Broadcast(ctx, gateway.EventNotification, n, gateway.TenantGroup(in.TenantID))

	logger.Info("[notify] emitted",
		zap.Int64("notification_id", n.ID), zap.Int64("tenant_id", n.TenantID),
		zap.Int("recipients", len(recipients)), zap.Int("online", len(online)))
	return &EmitResult{Notification: n, Recipients: len(recipients), OnlineUserIDs: online}, nil
}

func (e *Engine) GetUnreadNotifications(ctx context.Context, userID int64) ([]nmodel.UserNotification, error) {
	items, err := e.store.Unread(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []nmodel.UserNotification{}
	}
	return items, nil
}

func (e *Engine) GetUnreadCount(ctx context.Context, userID int64) (int64, error) {
	return e.store.UnreadCount(ctx, userID)
}

func (e *Engine) GetUserNotifications(ctx context.Context, userID int64, page, pageSize int) (nmodel.Page, error) {
	return e.store.List(ctx, userID, page, pageSize)
}

// MarkRead reports whether a record changed; unknown or already-read ids are not errors.
func (e *Engine) MarkRead(ctx context.Context, userID, notificationID int64) (bool, error) {
	return e.store.MarkRead(ctx, userID, notificationID, e.now())
}

func (e *Engine) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return e.store.MarkAllRead(ctx, userID, e.now())
}

// DeleteOldNotifications prunes notifications older than maxAgeDays; records cascade.
func (e *Engine) DeleteOldNotifications(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, errs.ErrBadRequest.WrapMsg("maxAgeDays must be positive")
	}
	cutoff := e.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	n, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "notify: retention")
	}
	logger.Info("[notify] retention pass", zap.Int("max_age_days", maxAgeDays), zap.Int64("deleted", n))
	return n, nil
}
