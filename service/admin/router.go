// Package admin is the service-to-service HTTP surface of the gateway.
package admin

import (
	"context"
	"net/http"
	"sync"

	"PPresence/middleware"
	midsec "PPresence/middleware/security"
	nmodel "PPresence/module/notify/model"
	"PPresence/service/expiry"
	"PPresence/service/gateway"
	"PPresence/service/notify"
	"PPresence/tools/errs"
	"PPresence/tools/specialerror"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type Notifications interface {
	EmitNotification(ctx context.Context, in nmodel.NewNotification) (*notify.EmitResult, error)
	GetUnreadNotifications(ctx context.Context, userID int64) ([]nmodel.UserNotification, error)
	GetUnreadCount(ctx context.Context, userID int64) (int64, error)
	GetUserNotifications(ctx context.Context, userID int64, page, pageSize int) (nmodel.Page, error)
	MarkRead(ctx context.Context, userID, notificationID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	DeleteOldNotifications(ctx context.Context, maxAgeDays int) (int64, error)
}

type Presence interface {
	GetOnlineUsers(ctx context.Context, tenantID int64) ([]int64, error)
	GetOnlineUsersWithSessions(ctx context.Context, tenantID int64) ([]gateway.OnlineUser, error)
	ForceDisconnectUser(ctx context.Context, userID int64, reason string) int
	ForceDisconnectSession(ctx context.Context, sessionID, userID, tenantID int64, reason string) int
	ForceDisconnectAllTenantUsers(ctx context.Context, tenantID, excludeUserID int64, reason string) int
}

type Sweeper interface {
	SweepOnce(ctx context.Context) (expiry.Result, error)
}

// HealthCheck reports one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Notifications Notifications
	Presence      Presence
	Sweeper       Sweeper
	Health        map[string]HealthCheck
	// RetentionMaxAgeDays is the prune default when the request names none.
	RetentionMaxAgeDays int
}

type Handler struct {
	deps Deps
}

var registerErrors sync.Once

func NewHandler(deps Deps) *Handler {
	registerErrors.Do(func() {
		// a store or relay call that ran out of time is reported as unavailable
		_ = specialerror.AddSentinel(context.DeadlineExceeded, errs.ErrUnavailable)
		_ = specialerror.AddSentinel(pgx.ErrNoRows, errs.ErrNotFound)
	})
	return &Handler{deps: deps}
}

// Register mounts /healthz unauthenticated and everything else under /admin
// behind the API key.
func (h *Handler) Register(r gin.IRouter, auth *midsec.Options) {
	middleware.GET(r, "/healthz", h.Healthz, middleware.RouteOpt{})

	g := r.Group("/admin")
	opt := middleware.RouteOpt{IsAuth: true, Auth: auth}

	middleware.POST(g, "/notifications", h.EmitNotification, opt)
	middleware.POST(g, "/notifications/prune", h.PruneNotifications, opt)
	middleware.GET(g, "/users/:userId/notifications", h.ListNotifications, opt)
	middleware.GET(g, "/users/:userId/notifications/unread", h.UnreadNotifications, opt)
	middleware.POST(g, "/users/:userId/notifications/read-all", h.MarkAllRead, opt)
	middleware.POST(g, "/users/:userId/notifications/:notificationId/read", h.MarkRead, opt)
	middleware.POST(g, "/users/:userId/disconnect", h.DisconnectUser, opt)

	middleware.GET(g, "/tenants/:tenantId/online", h.OnlineUsers, opt)
	middleware.GET(g, "/tenants/:tenantId/online/sessions", h.OnlineSessions, opt)
	middleware.POST(g, "/tenants/:tenantId/disconnect", h.DisconnectTenant, opt)

	middleware.POST(g, "/sessions/:sessionId/disconnect", h.DisconnectSession, opt)
	middleware.POST(g, "/sessions/expired", h.SweepExpired, opt)
}

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	out := make(map[string]string, len(h.deps.Health))
	for name, check := range h.deps.Health {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": out})
}
