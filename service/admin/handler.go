package admin

import (
	nmodel "PPresence/module/notify/model"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

type pruneRequest struct {
	MaxAgeDays *int `json:"maxAgeDays"`
}

type disconnectRequest struct {
	Reason        string `json:"reason"`
	UserID        int64  `json:"userId"`
	TenantID      int64  `json:"tenantId"`
	ExcludeUserID int64  `json:"excludeUserId"`
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return errs.ErrBadRequest.WrapMsg(err.Error())
	}
	return nil
}

func (h *Handler) EmitNotification(c *gin.Context) {
	var in nmodel.NewNotification
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, errs.ErrBadRequest.WrapMsg(err.Error()))
		return
	}
	res, err := h.deps.Notifications.EmitNotification(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

func (h *Handler) PruneNotifications(c *gin.Context) {
	var req pruneRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, err)
		return
	}
	days := h.deps.RetentionMaxAgeDays
	if req.MaxAgeDays != nil {
		days = *req.MaxAgeDays
	}
	if days <= 0 {
		fail(c, errs.ErrBadRequest.WrapMsg("maxAgeDays must be positive"))
		return
	}
	n, err := h.deps.Notifications.DeleteOldNotifications(c.Request.Context(), days)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"deleted": n, "maxAgeDays": days})
}

func (h *Handler) ListNotifications(c *gin.Context) {
	userID, err := pathInt64(c, "userId")
	if err != nil {
		fail(c, err)
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		fail(c, err)
		return
	}
	size, err := queryInt(c, "pageSize", 0)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.deps.Notifications.GetUserNotifications(c.Request.Context(), userID, page, size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

func (h *Handler) UnreadNotifications(c *gin.Context) {
	userID, err := pathInt64(c, "userId")
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	items, err := h.deps.Notifications.GetUnreadNotifications(ctx, userID)
	if err != nil {
		fail(c, err)
		return
	}
	count, err := h.deps.Notifications.GetUnreadCount(ctx, userID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"notifications": items, "count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	userID, err := pathInt64(c, "userId")
	if err != nil {
		fail(c, err)
		return
	}
	nid, err := pathInt64(c, "notificationId")
	if err != nil {
		fail(c, err)
		return
	}
	changed, err := h.deps.Notifications.MarkRead(c.Request.Context(), userID, nid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"updated": changed})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	userID, err := pathInt64(c, "userId")
	if err != nil {
		fail(c, err)
		return
	}
	n, err := h.deps.Notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"updated": n})
}

func (h *Handler) OnlineUsers(c *gin.Context) {
	tenantID, err := pathInt64(c, "tenantId")
	if err != nil {
		fail(c, err)
		return
	}
	users, err := h.deps.Presence.GetOnlineUsers(c.Request.Context(), tenantID)
	if err != nil {
		fail(c, err)
		return
	}
	if users == nil {
		users = []int64{}
	}
	ok(c, gin.H{"tenantId": tenantID, "userIds": users})
}

func (h *Handler) OnlineSessions(c *gin.Context) {
	tenantID, err := pathInt64(c, "tenantId")
	if err != nil {
		fail(c, err)
		return
	}
	users, err := h.deps.Presence.GetOnlineUsersWithSessions(c.Request.Context(), tenantID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"tenantId": tenantID, "users": users})
}

func (h *Handler) DisconnectUser(c *gin.Context) {
	userID, err := pathInt64(c, "userId")
	if err != nil {
		fail(c, err)
		return
	}
	var req disconnectRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, err)
		return
	}
	n := h.deps.Presence.ForceDisconnectUser(c.Request.Context(), userID, req.Reason)
	ok(c, gin.H{"closed": n})
}

func (h *Handler) DisconnectSession(c *gin.Context) {
	sessionID, err := pathInt64(c, "sessionId")
	if err != nil {
		fail(c, err)
		return
	}
	var req disconnectRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, err)
		return
	}
	n := h.deps.Presence.ForceDisconnectSession(c.Request.Context(), sessionID, req.UserID, req.TenantID, req.Reason)
	ok(c, gin.H{"closed": n})
}

func (h *Handler) DisconnectTenant(c *gin.Context) {
	tenantID, err := pathInt64(c, "tenantId")
	if err != nil {
		fail(c, err)
		return
	}
	var req disconnectRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, err)
		return
	}
	n := h.deps.Presence.ForceDisconnectAllTenantUsers(c.Request.Context(), tenantID, req.ExcludeUserID, req.Reason)
	ok(c, gin.H{"closed": n})
}

func (h *Handler) SweepExpired(c *gin.Context) {
	if h.deps.Sweeper == nil {
		fail(c, errs.ErrUnavailable.WrapMsg("expiry sweeper not configured"))
		return
	}
	res, err := h.deps.Sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"expired": res.Expired, "notified": res.Notified, "closed": res.Closed})
}
