package gateway

import (
	"context"
	"time"

	"PPresence/logger"
	umodel "PPresence/module/user/model"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EmitSessionExpired pushes session-expired to every local socket of each session
// and returns how many sockets were notified. Sockets stay open. Unknown reasons
// are sent as revoked.
func (g *Gateway) EmitSessionExpired(_ context.Context, sessionIDs []int64, reason, message string) int {
	reason = umodel.NormalizeReason(reason)
	n := 0
	for _, sid := range sessionIDs {
		conns := g.reg.BySession(sid)
		if len(conns) == 0 {
			continue
		}
		frame, err := encodeFrame(EventSessionExpired, SessionExpired{SessionID: sid, Reason: reason, Message: message})
		if err != nil {
			logger.Error("[gateway] encode session-expired", zap.Error(err))
			continue
		}
		for _, c := range conns {
			if c.Send(frame) {
				n++
			}
		}
	}
	gatewayMetrics.deliveredN(EventSessionExpired, n)
	return n
}

// GetOnlineUsers returns the tenant's members in the shared presence store.
func (g *Gateway) GetOnlineUsers(ctx context.Context, tenantID int64) ([]int64, error) {
	users, err := g.deps.Presence.OnlineUsers(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: online users")
	}
	return users, nil
}

type OnlineSession struct {
	SessionID   int64      `json:"sessionId"`
	Device      DeviceInfo `json:"device"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Connections int        `json:"connections"` // on this node
}

type OnlineUser struct {
	UserID   int64           `json:"userId"`
	Sessions []OnlineSession `json:"sessions"`
}

// GetOnlineUsersWithSessions joins online users with their active login sessions.
func (g *Gateway) GetOnlineUsersWithSessions(ctx context.Context, tenantID int64) ([]OnlineUser, error) {
	users, err := g.GetOnlineUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]OnlineUser, 0, len(users))
	if len(users) == 0 {
		return out, nil
	}
	byUser := make(map[int64][]OnlineSession, len(users))
	if g.deps.Sessions != nil {
		sessions, err := g.deps.Sessions.ActiveSessionsByTenant(ctx, tenantID, users, g.now())
		if err != nil {
			return nil, errors.Wrap(err, "gateway: active sessions")
		}
		for _, s := range sessions {
			byUser[s.UserID] = append(byUser[s.UserID], OnlineSession{
				SessionID:   s.SessionID,
				Device:      ParseDevice(s.UserAgent, s.IP),
				CreatedAt:   s.CreatedAt,
				ExpiresAt:   s.ExpiresAt,
				Connections: g.reg.SessionConnCount(s.SessionID),
			})
		}
	}
	for _, uid := range users {
		ss := byUser[uid]
		if ss == nil {
			ss = []OnlineSession{}
		}
		out = append(out, OnlineUser{UserID: uid, Sessions: ss})
	}
	return out, nil
}
