package gateway

import (
	"context"
	"encoding/json"

	"PPresence/logger"
	umodel "PPresence/module/user/model"
	"PPresence/service/backplane"

	"go.uber.org/zap"
)

const (
	revokeUser    = "user"
	revokeSession = "session"
	revokeTenant  = "tenant"
)

// revokeRequest travels on the revoke topic when REVOCATION_RELAY is on.
type revokeRequest struct {
	Kind          string `json:"kind"`
	UserID        int64  `json:"userId,omitempty"`
	SessionID     int64  `json:"sessionId,omitempty"`
	TenantID      int64  `json:"tenantId,omitempty"`
	ExcludeUserID int64  `json:"excludeUserId,omitempty"`
	Reason        string `json:"reason"`
}

// ForceDisconnectUser closes every local connection of userID and returns how many were closed.
func (g *Gateway) ForceDisconnectUser(ctx context.Context, userID int64, reason string) int {
	req := revokeRequest{Kind: revokeUser, UserID: userID, Reason: reasonOr(reason)}
	g.relayRevoke(ctx, req)
	return g.applyRevoke(ctx, req)
}

// ForceDisconnectSession closes the local connections of one login session.
// userID and tenantID, when non-zero, must match the connection as well.
func (g *Gateway) ForceDisconnectSession(ctx context.Context, sessionID, userID, tenantID int64, reason string) int {
	req := revokeRequest{Kind: revokeSession, SessionID: sessionID, UserID: userID, TenantID: tenantID, Reason: reasonOr(reason)}
	g.relayRevoke(ctx, req)
	return g.applyRevoke(ctx, req)
}

// ForceDisconnectAllTenantUsers closes every local connection in the tenant group except excludeUserID's.
func (g *Gateway) ForceDisconnectAllTenantUsers(ctx context.Context, tenantID, excludeUserID int64, reason string) int {
	req := revokeRequest{Kind: revokeTenant, TenantID: tenantID, ExcludeUserID: excludeUserID, Reason: reasonOr(reason)}
	g.relayRevoke(ctx, req)
	return g.applyRevoke(ctx, req)
}

func reasonOr(reason string) string {
	if reason == "" {
		return umodel.ReasonRevoked
	}
	return reason
}

func (g *Gateway) targets(req revokeRequest) []*Conn {
	switch req.Kind {
	case revokeUser:
		return g.reg.ByUser(req.UserID)
	case revokeSession:
		var out []*Conn
		for _, c := range g.reg.BySession(req.SessionID) {
			if req.UserID != 0 && c.UserID != req.UserID {
				continue
			}
			if req.TenantID != 0 && c.TenantID != req.TenantID {
				continue
			}
			out = append(out, c)
		}
		return out
	case revokeTenant:
		var out []*Conn
		for _, c := range g.reg.ByTenant(req.TenantID) {
			if c.UserID == req.ExcludeUserID {
				continue
			}
			out = append(out, c)
		}
		return out
	}
	return nil
}

// applyRevoke kicks each target with a terminal frame, then runs the normal
// disconnect bookkeeping so offline broadcasts fire once per user.
func (g *Gateway) applyRevoke(ctx context.Context, req revokeRequest) int {
	conns := g.targets(req)
	if len(conns) == 0 {
		return 0
	}
	frame, err := encodeFrame(EventForceDisconnect, ForceDisconnect{Reason: req.Reason})
	if err != nil {
		logger.Error("[gateway] encode force-disconnect", zap.Error(err))
		return 0
	}
	closed := 0
	for _, c := range conns {
		c.Kick(frame)
		if g.release(ctx, c) {
			closed++
		}
	}
	gatewayMetrics.revokedN(req.Kind, closed)
	logger.Info("[gateway] revoked connections",
		zap.String("kind", req.Kind), zap.Int64("user_id", req.UserID), zap.Int64("session_id", req.SessionID),
		zap.Int64("tenant_id", req.TenantID), zap.Int("closed", closed))
	return closed
}

func (g *Gateway) relayRevoke(ctx context.Context, req revokeRequest) {
	if !g.opts.RevocationRelay {
		return
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return
	}
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	if err := g.deps.Backplane.Publish(ioCtx, backplane.TopicRevoke, backplane.Envelope{Event: req.Kind, Data: raw}); err != nil {
		logger.Warn("[gateway] relay revoke failed", zap.String("kind", req.Kind), zap.Error(err))
	}
}

func (g *Gateway) onRelayedRevoke(ctx context.Context, env backplane.Envelope) {
	gatewayMetrics.relay(backplane.TopicRevoke)
	var req revokeRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		logger.Warn("[gateway] bad revoke envelope", zap.String("origin", env.Origin), zap.Error(err))
		return
	}
	g.applyRevoke(ctx, req)
}
