// Package gateway is the websocket presence and delivery gateway.
package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"PPresence/logger"
	nmodel "PPresence/module/notify/model"
	umodel "PPresence/module/user/model"
	"PPresence/service/backplane"
	"PPresence/service/identity"
	"PPresence/tools/ids"
	"PPresence/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const unreadPushLimit = 50

// PresenceStore is the shared online-user record.
type PresenceStore interface {
	MarkOnline(ctx context.Context, tenantID, userID int64) (bool, error)
	MarkOffline(ctx context.Context, tenantID, userID int64) (bool, error)
	OnlineUsers(ctx context.Context, tenantID int64) ([]int64, error)
}

// Inbox is the read side of the event log plus read-state updates.
type Inbox interface {
	Unread(ctx context.Context, userID int64, limit int) ([]nmodel.UserNotification, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
}

// SessionLister lists live login sessions for presence queries.
type SessionLister interface {
	ActiveSessionsByTenant(ctx context.Context, tenantID int64, userIDs []int64, now time.Time) ([]umodel.LoginSession, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.Principal, error)
}

type Options struct {
	NodeID          string
	SuperuserRole   string
	AuthCookie      string
	SendQueueSize   int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	RevocationRelay bool
	IOTimeout       time.Duration // bound on each store/backplane call made on behalf of a socket
}

type Deps struct {
	Presence  PresenceStore
	Inbox     Inbox
	Sessions  SessionLister
	Auth      Authenticator
	Backplane backplane.Backplane
	IDs       *ids.Generator
}

const transitionStripes = 64

type Gateway struct {
	opts Options
	deps Deps
	reg  *Registry
	disp *Dispatcher
	now  func() time.Time

	// held from a user's registry crossing until its status broadcast is queued
	transitions [transitionStripes]sync.Mutex
}

func New(opts Options, deps Deps) (*Gateway, error) {
	if deps.Presence == nil || deps.Inbox == nil || deps.Backplane == nil || deps.Auth == nil {
		return nil, errors.New("gateway: presence, inbox, backplane and auth are required")
	}
	if deps.IDs == nil {
		deps.IDs = ids.NewGenerator(ids.NodeIDFromString(opts.NodeID))
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	g := &Gateway{
		opts: opts,
		deps: deps,
		reg:  NewRegistry(),
		now:  time.Now,
	}
	g.disp = newDispatcher(g)
	return g, nil
}

func (g *Gateway) Registry() *Registry { return g.reg }

func (g *Gateway) userLock(userID int64) *sync.Mutex {
	i := userID % transitionStripes
	if i < 0 {
		i = -i
	}
	return &g.transitions[i]
}

// Start subscribes to the backplane.
func (g *Gateway) Start() error {
	if err := g.deps.Backplane.Subscribe(backplane.TopicBroadcast, g.onRelayedBroadcast); err != nil {
		return errors.Wrap(err, "gateway: subscribe broadcast")
	}
	if g.opts.RevocationRelay {
		if err := g.deps.Backplane.Subscribe(backplane.TopicRevoke, g.onRelayedRevoke); err != nil {
			return errors.Wrap(err, "gateway: subscribe revoke")
		}
	}
	return nil
}

// Shutdown closes every local socket without presence bookkeeping; the store is
// cleared on the next boot.
func (g *Gateway) Shutdown() {
	for _, c := range g.reg.All() {
		c.Close()
	}
}

func (g *Gateway) ioCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), g.opts.IOTimeout)
}

// ClientMeta is what the handshake tells us about the client.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Connect registers an authenticated socket and runs the join sequence.
// The returned Conn's writer is already running.
func (g *Gateway) Connect(ctx context.Context, sock Socket, p *identity.Principal, meta ClientMeta) *Conn {
	c := newConn(sock, connOptions{
		queueSize:    g.opts.SendQueueSize,
		writeTimeout: g.opts.WriteTimeout,
		pingInterval: g.opts.PingInterval,
	})
	c.ID = strconv.FormatInt(g.deps.IDs.Next(), 10)
	c.UserID = p.UserID
	c.TenantID = p.TenantID
	c.SessionID = p.SessionID
	c.Roles = p.Roles
	c.Elevated = p.HasRole(g.opts.SuperuserRole)
	c.Device = ParseDevice(meta.UserAgent, meta.IP)
	c.Groups = []string{TenantGroup(p.TenantID)}
	if c.Elevated {
		c.Groups = append(c.Groups, ElevatedGroup)
	}
	if p.User != nil {
		c.Username = p.User.Username
		c.DisplayName = p.User.DisplayName
	}
	safe.Go("gateway.writer", c.writePump)

	mu := g.userLock(c.UserID)
	mu.Lock()
	counts, _ := g.reg.Register(c)
	if counts.UserCrossed {
		g.markOnline(ctx, c)
	}
	mu.Unlock()

	gatewayMetrics.connOpened(c.TenantID)
	logger.Info("[gateway] connected",
		zap.String("conn", c.ID), zap.Int64("user_id", c.UserID), zap.Int64("tenant_id", c.TenantID),
		zap.Int64("session_id", c.SessionID), zap.Int("user_conns", counts.UserConns))

	if counts.SessionCrossed {
		g.Broadcast(ctx, EventSessionAdded, SessionEvent{
			SessionID: c.SessionID, UserID: c.UserID, TenantID: c.TenantID, Device: c.Device,
		}, TenantGroup(c.TenantID))
	}
	g.pushUnread(ctx, c)
	return c
}

// Disconnect unregisters c and runs offline bookkeeping. Safe to call more than once.
func (g *Gateway) Disconnect(ctx context.Context, c *Conn) {
	c.Close()
	g.release(ctx, c)
}

// release unregisters c and runs offline bookkeeping; false when c was already gone.
func (g *Gateway) release(ctx context.Context, c *Conn) bool {
	mu := g.userLock(c.UserID)
	mu.Lock()
	_, counts, ok := g.reg.Unregister(c.ID)
	if ok && counts.UserCrossed {
		g.markOffline(ctx, c)
	}
	mu.Unlock()
	if !ok {
		return false
	}

	gatewayMetrics.connClosed(c.TenantID)
	logger.Info("[gateway] disconnected",
		zap.String("conn", c.ID), zap.Int64("user_id", c.UserID), zap.Int("user_conns", counts.UserConns))

	if counts.SessionCrossed {
		g.Broadcast(ctx, EventSessionRemoved, SessionEvent{
			SessionID: c.SessionID, UserID: c.UserID, TenantID: c.TenantID, Device: c.Device,
		}, TenantGroup(c.TenantID))
	}
	return true
}

// markOnline records this node's hold on the user and broadcasts only when the
// user was offline on every node. A store failure falls back to the local crossing.
func (g *Gateway) markOnline(ctx context.Context, c *Conn) {
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	crossed, err := g.deps.Presence.MarkOnline(ioCtx, c.TenantID, c.UserID)
	if err != nil {
		logger.Error("[gateway] presence online", zap.Int64("user_id", c.UserID), zap.Error(err))
		crossed = true
	}
	if !crossed {
		return
	}
	gatewayMetrics.transition(c.TenantID, true)
	g.Broadcast(ctx, EventUserStatusChanged, g.status(c, true), TenantGroup(c.TenantID), ElevatedGroup)
}

// markOffline releases this node's hold; the offline broadcast fires only once
// no node holds the user.
func (g *Gateway) markOffline(ctx context.Context, c *Conn) {
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	crossed, err := g.deps.Presence.MarkOffline(ioCtx, c.TenantID, c.UserID)
	if err != nil {
		logger.Error("[gateway] presence offline", zap.Int64("user_id", c.UserID), zap.Error(err))
		crossed = true
	}
	if !crossed {
		return
	}
	gatewayMetrics.transition(c.TenantID, false)
	g.Broadcast(ctx, EventUserStatusChanged, g.status(c, false), TenantGroup(c.TenantID), ElevatedGroup)
}

func (g *Gateway) status(c *Conn, online bool) UserStatus {
	return UserStatus{
		UserID:      c.UserID,
		TenantID:    c.TenantID,
		Online:      online,
		Username:    c.Username,
		DisplayName: c.DisplayName,
	}
}

func (g *Gateway) pushUnread(ctx context.Context, c *Conn) {
	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	items, err := g.deps.Inbox.Unread(ioCtx, c.UserID, unreadPushLimit)
	if err != nil {
		logger.Error("[gateway] load unread", zap.Int64("user_id", c.UserID), zap.Error(err))
		return
	}
	count, err := g.deps.Inbox.UnreadCount(ioCtx, c.UserID)
	if err != nil {
		logger.Error("[gateway] count unread", zap.Int64("user_id", c.UserID), zap.Error(err))
		return
	}
	if items == nil {
		items = []nmodel.UserNotification{}
	}
	g.sendTo(c, EventUnreadNotifications, UnreadBatch{Notifications: items, Count: count})
	g.sendTo(c, EventUnreadCount, UnreadCount{Count: count})
}

func (g *Gateway) sendTo(c *Conn, event string, data any) bool {
	frame, err := encodeFrame(event, data)
	if err != nil {
		logger.Error("[gateway] encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	ok := c.Send(frame)
	if ok {
		gatewayMetrics.deliveredN(event, 1)
	}
	return ok
}

// Broadcast delivers to local members of groups, then relays to other nodes.
// It returns the number of local sockets the frame was queued to.
func (g *Gateway) Broadcast(ctx context.Context, event string, data any, groups ...string) int {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Error("[gateway] encode broadcast", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := g.deliverLocal(event, raw, groups)

	ioCtx, cancel := g.ioCtx(ctx)
	defer cancel()
	err = g.deps.Backplane.Publish(ioCtx, backplane.TopicBroadcast, backplane.Envelope{
		Groups: groups,
		Event:  event,
		Data:   raw,
	})
	if err != nil {
		logger.Warn("[gateway] backplane publish failed", zap.String("event", event), zap.Error(err))
	}
	return n
}

func (g *Gateway) deliverLocal(event string, raw json.RawMessage, groups []string) int {
	frame, err := encodeRaw(event, raw)
	if err != nil {
		logger.Error("[gateway] encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range g.reg.InGroups(groups...) {
		if c.Send(frame) {
			n++
		}
	}
	gatewayMetrics.deliveredN(event, n)
	return n
}

func (g *Gateway) onRelayedBroadcast(_ context.Context, env backplane.Envelope) {
	gatewayMetrics.relay(backplane.TopicBroadcast)
	g.deliverLocal(env.Event, env.Data, env.Groups)
}
