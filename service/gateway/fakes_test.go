package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	nmodel "PPresence/module/notify/model"
	umodel "PPresence/module/user/model"
	"PPresence/service/backplane"
	"PPresence/service/identity"
	"PPresence/service/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var errSocketClosed = errors.New("socket closed")

// fakeSocket records what the writer sends and feeds client frames to the reader.
type fakeSocket struct {
	mu       sync.Mutex
	frames   []Frame
	closeMsg bool
	closed   bool

	in      chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 16), closeCh: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-s.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, b, nil
	case <-s.closeCh:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(mt int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	switch mt {
	case websocket.TextMessage:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		s.frames = append(s.frames, f)
	case websocket.CloseMessage:
		s.closeMsg = true
	}
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closeCh)
	})
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) events(names ...string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if len(names) == 0 {
			out = append(out, f)
			continue
		}
		for _, n := range names {
			if f.Event == n {
				out = append(out, f)
			}
		}
	}
	return out
}

func (s *fakeSocket) count(event string) int { return len(s.events(event)) }

func statusFrames(s *fakeSocket, userID int64, online bool) int {
	n := 0
	for _, f := range s.events(EventUserStatusChanged) {
		var st UserStatus
		_ = json.Unmarshal(f.Data, &st)
		if st.UserID == userID && st.Online == online {
			n++
		}
	}
	return n
}

// statusSequence lists userID's status frames in arrival order.
func statusSequence(s *fakeSocket, userID int64) []bool {
	var out []bool
	for _, f := range s.events(EventUserStatusChanged) {
		var st UserStatus
		_ = json.Unmarshal(f.Data, &st)
		if st.UserID == userID {
			out = append(out, st.Online)
		}
	}
	return out
}

// fakeInbox keeps delivery records in memory.
type fakeInbox struct {
	mu    sync.Mutex
	items map[int64][]nmodel.UserNotification
}

func newFakeInbox() *fakeInbox { return &fakeInbox{items: map[int64][]nmodel.UserNotification{}} }

func (f *fakeInbox) add(userID int64, n nmodel.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[userID] = append(f.items[userID], nmodel.UserNotification{Notification: n, DeliveredAt: time.Now()})
}

func (f *fakeInbox) Unread(_ context.Context, userID int64, limit int) ([]nmodel.UserNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []nmodel.UserNotification
	for _, it := range f.items[userID] {
		if !it.Read {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeInbox) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	items, _ := f.Unread(ctx, userID, 0)
	return int64(len(items)), nil
}

func (f *fakeInbox) MarkRead(_ context.Context, userID, nid int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items[userID] {
		it := &f.items[userID][i]
		if it.ID == nid && !it.Read {
			it.Read, it.ReadAt = true, &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInbox) MarkAllRead(_ context.Context, userID int64, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.items[userID] {
		it := &f.items[userID][i]
		if !it.Read {
			it.Read, it.ReadAt = true, &at
			n++
		}
	}
	return n, nil
}

type fakeSessions []umodel.LoginSession

func (f fakeSessions) ActiveSessionsByTenant(_ context.Context, tenantID int64, userIDs []int64, _ time.Time) ([]umodel.LoginSession, error) {
	want := map[int64]bool{}
	for _, u := range userIDs {
		want[u] = true
	}
	var out []umodel.LoginSession
	for _, s := range f {
		if s.TenantID == tenantID && want[s.UserID] {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAuth map[string]*identity.Principal

func (f fakeAuth) Authenticate(_ context.Context, token string) (*identity.Principal, error) {
	if p, ok := f[token]; ok {
		return p, nil
	}
	return nil, identity.ErrBadCredential.Wrap()
}

type harness struct {
	gw       *Gateway
	presence *storage.PresenceStore
	inbox    *fakeInbox
	mr       *miniredis.Miniredis
}

type harnessOpt func(*Options, *Deps)

func withRelay() harnessOpt {
	return func(o *Options, _ *Deps) { o.RevocationRelay = true }
}

func withSessions(s fakeSessions) harnessOpt {
	return func(_ *Options, d *Deps) { d.Sessions = s }
}

// brokenPresence fails every call, like an unreachable Redis.
type brokenPresence struct{}

var errPresenceDown = errors.New("presence store down")

func (brokenPresence) MarkOnline(context.Context, int64, int64) (bool, error) {
	return false, errPresenceDown
}

func (brokenPresence) MarkOffline(context.Context, int64, int64) (bool, error) {
	return false, errPresenceDown
}

func (brokenPresence) OnlineUsers(context.Context, int64) ([]int64, error) {
	return nil, errPresenceDown
}

func withBrokenPresence() harnessOpt {
	return func(_ *Options, d *Deps) { d.Presence = brokenPresence{} }
}

func withQueue(n int) harnessOpt {
	return func(o *Options, _ *Deps) { o.SendQueueSize = n }
}

func withAuth(a fakeAuth) harnessOpt {
	return func(_ *Options, d *Deps) { d.Auth = a }
}

// newHarness builds a gateway node. Nodes sharing bus and mr form one cluster.
func newHarness(t *testing.T, node string, bus *backplane.LocalBus, mr *miniredis.Miniredis, opts ...harnessOpt) *harness {
	t.Helper()
	if mr == nil {
		mr = miniredis.RunT(t)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	o := Options{NodeID: node, SuperuserRole: "superadmin", AuthCookie: "access_token", SendQueueSize: 64}
	h := &harness{presence: storage.NewPresenceStore(rdb), inbox: newFakeInbox(), mr: mr}
	d := Deps{Presence: h.presence, Inbox: h.inbox, Backplane: backplane.NewLocal(bus, node), Auth: fakeAuth{}}
	for _, fn := range opts {
		fn(&o, &d)
	}
	gw, err := New(o, d)
	require.NoError(t, err)
	require.NoError(t, gw.Start())
	t.Cleanup(gw.Shutdown)
	h.gw = gw
	return h
}

func (h *harness) connect(userID, tenantID, sessionID int64, roles ...string) (*Conn, *fakeSocket) {
	sock := newFakeSocket()
	c := h.gw.Connect(context.Background(), sock, principal(userID, tenantID, sessionID, roles...), ClientMeta{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		IP:        "10.0.0.1",
	})
	return c, sock
}

// settle waits until every socket's writer has flushed what is queued so far.
func settle(t *testing.T, conns ...*Conn) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range conns {
			if len(c.send) > 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
}

func principal(userID, tenantID, sessionID int64, roles ...string) *identity.Principal {
	return &identity.Principal{
		UserID: userID, TenantID: tenantID, SessionID: sessionID, Roles: roles,
		User: &umodel.User{UserID: userID, Username: "u", Active: true},
	}
}
