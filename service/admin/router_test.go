package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "PPresence/middleware/security"
	nmodel "PPresence/module/notify/model"
	"PPresence/service/expiry"
	"PPresence/service/gateway"
	"PPresence/service/notify"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const apiKey = "test-key"

type fakeNotifications struct {
	emitted  []nmodel.NewNotification
	emitErr  error
	pruned   []int
	marked   [][2]int64
	pageArgs [3]int64
}

func (f *fakeNotifications) EmitNotification(_ context.Context, in nmodel.NewNotification) (*notify.EmitResult, error) {
	if f.emitErr != nil {
		return nil, f.emitErr
	}
	f.emitted = append(f.emitted, in)
	return &notify.EmitResult{
		Notification:  nmodel.Notification{ID: 9, TenantID: in.TenantID, Type: in.Type, Title: in.Title},
		Recipients:    3,
		OnlineUserIDs: []int64{1},
	}, nil
}

func (f *fakeNotifications) GetUnreadNotifications(context.Context, int64) ([]nmodel.UserNotification, error) {
	return []nmodel.UserNotification{{Notification: nmodel.Notification{ID: 4}}}, nil
}

func (f *fakeNotifications) GetUnreadCount(context.Context, int64) (int64, error) { return 1, nil }

func (f *fakeNotifications) GetUserNotifications(_ context.Context, userID int64, page, size int) (nmodel.Page, error) {
	f.pageArgs = [3]int64{userID, int64(page), int64(size)}
	return nmodel.Page{Total: 0, Page: page, PageSize: size, Items: []nmodel.UserNotification{}}, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, userID, nid int64) (bool, error) {
	f.marked = append(f.marked, [2]int64{userID, nid})
	return nid == 4, nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, int64) (int64, error) { return 2, nil }

func (f *fakeNotifications) DeleteOldNotifications(_ context.Context, days int) (int64, error) {
	f.pruned = append(f.pruned, days)
	return 5, nil
}

type fakePresence struct {
	calls []string
	args  []int64
	err   error
}

func (f *fakePresence) GetOnlineUsers(context.Context, int64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakePresence) GetOnlineUsersWithSessions(_ context.Context, tenantID int64) ([]gateway.OnlineUser, error) {
	return []gateway.OnlineUser{{UserID: 1}}, nil
}

func (f *fakePresence) ForceDisconnectUser(_ context.Context, userID int64, reason string) int {
	f.calls = append(f.calls, "user:"+reason)
	f.args = append(f.args, userID)
	return 2
}

func (f *fakePresence) ForceDisconnectSession(_ context.Context, sid, uid, tid int64, reason string) int {
	f.calls = append(f.calls, "session:"+reason)
	f.args = append(f.args, sid, uid, tid)
	return 1
}

func (f *fakePresence) ForceDisconnectAllTenantUsers(_ context.Context, tid, exclude int64, reason string) int {
	f.calls = append(f.calls, "tenant:"+reason)
	f.args = append(f.args, tid, exclude)
	return 0
}

type fakeSweeper struct{ runs int }

func (f *fakeSweeper) SweepOnce(context.Context) (expiry.Result, error) {
	f.runs++
	return expiry.Result{Expired: 3, Notified: 2, Closed: 2}, nil
}

type fixture struct {
	router   *gin.Engine
	notes    *fakeNotifications
	presence *fakePresence
	sweeper  *fakeSweeper
}

func newFixture(health map[string]HealthCheck) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		router:   gin.New(),
		notes:    &fakeNotifications{},
		presence: &fakePresence{},
		sweeper:  &fakeSweeper{},
	}
	NewHandler(Deps{
		Notifications:       f.notes,
		Presence:            f.presence,
		Sweeper:             f.sweeper,
		Health:              health,
		RetentionMaxAgeDays: 90,
	}).Register(f.router, midsec.DefaultOptions(apiKey))
	return f
}

func (f *fixture) call(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Api-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func data(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	d, ok := out["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", out)
	return d
}

func TestAdminRequiresAPIKey(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/1/online", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	w, out := f.call(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["checks"].(map[string]any)["redis"])

	f = newFixture(map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	w, _ = f.call(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEmitNotification(t *testing.T) {
	f := newFixture(nil)
	w, out := f.call(t, http.MethodPost, "/admin/notifications", map[string]any{
		"tenantId": 7, "type": "announcement", "title": "hi", "message": "m",
		"data": map[string]any{"k": 1}, "actor": map[string]any{"id": 2, "name": "Ann"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 3, data(t, out)["recipients"])
	require.Len(t, f.notes.emitted, 1)
	require.EqualValues(t, 7, f.notes.emitted[0].TenantID)
	require.JSONEq(t, `{"k":1}`, string(f.notes.emitted[0].Data))
}

func TestEmitNotificationErrors(t *testing.T) {
	f := newFixture(nil)
	f.notes.emitErr = errs.ErrBadRequest.WrapMsg("title required")
	w, out := f.call(t, http.MethodPost, "/admin/notifications", map[string]any{"tenantId": 7})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "title required", out["detail"])

	f.notes.emitErr = errors.Wrap(errors.New("conn refused"), "insert")
	w, out = f.call(t, http.MethodPost, "/admin/notifications", map[string]any{"tenantId": 7})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, out, "detail")
}

func TestNotificationReadState(t *testing.T) {
	f := newFixture(nil)

	w, out := f.call(t, http.MethodGet, "/admin/users/5/notifications/unread", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, data(t, out)["count"])

	w, out = f.call(t, http.MethodPost, "/admin/users/5/notifications/4/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, data(t, out)["updated"])

	_, out = f.call(t, http.MethodPost, "/admin/users/5/notifications/8/read", nil)
	require.Equal(t, false, data(t, out)["updated"])
	require.Equal(t, [][2]int64{{5, 4}, {5, 8}}, f.notes.marked)

	_, out = f.call(t, http.MethodPost, "/admin/users/5/notifications/read-all", nil)
	require.EqualValues(t, 2, data(t, out)["updated"])

	w, _ = f.call(t, http.MethodGet, "/admin/users/5/notifications?page=2&pageSize=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, [3]int64{5, 2, 10}, f.notes.pageArgs)

	w, _ = f.call(t, http.MethodGet, "/admin/users/5/notifications?page=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.call(t, http.MethodGet, "/admin/users/abc/notifications", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrune(t *testing.T) {
	f := newFixture(nil)
	_, out := f.call(t, http.MethodPost, "/admin/notifications/prune", nil)
	require.EqualValues(t, 90, data(t, out)["maxAgeDays"])

	_, out = f.call(t, http.MethodPost, "/admin/notifications/prune", map[string]any{"maxAgeDays": 30})
	require.EqualValues(t, 5, data(t, out)["deleted"])
	require.Equal(t, []int{90, 30}, f.notes.pruned)

	w, _ := f.call(t, http.MethodPost, "/admin/notifications/prune", map[string]any{"maxAgeDays": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresenceQueries(t *testing.T) {
	f := newFixture(nil)
	_, out := f.call(t, http.MethodGet, "/admin/tenants/3/online", nil)
	require.Equal(t, []any{}, data(t, out)["userIds"])

	_, out = f.call(t, http.MethodGet, "/admin/tenants/3/online/sessions", nil)
	require.Len(t, data(t, out)["users"], 1)

	f.presence.err = errors.New("redis down")
	w, _ := f.call(t, http.MethodGet, "/admin/tenants/3/online", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	f.presence.err = errors.Wrap(context.DeadlineExceeded, "smembers")
	w, _ = f.call(t, http.MethodGet, "/admin/tenants/3/online", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDisconnects(t *testing.T) {
	f := newFixture(nil)

	_, out := f.call(t, http.MethodPost, "/admin/users/11/disconnect", map[string]any{"reason": "banned"})
	require.EqualValues(t, 2, data(t, out)["closed"])

	_, out = f.call(t, http.MethodPost, "/admin/sessions/21/disconnect", map[string]any{"userId": 11, "tenantId": 3})
	require.EqualValues(t, 1, data(t, out)["closed"])

	w, out := f.call(t, http.MethodPost, "/admin/tenants/3/disconnect", map[string]any{"excludeUserId": 11})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 0, data(t, out)["closed"])

	require.Equal(t, []string{"user:banned", "session:", "tenant:"}, f.presence.calls)
	require.Equal(t, []int64{11, 21, 11, 3, 3, 11}, f.presence.args)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(nil)
	_, out := f.call(t, http.MethodPost, "/admin/sessions/expired", nil)
	require.EqualValues(t, 3, data(t, out)["expired"])
	require.EqualValues(t, 2, data(t, out)["closed"])
	require.Equal(t, 1, f.sweeper.runs)
}
