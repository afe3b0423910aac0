package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	umodel "PPresence/module/user/model"
	"PPresence/tools/errs"

	"github.com/stretchr/testify/require"
)

var testOpts = DefaultOptions([]byte("test-secret"))

type fakeUsers struct {
	users   map[int64]*umodel.User
	tenants map[int64]int64
}

func (f *fakeUsers) GetUser(_ context.Context, id int64) (*umodel.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) TenantOfUser(_ context.Context, id int64) (int64, bool, error) {
	t, ok := f.tenants[id]
	return t, ok, nil
}

type fakeSessions map[int64]*umodel.LoginSession

func (f fakeSessions) GetSession(_ context.Context, id int64) (*umodel.LoginSession, error) {
	return f[id], nil
}

func newFixture() (*Authenticator, fakeSessions) {
	users := &fakeUsers{
		users: map[int64]*umodel.User{
			1: {UserID: 1, Username: "ann", Active: true},
			2: {UserID: 2, Username: "bob", Active: false},
			3: {UserID: 3, Username: "cid", Active: true},
		},
		tenants: map[int64]int64{1: 7},
	}
	now := time.Now()
	revoked := now.Add(-time.Minute)
	sessions := fakeSessions{
		10: {SessionID: 10, UserID: 1, TenantID: 7, ExpiresAt: now.Add(time.Hour)},
		11: {SessionID: 11, UserID: 1, TenantID: 7, ExpiresAt: now.Add(-time.Second)},
		12: {SessionID: 12, UserID: 1, TenantID: 7, ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked},
		13: {SessionID: 13, UserID: 3, TenantID: 7, ExpiresAt: now.Add(time.Hour)},
	}
	return NewAuthenticator(testOpts, users, sessions), sessions
}

func sign(t *testing.T, c Claims) string {
	t.Helper()
	tok, _, err := Generate(testOpts, c)
	require.NoError(t, err)
	return tok
}

func TestVerifyRoundTrip(t *testing.T) {
	tok := sign(t, Claims{UserID: 42, TenantID: 7, SessionID: 900, Roles: []string{"superadmin"}})
	c, err := Verify(testOpts, tok)
	require.NoError(t, err)
	require.EqualValues(t, 42, c.UserID)
	require.EqualValues(t, 7, c.TenantID)
	require.EqualValues(t, 900, c.SessionID)
	require.Equal(t, []string{"superadmin"}, c.Roles)
}

func TestVerifyRejects(t *testing.T) {
	tok := sign(t, Claims{UserID: 1})

	_, err := Verify(DefaultOptions([]byte("other")), tok)
	require.Error(t, err)

	old, _, err := Generate(Options{Secret: testOpts.Secret, Alg: "HS256", TTL: time.Nanosecond}, Claims{UserID: 1})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Verify(testOpts, old)
	require.Error(t, err)

	_, _, err = Generate(Options{Secret: testOpts.Secret, Alg: "RS256"}, Claims{UserID: 1})
	require.Error(t, err)
}

func TestVerifyPinsAlgorithm(t *testing.T) {
	hs512 := Options{Secret: testOpts.Secret, Alg: "HS512", TTL: time.Hour}
	tok, _, err := Generate(hs512, Claims{UserID: 1})
	require.NoError(t, err)

	_, err = Verify(Options{Secret: testOpts.Secret, Alg: "HS256"}, tok)
	require.Error(t, err)

	c, err := Verify(hs512, tok)
	require.NoError(t, err)
	require.EqualValues(t, 1, c.UserID)
}

func TestAuthenticate(t *testing.T) {
	a, _ := newFixture()
	ctx := context.Background()

	p, err := a.Authenticate(ctx, sign(t, Claims{UserID: 1, SessionID: 10, Roles: []string{"SuperAdmin"}}))
	require.NoError(t, err)
	require.EqualValues(t, 7, p.TenantID, "tenant falls back to org unit")
	require.EqualValues(t, 10, p.SessionID)
	require.True(t, p.HasRole("superadmin"))

	p, err = a.Authenticate(ctx, sign(t, Claims{UserID: 3, TenantID: 9}))
	require.NoError(t, err)
	require.EqualValues(t, 9, p.TenantID)
	require.Zero(t, p.SessionID)
	require.False(t, p.HasRole("superadmin"))
}

func TestAuthenticateRejections(t *testing.T) {
	a, _ := newFixture()
	ctx := context.Background()

	cases := map[string]struct {
		token string
		want  string
	}{
		"missing":      {"", ErrNoCredential.Msg},
		"garbage":      {"not-a-jwt", ErrBadCredential.Msg},
		"inactive":     {sign(t, Claims{UserID: 2, TenantID: 7}), ErrUserInactive.Msg},
		"unknown user": {sign(t, Claims{UserID: 99, TenantID: 7}), ErrUserInactive.Msg},
		"no tenant":    {sign(t, Claims{UserID: 3}), ErrNoTenant.Msg},
		"expired sess": {sign(t, Claims{UserID: 1, SessionID: 11}), ErrSessionInvalid.Msg},
		"revoked sess": {sign(t, Claims{UserID: 1, SessionID: 12}), ErrSessionInvalid.Msg},
		"foreign sess": {sign(t, Claims{UserID: 1, SessionID: 13}), ErrSessionInvalid.Msg},
		"missing sess": {sign(t, Claims{UserID: 1, SessionID: 14}), ErrSessionInvalid.Msg},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(ctx, tc.token)
			ce, ok := errs.As(err)
			require.True(t, ok, "got %v", err)
			require.Equal(t, tc.want, ce.Msg)
		})
	}
}

func TestExtractTokenOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	require.Equal(t, "q", ExtractToken(r, "access_token"))

	r.Header.Set("Authorization", "Bearer h")
	require.Equal(t, "h", ExtractToken(r, "access_token"))

	r.AddCookie(&http.Cookie{Name: "access_token", Value: "c"})
	require.Equal(t, "c", ExtractToken(r, "access_token"))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic zzz")
	require.Empty(t, ExtractToken(r, "access_token"))
}
