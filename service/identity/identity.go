// Package identity validates connection credentials against the identity service's data.
package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	umodel "PPresence/module/user/model"
	"PPresence/tools/errs"

	"github.com/pkg/errors"
)

var (
	ErrNoCredential   = errs.NewCodeError(errs.UnauthorizedError, "credential missing")
	ErrBadCredential  = errs.NewCodeError(errs.UnauthorizedError, "credential invalid")
	ErrUserInactive   = errs.NewCodeError(errs.UnauthorizedError, "user inactive")
	ErrNoTenant       = errs.NewCodeError(errs.ForbiddenError, "tenant unresolved")
	ErrSessionInvalid = errs.NewCodeError(errs.UnauthorizedError, "login session invalid")
)

// UserLookup is the user table as the gateway sees it.
type UserLookup interface {
	GetUser(ctx context.Context, userID int64) (*umodel.User, error)
	TenantOfUser(ctx context.Context, userID int64) (int64, bool, error)
}

type SessionLookup interface {
	GetSession(ctx context.Context, sessionID int64) (*umodel.LoginSession, error)
}

// Principal is an authenticated connection owner.
type Principal struct {
	UserID    int64
	TenantID  int64
	SessionID int64 // 0 when the credential carries none
	Roles     []string
	User      *umodel.User
}

func (p *Principal) HasRole(role string) bool {
	if p == nil || role == "" {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type Authenticator struct {
	opts     Options
	users    UserLookup
	sessions SessionLookup
	now      func() time.Time
}

func NewAuthenticator(opts Options, users UserLookup, sessions SessionLookup) *Authenticator {
	return &Authenticator{opts: opts, users: users, sessions: sessions, now: time.Now}
}

// Authenticate verifies the token, the user's liveness, the tenant and the login session.
// Every rejection is a *errs.CodeError; lookup failures are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrNoCredential.Wrap()
	}
	claims, err := Verify(a.opts, token)
	if err != nil {
		return nil, ErrBadCredential.WrapMsg(err.Error())
	}

	u, err := a.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "identity: load user")
	}
	if !u.Alive() {
		return nil, ErrUserInactive.Wrap()
	}

	tenant := claims.TenantID
	if tenant == 0 {
		t, ok, err := a.users.TenantOfUser(ctx, claims.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "identity: tenant fallback")
		}
		if !ok || t == 0 {
			return nil, ErrNoTenant.Wrap()
		}
		tenant = t
	}

	if claims.SessionID != 0 {
		s, err := a.sessions.GetSession(ctx, claims.SessionID)
		if err != nil {
			return nil, errors.Wrap(err, "identity: load session")
		}
		if !s.BelongsTo(claims.UserID) || !s.ValidAt(a.now()) {
			return nil, ErrSessionInvalid.Wrap()
		}
	}

	return &Principal{
		UserID:    claims.UserID,
		TenantID:  tenant,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
		User:      u,
	}, nil
}

// ExtractToken looks in the cookie, then `Authorization: Bearer`, then the `token` query parameter.
func ExtractToken(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			if t := strings.TrimSpace(authz[len("bearer "):]); t != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
