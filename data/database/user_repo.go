package database

import (
	"context"
	"time"

	umodel "PPresence/module/user/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// UserRepo is a read-only view of the identity service's users and org units.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo { return &UserRepo{pool: pool} }

// GetUser returns nil, nil when the user does not exist.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (*umodel.User, error) {
	var (
		u         umodel.User
		orgUnit   pgtype.Int8
		deletedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, org_unit_id, username, display_name, active, deleted_at FROM users WHERE id = $1`, userID,
	).Scan(&u.UserID, &orgUnit, &u.Username, &u.DisplayName, &u.Active, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if orgUnit.Valid {
		id := orgUnit.Int64
		u.OrgUnitID = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

// TenantOfUser resolves the tenant through the user's org unit; ok is false when
// the user has no org unit.
func (r *UserRepo) TenantOfUser(ctx context.Context, userID int64) (int64, bool, error) {
	var tenant pgtype.Int8
	err := r.pool.QueryRow(ctx, `
SELECT ou.tenant_id
  FROM users u
  JOIN org_units ou ON ou.id = u.org_unit_id
 WHERE u.id = $1`, userID).Scan(&tenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "tenant of user")
	}
	return tenant.Int64, tenant.Valid, nil
}

func (r *UserRepo) ActiveTenantUserIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, activeTenantUsersSQL, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list tenant users")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return ids, errors.Wrap(err, "scan tenant users")
}

// SessionRepo reads login sessions and updates their validity.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo { return &SessionRepo{pool: pool} }

const sessionCols = `id, user_id, tenant_id, user_agent, ip, created_at, last_seen_at, expires_at, revoked_at, revoke_reason`

// GetSession returns nil, nil when the session does not exist.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID int64) (*umodel.LoginSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionCols+` FROM login_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	s, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan session")
	}
	return &s, nil
}

// ExpiredSessions lists sessions not yet revoked whose expiry is at or before now.
func (r *SessionRepo) ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]umodel.LoginSession, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+sessionCols+`
  FROM login_sessions
 WHERE revoked_at IS NULL AND expires_at <= $1
 ORDER BY expires_at
 LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired sessions")
	}
	out, err := pgx.CollectRows(rows, scanSession)
	return out, errors.Wrap(err, "scan sessions")
}

// InvalidateSessions marks the sessions revoked with reason; already revoked rows are left alone.
func (r *SessionRepo) InvalidateSessions(ctx context.Context, ids []int64, reason string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE login_sessions SET revoked_at = $2, revoke_reason = $3
 WHERE id = ANY($1) AND revoked_at IS NULL`, ids, at, reason)
	if err != nil {
		return 0, errors.Wrap(err, "invalidate sessions")
	}
	return tag.RowsAffected(), nil
}

// ActiveSessionsByTenant lists live sessions of the tenant, restricted to userIDs when non-empty.
func (r *SessionRepo) ActiveSessionsByTenant(ctx context.Context, tenantID int64, userIDs []int64, now time.Time) ([]umodel.LoginSession, error) {
	q := `SELECT ` + sessionCols + `
  FROM login_sessions
 WHERE tenant_id = $1 AND revoked_at IS NULL AND expires_at > $2`
	args := []any{tenantID, now}
	if len(userIDs) > 0 {
		q += ` AND user_id = ANY($3)`
		args = append(args, userIDs)
	}
	q += ` ORDER BY user_id, created_at`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tenant sessions")
	}
	out, err := pgx.CollectRows(rows, scanSession)
	return out, errors.Wrap(err, "scan sessions")
}

func scanSession(row pgx.CollectableRow) (umodel.LoginSession, error) {
	var (
		s        umodel.LoginSession
		lastSeen pgtype.Timestamptz
		revoked  pgtype.Timestamptz
		reason   pgtype.Text
	)
	err := row.Scan(&s.SessionID, &s.UserID, &s.TenantID, &s.UserAgent, &s.IP, &s.CreatedAt,
		&lastSeen, &s.ExpiresAt, &revoked, &reason)
	if err != nil {
		return s, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		s.LastSeenAt = &t
	}
	if revoked.Valid {
		t := revoked.Time
		s.RevokedAt = &t
	}
	s.RevokeReason = reason.String
	return s, nil
}
