package database

import (
	"context"
	"time"

	nmodel "PPresence/module/notify/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// NotificationRepo persists notifications and their per-recipient delivery records.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

const activeTenantUsersSQL = `
SELECT u.id
  FROM users u
  LEFT JOIN org_units ou ON ou.id = u.org_unit_id
 WHERE COALESCE(u.tenant_id, ou.tenant_id) = $1
   AND u.active
   AND u.deleted_at IS NULL
 ORDER BY u.id`

// CreateWithDeliveries inserts the notification and one delivery record per active
// tenant user in a single transaction, and returns the recipients.
func (r *NotificationRepo) CreateWithDeliveries(ctx context.Context, in nmodel.NewNotification, now time.Time) (nmodel.Notification, []int64, error) {
	n := nmodel.Notification{
		TenantID: in.TenantID,
		Type:     in.Type,
		Title:    in.Title,
		Message:  in.Message,
		Data:     in.Data,
		Actor:    in.Actor,
	}
	var recipients []int64

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var actorID pgtype.Int8
		var actorName pgtype.Text
		if in.Actor != nil {
			actorID = pgtype.Int8{Int64: in.Actor.ID, Valid: true}
			actorName = pgtype.Text{String: in.Actor.Name, Valid: true}
		}
		var data any
		if len(in.Data) > 0 {
			data = []byte(in.Data)
		}
		err := tx.QueryRow(ctx, `
INSERT INTO notifications (tenant_id, type, title, message, data, actor_id, actor_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at`,
			in.TenantID, in.Type, in.Title, in.Message, data, actorID, actorName, now,
		).Scan(&n.ID, &n.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert notification")
		}

		rows, err := tx.Query(ctx, activeTenantUsersSQL, in.TenantID)
		if err != nil {
			return errors.Wrap(err, "list tenant users")
		}
		recipients, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return errors.Wrap(err, "scan tenant users")
		}
		if len(recipients) == 0 {
			return nil
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"notification_deliveries"},
			[]string{"notification_id", "user_id", "read", "delivered_at"},
			pgx.CopyFromSlice(len(recipients), func(i int) ([]any, error) {
				return []any{n.ID, recipients[i], false, now}, nil
			}),
		)
		return errors.Wrap(err, "insert deliveries")
	})
	if err != nil {
		return nmodel.Notification{}, nil, err
	}
	return n, recipients, nil
}

const userNotificationCols = `
n.id, n.tenant_id, n.type, n.title, n.message, n.data, n.actor_id, n.actor_name, n.created_at,
d.read, d.delivered_at, d.read_at`

// Unread returns the user's unread notifications, newest first. limit <= 0 means all.
func (r *NotificationRepo) Unread(ctx context.Context, userID int64, limit int) ([]nmodel.UserNotification, error) {
	q := `SELECT` + userNotificationCols + `
  FROM notification_deliveries d
  JOIN notifications n ON n.id = d.notification_id
 WHERE d.user_id = $1 AND NOT d.read
 ORDER BY n.created_at DESC, n.id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query unread")
	}
	return collectUserNotifications(rows)
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM notification_deliveries WHERE user_id = $1 AND NOT read`, userID,
	).Scan(&n)
	return n, errors.Wrap(err, "count unread")
}

// List pages through the user's full history, newest first. page is 1-based.
func (r *NotificationRepo) List(ctx context.Context, userID int64, page, pageSize int) (nmodel.Page, error) {
	page, pageSize = NormPage(page, pageSize)
	out := nmodel.Page{Page: page, PageSize: pageSize, Items: []nmodel.UserNotification{}}

	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM notification_deliveries WHERE user_id = $1`, userID,
	).Scan(&out.Total); err != nil {
		return out, errors.Wrap(err, "count history")
	}
	if out.Total == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT`+userNotificationCols+`
  FROM notification_deliveries d
  JOIN notifications n ON n.id = d.notification_id
 WHERE d.user_id = $1
 ORDER BY n.created_at DESC, n.id DESC
 LIMIT $2 OFFSET $3`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return out, errors.Wrap(err, "query history")
	}
	items, err := collectUserNotifications(rows)
	if err != nil {
		return out, err
	}
	out.Items = items
	return out, nil
}

// MarkRead flips one unread record; false means unknown or already read.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID, notificationID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE notification_deliveries SET read = TRUE, read_at = $3
 WHERE user_id = $1 AND notification_id = $2 AND NOT read`, userID, notificationID, at)
	if err != nil {
		return false, errors.Wrap(err, "mark read")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE notification_deliveries SET read = TRUE, read_at = $2
 WHERE user_id = $1 AND NOT read`, userID, at)
	if err != nil {
		return 0, errors.Wrap(err, "mark all read")
	}
	return tag.RowsAffected(), nil
}

// DeleteOlderThan removes notifications created before cutoff; deliveries cascade.
func (r *NotificationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete old notifications")
	}
	return tag.RowsAffected(), nil
}

// NormPage clamps page to >= 1 and pageSize to [1, 100], defaulting to 20.
func NormPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func collectUserNotifications(rows pgx.Rows) ([]nmodel.UserNotification, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (nmodel.UserNotification, error) {
		var (
			un        nmodel.UserNotification
			data      []byte
			actorID   pgtype.Int8
			actorName pgtype.Text
			readAt    pgtype.Timestamptz
		)
		err := row.Scan(
			&un.ID, &un.TenantID, &un.Type, &un.Title, &un.Message, &data, &actorID, &actorName, &un.CreatedAt,
			&un.Read, &un.DeliveredAt, &readAt,
		)
		if err != nil {
			return un, err
		}
		if len(data) > 0 {
			un.Data = data
		}
		if actorID.Valid {
			un.Actor = &nmodel.Actor{ID: actorID.Int64, Name: actorName.String}
		}
		if readAt.Valid {
			t := readAt.Time
			un.ReadAt = &t
		}
		return un, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan notifications")
	}
	return out, nil
}
