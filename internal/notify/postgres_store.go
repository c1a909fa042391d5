package notify

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/waveform-market/waveform/internal/pagination"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the notification tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			related_id TEXT,
			read       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

		CREATE TABLE IF NOT EXISTS notify_subscriptions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			url          TEXT NOT NULL,
			secret       TEXT,
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_success TIMESTAMPTZ,
			last_error   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_notify_subscriptions_user ON notify_subscriptions(user_id)`)
	return err
}

func (p *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, related_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Title, n.Message, nullStr(n.RelatedID), n.Read, n.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Notification, error) {
	query := `
		SELECT id, user_id, title, message, COALESCE(related_id, ''), read, created_at
		FROM notifications
		WHERE user_id = $1`
	args := []interface{}{userID}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message,
			&n.RelatedID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, userID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (p *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notify_subscriptions (id, user_id, url, secret, active, created_at, last_success, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, sub.URL, nullStr(sub.Secret), sub.Active,
		sub.CreatedAt, nullTime(sub.LastSuccess), nullStr(sub.LastError),
	)
	return err
}

const subscriptionColumns = `id, user_id, url, COALESCE(secret, ''), active,
		created_at, last_success, COALESCE(last_error, '')`

func (p *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM notify_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (p *PostgresStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM notify_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notify_subscriptions SET url = $1, secret = $2, active = $3,
			last_success = $4, last_error = $5
		WHERE id = $6`,
		sub.URL, nullStr(sub.Secret), sub.Active,
		nullTime(sub.LastSuccess), nullStr(sub.LastError), sub.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM notify_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var sub Subscription
	var lastSuccess sql.NullTime

	err := row.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, &sub.Active,
		&sub.CreatedAt, &lastSuccess, &sub.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		t := lastSuccess.Time
		sub.LastSuccess = &t
	}
	return &sub, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
