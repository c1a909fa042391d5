package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists gateway events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the gateway_events table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_events (
			id          TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			order_id    TEXT NOT NULL,
			payload     JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_gateway_events_order ON gateway_events(order_id)`)
	return err
}

// Seen reports whether an event ID was already recorded.
func (p *PostgresStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM gateway_events WHERE id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessed inserts the event, reporting ErrDuplicateEvent when the ID
// was seen before. The primary key does the dedup.
func (p *PostgresStore) MarkProcessed(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO gateway_events (id, event_type, order_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Type), event.Data.OrderID, payload, event.Timestamp,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload FROM gateway_events
		WHERE order_id = $1
		ORDER BY received_at DESC
		LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}
