package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the escrows table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escrows (
			id            TEXT PRIMARY KEY,
			order_id      TEXT NOT NULL UNIQUE,
			buyer_id      TEXT NOT NULL,
			seller_id     TEXT NOT NULL,
			amount        NUMERIC(20,6) NOT NULL,
			currency      TEXT NOT NULL DEFAULT 'USD',
			status        TEXT NOT NULL DEFAULT 'held',
			released_at   TIMESTAMPTZ,
			refunded_at   TIMESTAMPTZ,
			refund_reason TEXT,
			disputed_at   TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_escrows_seller_status ON escrows(seller_id, status)`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, order_id, buyer_id, seller_id, amount, currency,
			status, released_at, refunded_at, refund_reason, disputed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.OrderID, e.BuyerID, e.SellerID, e.Amount, e.Currency,
		string(e.Status), nullTime(e.ReleasedAt), nullTime(e.RefundedAt),
		nullString(e.RefundReason), nullTime(e.DisputedAt),
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

const escrowColumns = `id, order_id, buyer_id, seller_id, amount::TEXT, currency,
		status, released_at, refunded_at, refund_reason, disputed_at,
		created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID)
	return scanEscrow(row)
}

// Update writes the record only if the stored status still matches expect.
// Zero rows affected means another writer got there first (or the row is gone).
func (p *PostgresStore) Update(ctx context.Context, e *Escrow, expect Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $1, released_at = $2, refunded_at = $3,
			refund_reason = $4, disputed_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8`,
		string(e.Status), nullTime(e.ReleasedAt), nullTime(e.RefundedAt),
		nullString(e.RefundReason), nullTime(e.DisputedAt), e.UpdatedAt,
		e.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := p.Get(ctx, e.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM escrows WHERE id = $1 AND status = 'held'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumReleasedBySeller(ctx context.Context, sellerID string) (string, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM escrows
		WHERE seller_id = $1 AND status = 'released'`, sellerID).Scan(&total)
	if err != nil {
		return "", err
	}
	return total, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(row scanner) (*Escrow, error) {
	var e Escrow
	var status string
	var releasedAt, refundedAt, disputedAt sql.NullTime
	var refundReason sql.NullString

	err := row.Scan(
		&e.ID, &e.OrderID, &e.BuyerID, &e.SellerID, &e.Amount, &e.Currency,
		&status, &releasedAt, &refundedAt, &refundReason, &disputedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.ReleasedAt = timePtr(releasedAt)
	e.RefundedAt = timePtr(refundedAt)
	e.DisputedAt = timePtr(disputedAt)
	if refundReason.Valid {
		e.RefundReason = refundReason.String
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
