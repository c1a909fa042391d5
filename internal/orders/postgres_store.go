package orders

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists order and dispute data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the orders and disputes tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id                TEXT PRIMARY KEY,
			buyer_id          TEXT NOT NULL,
			seller_id         TEXT NOT NULL,
			product_id        TEXT NOT NULL,
			price             NUMERIC(20,6) NOT NULL,
			currency          TEXT NOT NULL DEFAULT 'USD',
			status            TEXT NOT NULL DEFAULT 'pending_payment',
			escrow_id         TEXT NOT NULL,
			payment_reference TEXT,
			confirmed_at      TIMESTAMPTZ,
			confirmed_by      TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);
		CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders(seller_id);
		CREATE TABLE IF NOT EXISTS disputes (
			id           TEXT PRIMARY KEY,
			order_id     TEXT NOT NULL REFERENCES orders(id),
			initiated_by TEXT NOT NULL,
			reason       TEXT NOT NULL,
			description  TEXT,
			status       TEXT NOT NULL DEFAULT 'open',
			resolution   TEXT,
			winner       TEXT,
			resolved_at  TIMESTAMPTZ,
			resolved_by  TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_disputes_order ON disputes(order_id)`)
	return err
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, product_id, price, currency, status,
			escrow_id, payment_reference, confirmed_at, confirmed_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.BuyerID, o.SellerID, o.ProductID, o.Price, o.Currency,
		string(o.Status), o.EscrowID, nullStr(o.PaymentReference),
		nullTS(o.ConfirmedAt), nullStr(o.ConfirmedBy), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

const orderColumns = `id, buyer_id, seller_id, product_id, price::TEXT, currency, status,
		escrow_id, payment_reference, confirmed_at, confirmed_by, created_at, updated_at`

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, o *Order, expect Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_reference = $2, confirmed_at = $3,
			confirmed_by = $4, updated_at = $5
		WHERE id = $6 AND status = $7`,
		string(o.Status), nullStr(o.PaymentReference), nullTS(o.ConfirmedAt),
		nullStr(o.ConfirmedBy), o.UpdatedAt, o.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := p.GetOrder(ctx, o.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, order_id, initiated_by, reason, description, status,
			resolution, winner, resolved_at, resolved_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.OrderID, d.InitiatedBy, d.Reason, nullStr(d.Description),
		string(d.Status), nullStr(d.Resolution), nullStr(string(d.Winner)),
		nullTS(d.ResolvedAt), nullStr(d.ResolvedBy), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

const disputeColumns = `id, order_id, initiated_by, reason, description, status,
		resolution, winner, resolved_at, resolved_by, created_at, updated_at`

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (p *PostgresStore) GetUnresolvedDisputeByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE order_id = $1 AND status IN ('open', 'under_review')
		LIMIT 1`, orderID)
	return scanDispute(row)
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute, expect DisputeStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, winner = $3, resolved_at = $4,
			resolved_by = $5, updated_at = $6
		WHERE id = $7 AND status = $8`,
		string(d.Status), nullStr(d.Resolution), nullStr(string(d.Winner)),
		nullTS(d.ResolvedAt), nullStr(d.ResolvedBy), d.UpdatedAt,
		d.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := p.GetDispute(ctx, d.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListDisputes(ctx context.Context, status DisputeStatus, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*Order, error) {
	var o Order
	var status string
	var paymentRef, confirmedBy sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Price, &o.Currency,
		&status, &o.EscrowID, &paymentRef, &confirmedAt, &confirmedBy,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.PaymentReference = paymentRef.String
	o.ConfirmedBy = confirmedBy.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		o.ConfirmedAt = &t
	}
	return &o, nil
}

func scanDispute(row scanner) (*Dispute, error) {
	var d Dispute
	var status string
	var description, resolution, winner, resolvedBy sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.OrderID, &d.InitiatedBy, &d.Reason, &description, &status,
		&resolution, &winner, &resolvedAt, &resolvedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Status = DisputeStatus(status)
	d.Description = description.String
	d.Resolution = resolution.String
	d.Winner = Winner(winner.String)
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTS(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
