package payouts

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists payout data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payouts table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payouts (
			id             TEXT PRIMARY KEY,
			artist_id      TEXT NOT NULL,
			amount         NUMERIC(20,6) NOT NULL,
			currency       TEXT NOT NULL DEFAULT 'USD',
			status         TEXT NOT NULL DEFAULT 'requested',
			bank_account   TEXT NOT NULL,
			failure_reason TEXT,
			requested_at   TIMESTAMPTZ NOT NULL,
			processed_at   TIMESTAMPTZ,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_artist_status ON payouts(artist_id, status)`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, payout *Payout) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payouts (id, artist_id, amount, currency, status, bank_account,
			failure_reason, requested_at, processed_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $4, $5, $6, $7, $8, $9, $10)`,
		payout.ID, payout.ArtistID, payout.Amount, payout.Currency,
		string(payout.Status), payout.BankAccount, nullStr(payout.FailureReason),
		payout.RequestedAt, nullTime(payout.ProcessedAt), payout.UpdatedAt,
	)
	return err
}

const payoutColumns = `id, artist_id, amount::TEXT, currency, status, bank_account,
		COALESCE(failure_reason, ''), requested_at, processed_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	return scanPayout(row)
}

// Update writes the record only if the stored status still matches expect.
func (p *PostgresStore) Update(ctx context.Context, payout *Payout, expect Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET status = $1, failure_reason = $2, processed_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(payout.Status), nullStr(payout.FailureReason),
		nullTime(payout.ProcessedAt), payout.UpdatedAt,
		payout.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := p.Get(ctx, payout.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE artist_id = $1
		ORDER BY requested_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, payout)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumCompletedBySeller(ctx context.Context, sellerID string) (string, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM payouts
		WHERE artist_id = $1 AND status = 'completed'`, sellerID).Scan(&total)
	if err != nil {
		return "", err
	}
	return total, nil
}

func (p *PostgresStore) SumPendingBySeller(ctx context.Context, sellerID string) (string, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM payouts
		WHERE artist_id = $1 AND status IN ('requested', 'processing')`, sellerID).Scan(&total)
	if err != nil {
		return "", err
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row scanner) (*Payout, error) {
	var p Payout
	var status string
	var processedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.ArtistID, &p.Amount, &p.Currency, &status, &p.BankAccount,
		&p.FailureReason, &p.RequestedAt, &processedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Status = Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		p.ProcessedAt = &t
	}
	return &p, nil
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
