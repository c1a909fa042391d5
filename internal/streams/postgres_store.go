package streams

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists stream data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed stream store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the stream tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stream_logs (
			id               TEXT PRIMARY KEY,
			track_id         TEXT NOT NULL,
			user_id          TEXT,
			ip_address       TEXT,
			duration_seconds INTEGER NOT NULL,
			is_valid         BOOLEAN NOT NULL,
			invalid_reason   TEXT,
			streamed_at      TIMESTAMPTZ NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_stream_logs_track_user ON stream_logs(track_id, user_id, streamed_at);
		CREATE INDEX IF NOT EXISTS idx_stream_logs_track_ip ON stream_logs(track_id, ip_address, streamed_at);

		CREATE TABLE IF NOT EXISTS revenue_entries (
			id          TEXT PRIMARY KEY,
			artist_id   TEXT NOT NULL,
			track_id    TEXT,
			source      TEXT NOT NULL,
			amount      NUMERIC(20,6) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_revenue_artist ON revenue_entries(artist_id, occurred_at)`)
	return err
}

func (p *PostgresStore) CreateLog(ctx context.Context, log *StreamLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO stream_logs (id, track_id, user_id, ip_address, duration_seconds,
			is_valid, invalid_reason, streamed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.TrackID, nullStr(log.UserID), nullStr(log.IPAddress),
		log.DurationSeconds, log.IsValid, nullStr(log.InvalidReason),
		log.StreamedAt, log.CreatedAt,
	)
	return err
}

func (p *PostgresStore) CountRecentByUser(ctx context.Context, trackID, userID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stream_logs
		WHERE track_id = $1 AND user_id = $2 AND streamed_at >= $3`,
		trackID, userID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountRecentByIP(ctx context.Context, trackID, ip string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stream_logs
		WHERE track_id = $1 AND ip_address = $2 AND streamed_at >= $3`,
		trackID, ip, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListLogsByTrack(ctx context.Context, trackID string, limit int) ([]*StreamLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, track_id, COALESCE(user_id, ''), COALESCE(ip_address, ''),
			duration_seconds, is_valid, COALESCE(invalid_reason, ''), streamed_at, created_at
		FROM stream_logs
		WHERE track_id = $1
		ORDER BY streamed_at DESC
		LIMIT $2`, trackID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*StreamLog
	for rows.Next() {
		var l StreamLog
		if err := rows.Scan(&l.ID, &l.TrackID, &l.UserID, &l.IPAddress,
			&l.DurationSeconds, &l.IsValid, &l.InvalidReason, &l.StreamedAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &l)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateRevenue(ctx context.Context, entry *RevenueEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO revenue_entries (id, artist_id, track_id, source, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6)`,
		entry.ID, entry.ArtistID, nullStr(entry.TrackID), string(entry.Source),
		entry.Amount, entry.OccurredAt,
	)
	return err
}

func (p *PostgresStore) ListRevenueByArtist(ctx context.Context, artistID string, limit int) ([]*RevenueEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, artist_id, COALESCE(track_id, ''), source, amount::TEXT, occurred_at
		FROM revenue_entries
		WHERE artist_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, artistID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*RevenueEntry
	for rows.Next() {
		var e RevenueEntry
		var source string
		if err := rows.Scan(&e.ID, &e.ArtistID, &e.TrackID, &source, &e.Amount, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Source = RevenueSource(source)
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumRevenueByArtist(ctx context.Context, artistID string) (string, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)::TEXT FROM revenue_entries
		WHERE artist_id = $1`, artistID).Scan(&total)
	if err != nil {
		return "", err
	}
	return total, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
