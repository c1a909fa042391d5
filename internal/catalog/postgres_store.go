package catalog

import (
	"context"
	"database/sql"
)

// PostgresStore persists catalog data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the catalog tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			seller_id   TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT,
			price       NUMERIC(20,6) NOT NULL,
			currency    TEXT NOT NULL DEFAULT 'USD',
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);

		CREATE TABLE IF NOT EXISTS tracks (
			id               TEXT PRIMARY KEY,
			artist_id        TEXT NOT NULL,
			title            TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			play_count       BIGINT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist_id)`)
	return err
}

func (p *PostgresStore) CreateProduct(ctx context.Context, prod *Product) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, title, description, price, currency, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, $7, $8, $9)`,
		prod.ID, prod.SellerID, prod.Title, nullStr(prod.Description),
		prod.Price, prod.Currency, prod.Active, prod.CreatedAt, prod.UpdatedAt,
	)
	return err
}

const productColumns = `id, seller_id, title, COALESCE(description, ''), price::TEXT, currency, active, created_at, updated_at`

func (p *PostgresStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (p *PostgresStore) UpdateProduct(ctx context.Context, prod *Product) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE products SET title = $1, description = $2, price = $3::NUMERIC(20,6),
			currency = $4, active = $5, updated_at = $6
		WHERE id = $7`,
		prod.Title, nullStr(prod.Description), prod.Price,
		prod.Currency, prod.Active, prod.UpdatedAt, prod.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (p *PostgresStore) ListProductsBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, prod)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateTrack(ctx context.Context, t *Track) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tracks (id, artist_id, title, duration_seconds, play_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ArtistID, t.Title, t.DurationSeconds, t.PlayCount, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

const trackColumns = `id, artist_id, title, duration_seconds, play_count, created_at, updated_at`

func (p *PostgresStore) GetTrack(ctx context.Context, id string) (*Track, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id)
	return scanTrack(row)
}

func (p *PostgresStore) ListTracksByArtist(ctx context.Context, artistID string, limit int) ([]*Track, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+trackColumns+` FROM tracks
		WHERE artist_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, artistID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) IncrementPlayCount(ctx context.Context, trackID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE tracks SET play_count = play_count + 1, updated_at = NOW()
		WHERE id = $1`, trackID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTrackNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (*Product, error) {
	var prod Product
	err := row.Scan(
		&prod.ID, &prod.SellerID, &prod.Title, &prod.Description,
		&prod.Price, &prod.Currency, &prod.Active, &prod.CreatedAt, &prod.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prod, nil
}

func scanTrack(row scanner) (*Track, error) {
	var t Track
	err := row.Scan(
		&t.ID, &t.ArtistID, &t.Title, &t.DurationSeconds, &t.PlayCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
