// Package catalog holds the sellable inventory: products (digital goods
// with a fixed price) and tracks (streamable audio that earns per play).
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/money"
)

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrTrackNotFound   = errors.New("catalog: track not found")
	ErrInvalidPrice    = errors.New("catalog: invalid price")
	ErrMissingTitle    = errors.New("catalog: title is required")
	ErrMissingOwner    = errors.New("catalog: owner is required")
)

// Product is a purchasable digital good (album, sample pack, stems, merch code).
type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"sellerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       string    `json:"price"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Track is a streamable recording. PlayCount counts valid streams only.
type Track struct {
	ID              string    `json:"id"`
	ArtistID        string    `json:"artistId"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	PlayCount       int64     `json:"playCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists catalog data.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	ListProductsBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error)

	CreateTrack(ctx context.Context, t *Track) error
	GetTrack(ctx context.Context, id string) (*Track, error)
	ListTracksByArtist(ctx context.Context, artistID string, limit int) ([]*Track, error)
	IncrementPlayCount(ctx context.Context, trackID string) error
}

// CreateProductRequest is the payload for listing a product.
type CreateProductRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       string `json:"price" binding:"required"`
	Currency    string `json:"currency"`
}

// CreateTrackRequest is the payload for publishing a track.
type CreateTrackRequest struct {
	Title           string `json:"title" binding:"required"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Service implements catalog management.
type Service struct {
	store Store
}

// NewService creates a new catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateProduct lists a new product for sale. Price must be a positive
// decimal; currency defaults to USD.
func (s *Service) CreateProduct(ctx context.Context, sellerID string, req CreateProductRequest) (*Product, error) {
	if sellerID == "" {
		return nil, ErrMissingOwner
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, ErrMissingTitle
	}
	price, err := money.ParsePositive(req.Price)
	if err != nil {
		return nil, ErrInvalidPrice
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	product := &Product{
		ID:          idgen.WithPrefix("prd_"),
		SellerID:    sellerID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Price:       money.Format(price),
		Currency:    currency,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// GetProduct returns a product by ID.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	return s.store.GetProduct(ctx, id)
}

// SetProductActive toggles whether a product can be ordered. Only the
// owning seller may change it.
func (s *Service) SetProductActive(ctx context.Context, id, sellerID string, active bool) (*Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.SellerID != sellerID {
		return nil, errors.New("catalog: not the product owner")
	}
	if product.Active == active {
		return product, nil
	}
	product.Active = active
	product.UpdatedAt = time.Now()
	if err := s.store.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// ListProductsBySeller returns a seller's products, newest first.
func (s *Service) ListProductsBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListProductsBySeller(ctx, sellerID, limit)
}

// CreateTrack publishes a streamable track.
func (s *Service) CreateTrack(ctx context.Context, artistID string, req CreateTrackRequest) (*Track, error) {
	if artistID == "" {
		return nil, ErrMissingOwner
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, ErrMissingTitle
	}

	now := time.Now()
	track := &Track{
		ID:              idgen.WithPrefix("trk_"),
		ArtistID:        artistID,
		Title:           strings.TrimSpace(req.Title),
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateTrack(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

// GetTrack returns a track by ID.
func (s *Service) GetTrack(ctx context.Context, id string) (*Track, error) {
	return s.store.GetTrack(ctx, id)
}

// ListTracksByArtist returns an artist's tracks, newest first.
func (s *Service) ListTracksByArtist(ctx context.Context, artistID string, limit int) ([]*Track, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListTracksByArtist(ctx, artistID, limit)
}

// IncrementPlayCount bumps a track's valid-stream counter.
func (s *Service) IncrementPlayCount(ctx context.Context, trackID string) error {
	return s.store.IncrementPlayCount(ctx, trackID)
}
