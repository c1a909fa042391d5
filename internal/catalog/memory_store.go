package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory catalog store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	tracks   map[string]*Track
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*Product),
		tracks:   make(map[string]*Track),
	}
}

func (m *MemoryStore) CreateProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdateProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListProductsBySeller(_ context.Context, sellerID string, limit int) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Product
	for _, p := range m.products {
		if p.SellerID == sellerID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateTrack(_ context.Context, t *Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tracks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrack(_ context.Context, id string) (*Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil, ErrTrackNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTracksByArtist(_ context.Context, artistID string, limit int) ([]*Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Track
	for _, t := range m.tracks {
		if t.ArtistID == artistID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) IncrementPlayCount(_ context.Context, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[trackID]
	if !ok {
		return ErrTrackNotFound
	}
	t.PlayCount++
	return nil
}
