package payouts

import (
	"context"
	"sort"
	"sync"

	"github.com/waveform-market/waveform/internal/money"
)

// MemoryStore is an in-memory payout store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	payouts map[string]*Payout
}

// NewMemoryStore creates a new in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payouts: make(map[string]*Payout)}
}

func (m *MemoryStore) Create(_ context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, p *Payout, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.payouts[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expect {
		return ErrConflict
	}
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBySeller(_ context.Context, sellerID string, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Payout
	for _, p := range m.payouts {
		if p.ArtistID == sellerID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.After(result[j].RequestedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SumCompletedBySeller(_ context.Context, sellerID string) (string, error) {
	return m.sumByStatus(sellerID, StatusCompleted)
}

func (m *MemoryStore) SumPendingBySeller(_ context.Context, sellerID string) (string, error) {
	return m.sumByStatus(sellerID, StatusRequested, StatusProcessing)
}

func (m *MemoryStore) sumByStatus(sellerID string, statuses ...Status) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, p := range m.payouts {
		if p.ArtistID != sellerID {
			continue
		}
		for _, st := range statuses {
			if p.Status == st {
				units, err := money.Parse(p.Amount)
				if err != nil {
					return "", err
				}
				total += units
				break
			}
		}
	}
	return money.Format(total), nil
}
