package escrow

import (
	"context"
	"sync"

	"github.com/waveform-market/waveform/internal/money"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows map[string]*Escrow
	byOrder map[string]string // orderID -> escrowID
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		byOrder: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, esc *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.escrows[esc.ID] = esc
	m.byOrder[esc.OrderID] = esc.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	esc, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent races on the shared pointer.
	cp := *esc
	return &cp, nil
}

func (m *MemoryStore) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, esc *Escrow, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.escrows[esc.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expect {
		return ErrConflict
	}
	cp := *esc
	m.escrows[esc.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	esc, ok := m.escrows[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byOrder, esc.OrderID)
	delete(m.escrows, id)
	return nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.SellerID == sellerID {
			cp := *e
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) SumReleasedBySeller(ctx context.Context, sellerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.escrows {
		if e.SellerID == sellerID && e.Status == StatusReleased {
			units, err := money.Parse(e.Amount)
			if err != nil {
				return "", err
			}
			total += units
		}
	}
	return money.Format(total), nil
}
