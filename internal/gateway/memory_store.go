package gateway

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory event store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (m *MemoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; ok {
		return ErrDuplicateEvent
	}
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByOrder(_ context.Context, orderID string, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Event
	for _, e := range m.events {
		if e.Data.OrderID == orderID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
