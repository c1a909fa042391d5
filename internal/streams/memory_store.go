package streams

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waveform-market/waveform/internal/money"
)

// MemoryStore is an in-memory stream store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	logs    []*StreamLog
	revenue []*RevenueEntry
}

// NewMemoryStore creates a new in-memory stream store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) CreateLog(_ context.Context, log *StreamLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *log
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryStore) CountRecentByUser(_ context.Context, trackID, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.logs {
		if l.TrackID == trackID && l.UserID == userID && !l.StreamedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountRecentByIP(_ context.Context, trackID, ip string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.logs {
		if l.TrackID == trackID && l.IPAddress == ip && !l.StreamedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListLogsByTrack(_ context.Context, trackID string, limit int) ([]*StreamLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*StreamLog
	for _, l := range m.logs {
		if l.TrackID == trackID {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StreamedAt.After(result[j].StreamedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateRevenue(_ context.Context, entry *RevenueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.revenue = append(m.revenue, &cp)
	return nil
}

func (m *MemoryStore) ListRevenueByArtist(_ context.Context, artistID string, limit int) ([]*RevenueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*RevenueEntry
	for _, e := range m.revenue {
		if e.ArtistID == artistID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SumRevenueByArtist(_ context.Context, artistID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.revenue {
		if e.ArtistID != artistID {
			continue
		}
		units, err := money.Parse(e.Amount)
		if err != nil {
			return "", err
		}
		total += units
	}
	return money.Format(total), nil
}
