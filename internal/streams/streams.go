// Package streams validates and records playback events and converts the
// valid ones into artist revenue.
//
// Flow:
//  1. Client reports a play → duration gate (30s minimum)
//  2. Validity check → sliding 5-minute window per (track, identity)
//  3. Valid → revenue entry at the per-stream rate, play counter bump
//  4. Invalid → the log is still persisted for fraud analytics, earns nothing
package streams

import (
	"context"
	"errors"
	"time"

	"github.com/waveform-market/waveform/internal/catalog"
)

var (
	ErrStreamTooShort = errors.New("streams: duration below the 30 second minimum")
	ErrTrackNotFound  = errors.New("streams: track not found")
	ErrInvalidSource  = errors.New("streams: invalid revenue source")
	ErrInvalidAmount  = errors.New("streams: invalid revenue amount")
)

const (
	// MinDuration is the platform's definition of a real play.
	MinDuration = 30 * time.Second

	// Window is the trailing interval the replay throttle looks at.
	Window = 5 * time.Minute

	// MaxPerUser is the valid-stream ceiling per user per track per window.
	MaxPerUser = 5

	// MaxPerIP is the valid-stream ceiling per IP per track per window.
	// Higher than the user ceiling: one NAT address can front many listeners.
	MaxPerIP = 10
)

// StreamLog is one recorded playback event. IsValid is computed once at
// creation and never changes afterward.
type StreamLog struct {
	ID              string    `json:"id"`
	TrackID         string    `json:"trackId"`
	UserID          string    `json:"userId,omitempty"`
	IPAddress       string    `json:"ipAddress,omitempty"`
	DurationSeconds int       `json:"durationSeconds"`
	IsValid         bool      `json:"isValid"`
	InvalidReason   string    `json:"invalidReason,omitempty"`
	StreamedAt      time.Time `json:"streamedAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RevenueSource identifies what kind of activity earned the amount.
type RevenueSource string

const (
	SourceStreams       RevenueSource = "streams"
	SourceAdClicks      RevenueSource = "ad_clicks"
	SourceSubscriptions RevenueSource = "subscriptions"
	SourceBoosts        RevenueSource = "boosts"
)

// ValidSource reports whether s is a known revenue source.
func ValidSource(s RevenueSource) bool {
	switch s {
	case SourceStreams, SourceAdClicks, SourceSubscriptions, SourceBoosts:
		return true
	}
	return false
}

// RevenueEntry is one earned amount attributed to an artist.
type RevenueEntry struct {
	ID         string        `json:"id"`
	ArtistID   string        `json:"artistId"`
	TrackID    string        `json:"trackId,omitempty"`
	Source     RevenueSource `json:"source"`
	Amount     string        `json:"amount"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Store persists stream logs and revenue entries.
//
// The CountRecent* methods count logs with streamed_at inside [since, now]
// regardless of validity: an invalid replay still burns window quota.
type Store interface {
	CreateLog(ctx context.Context, log *StreamLog) error
	CountRecentByUser(ctx context.Context, trackID, userID string, since time.Time) (int, error)
	CountRecentByIP(ctx context.Context, trackID, ip string, since time.Time) (int, error)
	ListLogsByTrack(ctx context.Context, trackID string, limit int) ([]*StreamLog, error)

	CreateRevenue(ctx context.Context, entry *RevenueEntry) error
	ListRevenueByArtist(ctx context.Context, artistID string, limit int) ([]*RevenueEntry, error)
	SumRevenueByArtist(ctx context.Context, artistID string) (string, error)
}

// TrackCatalog is the slice of the catalog the engine needs. Satisfied by
// *catalog.Service.
type TrackCatalog interface {
	GetTrack(ctx context.Context, id string) (*catalog.Track, error)
	IncrementPlayCount(ctx context.Context, trackID string) error
}

// RecordRequest is the payload for reporting a play.
type RecordRequest struct {
	TrackID         string `json:"trackId" binding:"required"`
	DurationSeconds int    `json:"durationSeconds"`
	IPAddress       string `json:"ipAddress,omitempty"`
}

// RecordResult pairs the persisted log with what the play earned.
type RecordResult struct {
	Log    *StreamLog `json:"streamLog"`
	Earned string     `json:"earnedAmount"`
}
