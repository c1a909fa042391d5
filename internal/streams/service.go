package streams

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/money"
	"github.com/waveform-market/waveform/internal/syncutil"
	"github.com/waveform-market/waveform/internal/traces"
)

// Service implements stream attribution.
type Service struct {
	store  Store
	tracks TrackCatalog
	rate   int64 // Per valid stream, in millionths of a currency unit
	locks  syncutil.ShardedMutex
}

// NewService creates a new stream attribution service. ratePerStream is the
// amount one valid stream earns, as a decimal string.
func NewService(store Store, tracks TrackCatalog, ratePerStream string) (*Service, error) {
	rate, err := money.ParsePositive(ratePerStream)
	if err != nil {
		return nil, fmt.Errorf("invalid stream rate %q: %w", ratePerStream, err)
	}
	return &Service{
		store:  store,
		tracks: tracks,
		rate:   rate,
	}, nil
}

// Record validates and persists one playback event, attributing revenue to
// the track's artist when the play is valid.
//
// Replays are throttled, not deduplicated: repeated submissions within the
// window are exactly what the validity rule exists to catch. A rejected
// duration mutates nothing; an invalid stream is persisted but earns nothing.
func (s *Service) Record(ctx context.Context, userID string, req RecordRequest) (_ *RecordResult, retErr error) {
	ctx, span := traces.StartSpan(ctx, "streams.Record",
		traces.TrackID(req.TrackID),
		traces.UserID(userID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if time.Duration(req.DurationSeconds)*time.Second < MinDuration {
		return nil, ErrStreamTooShort
	}

	track, err := s.tracks.GetTrack(ctx, req.TrackID)
	if err != nil {
		return nil, ErrTrackNotFound
	}

	// Serialize per track so a burst from one identity cannot slip N
	// requests past the window count before any of them commits.
	unlock := s.locks.Lock("track:" + req.TrackID)
	defer unlock()

	now := time.Now()
	valid, reason, err := s.checkValidity(ctx, req.TrackID, userID, req.IPAddress, now.Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("failed to check stream window: %w", err)
	}

	log := &StreamLog{
		ID:              idgen.WithPrefix("str_"),
		TrackID:         req.TrackID,
		UserID:          userID,
		IPAddress:       req.IPAddress,
		DurationSeconds: req.DurationSeconds,
		IsValid:         valid,
		InvalidReason:   reason,
		StreamedAt:      now,
		CreatedAt:       now,
	}
	if err := s.store.CreateLog(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to persist stream log: %w", err)
	}

	if !valid {
		metrics.StreamsRecordedTotal.WithLabelValues("invalid").Inc()
		return &RecordResult{Log: log, Earned: money.Format(0)}, nil
	}

	entry := &RevenueEntry{
		ID:         idgen.WithPrefix("rev_"),
		ArtistID:   track.ArtistID,
		TrackID:    track.ID,
		Source:     SourceStreams,
		Amount:     money.Format(s.rate),
		OccurredAt: now,
	}
	if err := s.store.CreateRevenue(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record stream revenue: %w", err)
	}

	// The play counter is display data; a failed bump is not worth
	// failing the request over.
	if err := s.tracks.IncrementPlayCount(ctx, track.ID); err != nil {
		logging.L(ctx).Warn("failed to increment play count",
			"track_id", track.ID, "error", err)
	}

	metrics.StreamsRecordedTotal.WithLabelValues("valid").Inc()
	metrics.StreamRevenueTotal.Add(float64(s.rate) / 1e6)
	return &RecordResult{Log: log, Earned: entry.Amount}, nil
}

// checkValidity applies the identity and sliding-window rules.
func (s *Service) checkValidity(ctx context.Context, trackID, userID, ip string, since time.Time) (bool, string, error) {
	if userID == "" && ip == "" {
		return false, "no identity", nil
	}
	if userID != "" {
		n, err := s.store.CountRecentByUser(ctx, trackID, userID, since)
		if err != nil {
			return false, "", err
		}
		if n >= MaxPerUser {
			return false, "user window limit exceeded", nil
		}
	}
	if ip != "" {
		n, err := s.store.CountRecentByIP(ctx, trackID, ip, since)
		if err != nil {
			return false, "", err
		}
		if n >= MaxPerIP {
			return false, "ip window limit exceeded", nil
		}
	}
	return true, "", nil
}

// AddRevenue records a non-stream earning (ad click, subscription share,
// boost fee) for an artist.
func (s *Service) AddRevenue(ctx context.Context, artistID string, source RevenueSource, amount, trackID string) (*RevenueEntry, error) {
	if !ValidSource(source) {
		return nil, ErrInvalidSource
	}
	units, err := money.ParsePositive(amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}

	entry := &RevenueEntry{
		ID:         idgen.WithPrefix("rev_"),
		ArtistID:   artistID,
		TrackID:    trackID,
		Source:     source,
		Amount:     money.Format(units),
		OccurredAt: time.Now(),
	}
	if err := s.store.CreateRevenue(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByTrack returns the newest stream logs for a track, valid or not.
func (s *Service) ListByTrack(ctx context.Context, trackID string, limit int) ([]*StreamLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListLogsByTrack(ctx, trackID, limit)
}

// ArtistRevenue returns an artist's revenue entries and their total.
func (s *Service) ArtistRevenue(ctx context.Context, artistID string, limit int) ([]*RevenueEntry, string, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.store.ListRevenueByArtist(ctx, artistID, limit)
	if err != nil {
		return nil, "", err
	}
	total, err := s.store.SumRevenueByArtist(ctx, artistID)
	if err != nil {
		return nil, "", err
	}
	return entries, total, nil
}
