package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/waveform-market/waveform/internal/catalog"
)

func newTestService(t *testing.T) (*Service, *catalog.Service) {
	t.Helper()
	tracks := catalog.NewService(catalog.NewMemoryStore())
	svc, err := NewService(NewMemoryStore(), tracks, "0.003")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, tracks
}

func publishTrack(t *testing.T, tracks *catalog.Service, artistID string) *catalog.Track {
	t.Helper()
	track, err := tracks.CreateTrack(context.Background(), artistID, catalog.CreateTrackRequest{
		Title: "test track",
	})
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	return track
}

func TestRecordValidStream(t *testing.T) {
	svc, tracks := newTestService(t)
	ctx := context.Background()
	track := publishTrack(t, tracks, "artist_1")

	result, err := svc.Record(ctx, "user_1", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 45,
		IPAddress:       "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !result.Log.IsValid {
		t.Errorf("expected valid stream, got invalid: %s", result.Log.InvalidReason)
	}
	if result.Earned != "0.003000" {
		t.Errorf("expected 0.003000 earned, got %s", result.Earned)
	}

	got, _ := tracks.GetTrack(ctx, track.ID)
	if got.PlayCount != 1 {
		t.Errorf("expected play count 1, got %d", got.PlayCount)
	}

	entries, total, err := svc.ArtistRevenue(ctx, "artist_1", 10)
	if err != nil {
		t.Fatalf("ArtistRevenue failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Source != SourceStreams {
		t.Fatalf("expected one streams revenue entry, got %d", len(entries))
	}
	if total != "0.003000" {
		t.Errorf("expected total 0.003000, got %s", total)
	}
}

func TestRecordShortStreamRejected(t *testing.T) {
	svc, tracks := newTestService(t)
	track := publishTrack(t, tracks, "artist_1")

	_, err := svc.Record(context.Background(), "user_1", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 29,
		IPAddress:       "203.0.113.10",
	})
	if !errors.Is(err, ErrStreamTooShort) {
		t.Errorf("expected ErrStreamTooShort, got %v", err)
	}

	// Nothing persisted for a rejected play
	logs, _ := svc.ListByTrack(context.Background(), track.ID, 10)
	if len(logs) != 0 {
		t.Errorf("expected no logs for rejected stream, got %d", len(logs))
	}
}

func TestRecordUnknownTrack(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Record(context.Background(), "user_1", RecordRequest{
		TrackID:         "trk_missing",
		DurationSeconds: 60,
	})
	if !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestRecordNoIdentityInvalid(t *testing.T) {
	svc, tracks := newTestService(t)
	track := publishTrack(t, tracks, "artist_1")

	result, err := svc.Record(context.Background(), "", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if result.Log.IsValid {
		t.Error("expected identity-less stream to be invalid")
	}
	if result.Earned != "0.000000" {
		t.Errorf("expected no earnings, got %s", result.Earned)
	}

	// Persisted anyway for fraud analytics
	logs, _ := svc.ListByTrack(context.Background(), track.ID, 10)
	if len(logs) != 1 {
		t.Fatalf("expected invalid log persisted, got %d logs", len(logs))
	}
}

func TestUserWindowLimit(t *testing.T) {
	svc, tracks := newTestService(t)
	ctx := context.Background()
	track := publishTrack(t, tracks, "artist_1")

	// 5 valid streams from the same user exhaust the window
	for i := 0; i < MaxPerUser; i++ {
		result, err := svc.Record(ctx, "user_1", RecordRequest{
			TrackID:         track.ID,
			DurationSeconds: 60,
			IPAddress:       "203.0.113.10",
		})
		if err != nil {
			t.Fatalf("stream %d failed: %v", i+1, err)
		}
		if !result.Log.IsValid {
			t.Fatalf("stream %d unexpectedly invalid: %s", i+1, result.Log.InvalidReason)
		}
	}

	sixth, err := svc.Record(ctx, "user_1", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 60,
		IPAddress:       "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("6th stream errored: %v", err)
	}
	if sixth.Log.IsValid {
		t.Error("expected 6th stream from the same user to be invalid")
	}
	if sixth.Earned != "0.000000" {
		t.Errorf("invalid stream must earn nothing, got %s", sixth.Earned)
	}

	// A fresh identity right after may still be valid
	other, err := svc.Record(ctx, "user_2", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 60,
		IPAddress:       "203.0.113.99",
	})
	if err != nil {
		t.Fatalf("other user's stream failed: %v", err)
	}
	if !other.Log.IsValid {
		t.Errorf("expected fresh identity to be valid, got: %s", other.Log.InvalidReason)
	}

	got, _ := tracks.GetTrack(ctx, track.ID)
	if got.PlayCount != int64(MaxPerUser)+1 {
		t.Errorf("expected %d plays (valid only), got %d", MaxPerUser+1, got.PlayCount)
	}
}

func TestIPWindowLimit(t *testing.T) {
	svc, tracks := newTestService(t)
	ctx := context.Background()
	track := publishTrack(t, tracks, "artist_1")

	// 10 anonymous-user streams from one NAT address, distinct users
	for i := 0; i < MaxPerIP; i++ {
		result, err := svc.Record(ctx, fmt.Sprintf("user_%d", i), RecordRequest{
			TrackID:         track.ID,
			DurationSeconds: 60,
			IPAddress:       "198.51.100.7",
		})
		if err != nil {
			t.Fatalf("stream %d failed: %v", i+1, err)
		}
		if !result.Log.IsValid {
			t.Fatalf("stream %d unexpectedly invalid: %s", i+1, result.Log.InvalidReason)
		}
	}

	over, err := svc.Record(ctx, "user_new", RecordRequest{
		TrackID:         track.ID,
		DurationSeconds: 60,
		IPAddress:       "198.51.100.7",
	})
	if err != nil {
		t.Fatalf("11th stream errored: %v", err)
	}
	if over.Log.IsValid {
		t.Error("expected 11th stream from the same IP to be invalid")
	}
}

func TestInvalidStreamsBurnQuota(t *testing.T) {
	svc, tracks := newTestService(t)
	ctx := context.Background()
	track := publishTrack(t, tracks, "artist_1")

	// Exhaust the user window, then keep replaying: the invalid logs still
	// count toward the window, so the throttle never resets mid-burst.
	for i := 0; i < MaxPerUser+3; i++ {
		if _, err := svc.Record(ctx, "user_1", RecordRequest{
			TrackID:         track.ID,
			DurationSeconds: 60,
			IPAddress:       "203.0.113.10",
		}); err != nil {
			t.Fatalf("stream %d failed: %v", i+1, err)
		}
	}

	got, _ := tracks.GetTrack(ctx, track.ID)
	if got.PlayCount != int64(MaxPerUser) {
		t.Errorf("expected exactly %d valid plays, got %d", MaxPerUser, got.PlayCount)
	}
}

func TestConcurrentBurstThrottled(t *testing.T) {
	svc, tracks := newTestService(t)
	ctx := context.Background()
	track := publishTrack(t, tracks, "artist_1")

	// 20 concurrent submissions from the same user: exactly MaxPerUser
	// may come out valid, never more.
	var wg sync.WaitGroup
	results := make([]*RecordResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Record(ctx, "user_1", RecordRequest{
				TrackID:         track.ID,
				DurationSeconds: 60,
				IPAddress:       "203.0.113.10",
			})
			if err == nil {
				results[i] = r
			}
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, r := range results {
		if r != nil && r.Log.IsValid {
			valid++
		}
	}
	if valid != MaxPerUser {
		t.Errorf("expected exactly %d valid streams under concurrency, got %d", MaxPerUser, valid)
	}
}

func TestAddRevenue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	entry, err := svc.AddRevenue(ctx, "artist_1", SourceBoosts, "2.50", "")
	if err != nil {
		t.Fatalf("AddRevenue failed: %v", err)
	}
	if entry.Amount != "2.500000" {
		t.Errorf("expected normalized amount, got %s", entry.Amount)
	}

	if _, err := svc.AddRevenue(ctx, "artist_1", RevenueSource("tips"), "1", ""); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
	if _, err := svc.AddRevenue(ctx, "artist_1", SourceAdClicks, "-1", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestBadRateRejected(t *testing.T) {
	tracks := catalog.NewService(catalog.NewMemoryStore())
	if _, err := NewService(NewMemoryStore(), tracks, "0"); err == nil {
		t.Error("expected error for zero rate")
	}
	if _, err := NewService(NewMemoryStore(), tracks, "lots"); err == nil {
		t.Error("expected error for garbage rate")
	}
}
