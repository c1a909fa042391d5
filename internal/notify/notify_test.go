package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifyStoresInAppNotification(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	svc.Notify(ctx, "user_1", "Order completed", "Funds released", "ord_1")

	feed, _, _, err := svc.Feed(ctx, "user_1", 10, "")
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(feed))
	}
	n := feed[0]
	if n.Title != "Order completed" || n.RelatedID != "ord_1" || n.Read {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestWebhookDeliverySigned(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "user_1", SubscribeRequest{
		URL:    server.URL,
		Secret: "hook_secret",
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	svc.Notify(ctx, "user_1", "Dispute opened", "See order", "dsp_1")

	select {
	case req := <-received:
		if req.Header.Get("X-Waveform-Notification") == "" {
			t.Error("expected notification ID header")
		}
		mac := hmac.New(sha256.New, []byte("hook_secret"))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		if got := req.Header.Get("X-Waveform-Signature"); got != want {
			t.Errorf("signature mismatch: got %s want %s", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	// Delivery bookkeeping lands on the subscription
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := svc.store.GetSubscription(ctx, sub.ID)
		if got.LastSuccess != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LastSuccess never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebhookClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	sub, _ := svc.Subscribe(ctx, "user_1", SubscribeRequest{URL: server.URL})

	svc.Notify(ctx, "user_1", "t", "m", "")

	// A 4xx is permanent; the retry loop must stop after the first attempt
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, _ := svc.store.GetSubscription(ctx, sub.ID)
		if got.LastError != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LastError never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly 1 delivery attempt for a 4xx, got %d", n)
	}
}

func TestNotifyOnlyActiveSubscriptions(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	sub, _ := svc.Subscribe(ctx, "user_1", SubscribeRequest{URL: server.URL})
	sub.Active = false
	if err := store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("UpdateSubscription failed: %v", err)
	}

	svc.Notify(ctx, "user_1", "t", "m", "")
	time.Sleep(200 * time.Millisecond)

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("inactive subscription received %d deliveries", n)
	}
}

func TestSubscribeValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.Subscribe(context.Background(), "user_1", SubscribeRequest{URL: "ftp://example.com"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestMarkReadOwnership(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	svc.Notify(ctx, "user_1", "t", "m", "")
	feed, _, _, _ := svc.Feed(ctx, "user_1", 1, "")
	id := feed[0].ID

	if err := svc.MarkRead(ctx, id, "user_2"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("foreign MarkRead: expected ErrNotificationNotFound, got %v", err)
	}
	if err := svc.MarkRead(ctx, id, "user_1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	feed, _, _, _ = svc.Feed(ctx, "user_1", 1, "")
	if !feed[0].Read {
		t.Error("expected notification marked read")
	}
}

func TestFeedPagination(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.Notify(ctx, "user_1", "t", "m", "")
		time.Sleep(2 * time.Millisecond)
	}

	page1, cursor, hasMore, err := svc.Feed(ctx, "user_1", 2, "")
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(page1) != 2 || !hasMore || cursor == "" {
		t.Fatalf("page1: got %d items, hasMore=%v, cursor=%q", len(page1), hasMore, cursor)
	}

	page2, cursor2, hasMore, err := svc.Feed(ctx, "user_1", 2, cursor)
	if err != nil {
		t.Fatalf("Feed page 2 failed: %v", err)
	}
	if len(page2) != 2 || !hasMore {
		t.Fatalf("page2: got %d items, hasMore=%v", len(page2), hasMore)
	}

	page3, _, hasMore, err := svc.Feed(ctx, "user_1", 2, cursor2)
	if err != nil {
		t.Fatalf("Feed page 3 failed: %v", err)
	}
	if len(page3) != 1 || hasMore {
		t.Fatalf("page3: got %d items, hasMore=%v", len(page3), hasMore)
	}

	seen := make(map[string]bool)
	for _, n := range append(append(page1, page2...), page3...) {
		if seen[n.ID] {
			t.Errorf("notification %s appeared on more than one page", n.ID)
		}
		seen[n.ID] = true
	}

	if _, _, _, err := svc.Feed(ctx, "user_1", 2, "not-a-cursor"); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestDeliverySkippedWhenCircuitOpen(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	sub, _ := svc.Subscribe(ctx, "user_1", SubscribeRequest{URL: server.URL})

	// Trip the breaker with consecutive permanent failures
	for i := 0; i < 5; i++ {
		svc.breaker.RecordFailure(sub.ID)
	}

	svc.Notify(ctx, "user_1", "t", "m", "")

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := svc.store.GetSubscription(ctx, sub.ID)
		if got.LastError != "" {
			if got.LastError != "circuit open, delivery skipped" {
				t.Errorf("unexpected LastError: %q", got.LastError)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LastError never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("expected no delivery attempts while circuit open, got %d", n)
	}
}

func TestUnsubscribeOwnership(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	sub, _ := svc.Subscribe(ctx, "user_1", SubscribeRequest{URL: "https://example.com/hook"})

	if err := svc.Unsubscribe(ctx, sub.ID, "user_2"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("foreign Unsubscribe: expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := svc.Unsubscribe(ctx, sub.ID, "user_1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	subs, _ := svc.ListSubscriptions(ctx, "user_1")
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}
