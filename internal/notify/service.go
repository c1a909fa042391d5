package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/waveform-market/waveform/internal/circuitbreaker"
	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/pagination"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/retry"
	"github.com/waveform-market/waveform/internal/security"
)

// deliveryTimeout bounds one webhook POST including retries.
const deliveryTimeout = 30 * time.Second

// Service implements notification delivery. It satisfies orders.Notifier.
type Service struct {
	store         Store
	client        *http.Client
	breaker       *circuitbreaker.Breaker
	defaultSecret string
	strictURLs    bool
}

// NewService creates a new notification service.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// WithSigningSecret sets the HMAC key used for subscriptions created
// without their own secret.
func (s *Service) WithSigningSecret(secret string) *Service {
	s.defaultSecret = secret
	return s
}

// WithStrictEndpoints rejects subscription URLs that point at private or
// loopback addresses. Enabled in production; local sinks stay usable in
// development.
func (s *Service) WithStrictEndpoints() *Service {
	s.strictURLs = true
	return s
}

// Notify records an in-app notification and fans it out to the user's
// webhook subscriptions. Errors are logged, never returned: delivery is a
// side effect of settlement, not part of its contract.
func (s *Service) Notify(ctx context.Context, userID, title, message, relatedID string) {
	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		UserID:    userID,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		logging.L(ctx).Error("failed to store notification",
			"user_id", userID, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("store_error").Inc()
		return
	}
	metrics.NotificationDeliveriesTotal.WithLabelValues("stored").Inc()

	subs, err := s.store.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("failed to list webhook subscriptions",
			"user_id", userID, "error", err)
		return
	}
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		go s.deliver(sub, n)
	}
}

// deliver POSTs the notification to one subscription, retrying transient
// failures with backoff. Runs on its own goroutine with its own context.
func (s *Service) deliver(sub *Subscription, n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if !s.breaker.Allow(sub.ID) {
		s.recordFailure(ctx, sub, "circuit open, delivery skipped")
		metrics.NotificationDeliveriesTotal.WithLabelValues("circuit_open").Inc()
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		s.recordFailure(ctx, sub, "failed to marshal notification")
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return s.post(ctx, sub, payload, n)
	})
	if err != nil {
		s.breaker.RecordFailure(sub.ID)
		s.recordFailure(ctx, sub, err.Error())
		metrics.NotificationDeliveriesTotal.WithLabelValues("webhook_error").Inc()
		return
	}
	s.breaker.RecordSuccess(sub.ID)

	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		logging.L(ctx).Warn("failed to update subscription after delivery",
			"subscription_id", sub.ID, "error", err)
	}
	metrics.NotificationDeliveriesTotal.WithLabelValues("webhook_ok").Inc()
}

func (s *Service) post(ctx context.Context, sub *Subscription, payload []byte, n *Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Waveform-Notification", n.ID)
	req.Header.Set("X-Waveform-Timestamp", fmt.Sprintf("%d", n.CreatedAt.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Waveform-Signature", sign(payload, sub.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The subscriber rejected the payload; retrying won't change that
		return retry.Permanent(fmt.Errorf("subscriber returned %d", resp.StatusCode))
	}
	return fmt.Errorf("subscriber returned %d", resp.StatusCode)
}

func (s *Service) recordFailure(ctx context.Context, sub *Subscription, msg string) {
	sub.LastError = msg
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		logging.L(ctx).Warn("failed to record delivery failure",
			"subscription_id", sub.ID, "error", err)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Subscribe registers a webhook sink for a user's notifications.
func (s *Service) Subscribe(ctx context.Context, userID string, req SubscribeRequest) (*Subscription, error) {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, ErrInvalidURL
	}
	if s.strictURLs {
		if err := security.ValidateEndpointURL(req.URL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
	}
	secret := req.Secret
	if secret == "" {
		secret = s.defaultSecret
	}
	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		UserID:    userID,
		URL:       req.URL,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a webhook subscription. Only the owner may remove it.
func (s *Service) Unsubscribe(ctx context.Context, id, userID string) error {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return ErrSubscriptionNotFound
	}
	return s.store.DeleteSubscription(ctx, id)
}

// ListSubscriptions returns a user's webhook subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*Subscription, error) {
	return s.store.ListSubscriptionsByUser(ctx, userID)
}

// Feed returns a page of the user's notifications, newest first, with an
// opaque cursor for fetching the next page.
func (s *Service) Feed(ctx context.Context, userID string, limit int, cursor string) ([]*Notification, string, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	items, err := s.store.ListByUser(ctx, userID, limit+1, before)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(items, limit, func(n *Notification) (time.Time, string) {
		return n.CreatedAt, n.ID
	})
	return page, next, hasMore, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID)
}
