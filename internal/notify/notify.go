// Package notify delivers settlement notifications to users.
//
// Every notification lands in the user's in-app feed; users who registered
// a webhook subscription additionally get a signed JSON POST. Delivery is
// fire-and-forget: a failed webhook never rolls back the state transition
// that produced it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/waveform-market/waveform/internal/pagination"
)

var (
	ErrNotificationNotFound = errors.New("notify: notification not found")
	ErrSubscriptionNotFound = errors.New("notify: subscription not found")
	ErrInvalidURL           = errors.New("notify: subscription URL must be http or https")
	ErrInvalidCursor        = errors.New("notify: invalid pagination cursor")
)

// Notification is one in-app message for a user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID string    `json:"relatedId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscription is a registered webhook sink for one user's notifications.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // HMAC signing key, never serialized
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Store persists notifications and webhook subscriptions.
type Store interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID string) error

	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
}

// SubscribeRequest is the payload for registering a webhook.
type SubscribeRequest struct {
	URL    string `json:"url" binding:"required"`
	Secret string `json:"secret"`
}
