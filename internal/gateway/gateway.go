// Package gateway receives and verifies payment-gateway webhook events and
// drives the order workflow from them.
//
// Events arrive as signed JSON over HTTP. The signature scheme is the
// timestamped HMAC used by the major processors: the header carries a unix
// timestamp and an HMAC-SHA256 of "<timestamp>.<body>", and stale
// timestamps are rejected to stop replay.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/waveform-market/waveform/internal/orders"
)

var (
	ErrUnknownEventType  = errors.New("gateway: unknown event type")
	ErrMissingOrderID    = errors.New("gateway: event carries no order id")
	ErrDuplicateEvent    = errors.New("gateway: event already processed")
	ErrChargeNotVerified = errors.New("gateway: charge did not verify with the payment provider")
)

// EventType identifies what happened at the payment provider.
type EventType string

const (
	EventChargeSucceeded EventType = "charge.succeeded"
	EventChargeFailed    EventType = "charge.failed"
)

// EventData is the payload common to all gateway events.
type EventData struct {
	OrderID   string            `json:"orderId"`
	PaymentID string            `json:"paymentId,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is one typed webhook delivery from the payment provider.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// ChargeStatus is the provider's verdict on a charge.
type ChargeStatus string

const (
	ChargeVerified ChargeStatus = "verified"
	ChargeFailed   ChargeStatus = "failed"
	ChargePending  ChargeStatus = "pending"
)

// PaymentGateway verifies a charge directly with the provider.
type PaymentGateway interface {
	VerifyCharge(ctx context.Context, paymentID string) (ChargeStatus, error)
}

// OrderWorkflow is the slice of the order service the gateway drives.
// Satisfied by *orders.Service.
type OrderWorkflow interface {
	OnPaymentSucceeded(ctx context.Context, orderID, chargeRef string) (*orders.Order, error)
	OnPaymentFailed(ctx context.Context, orderID string) (*orders.Order, error)
}

// EventStore records applied events for audit and duplicate suppression.
//
// Seen reports whether an event ID was already recorded. MarkProcessed
// records the event and returns ErrDuplicateEvent when the ID was recorded
// concurrently. An event is only marked after its order transition has been
// applied, so a delivery that failed mid-flight stays retryable.
type EventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, event *Event) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*Event, error)
}
