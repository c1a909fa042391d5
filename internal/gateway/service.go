package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/metrics"
)

// Service routes verified gateway events into the order workflow.
type Service struct {
	store    EventStore
	orders   OrderWorkflow
	provider PaymentGateway
}

// NewService creates a new gateway event processor.
func NewService(store EventStore, orders OrderWorkflow, provider PaymentGateway) *Service {
	return &Service{
		store:    store,
		orders:   orders,
		provider: provider,
	}
}

// Process applies one gateway event.
//
// The event is marked processed only after its order transition has been
// applied, so a delivery that fails mid-flight (provider check, storage)
// stays retryable: the gateway's redelivery of the same event ID runs the
// whole operation again. Redelivery of an already-applied event is dropped
// by the Seen fast path, and a fresh ID replaying an applied transition is
// absorbed by the order-level pre-state checks. A charge.succeeded event is
// confirmed against the provider before the order moves.
func (s *Service) Process(ctx context.Context, event *Event) error {
	if event.Data.OrderID == "" {
		return ErrMissingOrderID
	}

	switch event.Type {
	case EventChargeSucceeded, EventChargeFailed:
	default:
		metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	seen, err := s.store.Seen(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to check gateway event: %w", err)
	}
	if seen {
		logging.L(ctx).Info("dropping duplicate gateway event",
			"event_id", event.ID, "order_id", event.Data.OrderID)
		metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		return nil
	}

	switch event.Type {
	case EventChargeSucceeded:
		if err := s.verifyCharge(ctx, event); err != nil {
			metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "rejected").Inc()
			return err
		}
		if _, err := s.orders.OnPaymentSucceeded(ctx, event.Data.OrderID, event.Data.PaymentID); err != nil {
			metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
			return err
		}
	case EventChargeFailed:
		if _, err := s.orders.OnPaymentFailed(ctx, event.Data.OrderID); err != nil {
			metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
			return err
		}
	}

	if err := s.store.MarkProcessed(ctx, event); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// A concurrent delivery won the insert after applying the same
			// transition. The order-level pre-state checks made that safe.
			metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
			return nil
		}
		// The transition is applied but the marker is not. Surfacing the
		// error makes the gateway redeliver, and the redelivery lands on
		// the idempotent pre-state checks before recording the event.
		return fmt.Errorf("failed to record gateway event: %w", err)
	}

	metrics.GatewayEventsTotal.WithLabelValues(string(event.Type), "processed").Inc()
	return nil
}

func (s *Service) verifyCharge(ctx context.Context, event *Event) error {
	if s.provider == nil || event.Data.PaymentID == "" {
		return nil
	}
	status, err := s.provider.VerifyCharge(ctx, event.Data.PaymentID)
	if err != nil {
		return fmt.Errorf("charge verification failed: %w", err)
	}
	if status != ChargeVerified {
		return fmt.Errorf("%w: provider reports %s", ErrChargeNotVerified, status)
	}
	return nil
}

// EventsByOrder returns the audit trail of events received for an order.
func (s *Service) EventsByOrder(ctx context.Context, orderID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOrder(ctx, orderID, limit)
}
