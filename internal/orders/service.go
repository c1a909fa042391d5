package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/waveform-market/waveform/internal/escrow"
	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/logging"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/money"
	"github.com/waveform-market/waveform/internal/traces"
)

// Service implements the order workflow.
type Service struct {
	store   Store
	escrows EscrowService
	catalog ProductCatalog
	notify  Notifier
	events  EventEmitter
	locks   sync.Map // per-order ID locks to serialize state transitions
}

// NewService creates a new order service.
func NewService(store Store, escrows EscrowService, catalog ProductCatalog) *Service {
	return &Service{
		store:   store,
		escrows: escrows,
		catalog: catalog,
	}
}

// WithNotifier adds a notification sink for settlement events.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notify = n
	return s
}

// WithEvents adds a realtime event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// orderLock returns a mutex for the given order ID.
// This prevents concurrent transitions (e.g. buyer confirm racing a dispute).
func (s *Service) orderLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create validates the product and creates an order with its escrow.
// The pair is created together or not at all: if the order record fails to
// persist, the freshly held escrow is cancelled as compensation.
func (s *Service) Create(ctx context.Context, buyerID, productID string) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "orders.Create",
		traces.UserID(buyerID),
		attribute.String("product.id", productID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if buyerID == "" || productID == "" {
		return nil, errors.New("buyerId and productId are required")
	}

	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return nil, ErrProductNotFound
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product is not for sale", ErrProductNotFound)
	}
	if !money.IsPositive(product.Price) {
		return nil, ErrProductNotPriced
	}
	if buyerID == product.SellerID {
		return nil, ErrSelfPurchase
	}

	now := time.Now()
	order := &Order{
		ID:        idgen.WithPrefix("ord_"),
		BuyerID:   buyerID,
		SellerID:  product.SellerID,
		ProductID: product.ID,
		Price:     product.Price,
		Currency:  product.Currency,
		Status:    StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}

	esc, err := s.escrows.Open(ctx, escrow.OpenRequest{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		Amount:   order.Price,
		Currency: order.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hold escrow funds: %w", err)
	}
	order.EscrowID = esc.ID

	if err := s.store.CreateOrder(ctx, order); err != nil {
		// Compensate: the escrow must not outlive a never-persisted order
		if cancelErr := s.escrows.Cancel(ctx, esc.ID); cancelErr != nil {
			logging.L(ctx).Error("failed to cancel escrow after order create failure",
				"escrow_id", esc.ID, "order_id", order.ID, "error", cancelErr)
		}
		return nil, fmt.Errorf("failed to create order record: %w", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusPendingPayment)).Inc()
	s.emit("order.created", order)
	return order, nil
}

// OnPaymentSucceeded records the gateway charge and moves the order to
// processing. The escrow stays held: the buyer still has to confirm receipt.
//
// Idempotent: redelivery of the same charge event for an order that already
// processed it is a no-op, not an error.
func (s *Service) OnPaymentSucceeded(ctx context.Context, orderID, chargeRef string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Duplicate delivery of an event we already applied
	if order.Status != StatusPendingPayment && order.PaymentReference == chargeRef {
		return order, nil
	}
	if order.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: payment succeeded for %s order", ErrInvalidStatus, order.Status)
	}

	order.Status = StatusProcessing
	order.PaymentReference = chargeRef
	order.UpdatedAt = time.Now()

	if err := s.store.UpdateOrder(ctx, order, StatusPendingPayment); err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusProcessing)).Inc()
	s.emit("order.payment_succeeded", order)
	s.send(ctx, order.SellerID, "Payment received",
		"Payment confirmed for order "+order.ID, order.ID)
	return order, nil
}

// OnPaymentFailed refunds the order: the charge never landed, so the held
// escrow goes straight back to the buyer.
func (s *Service) OnPaymentFailed(ctx context.Context, orderID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Duplicate delivery
	if order.Status == StatusRefunded {
		return order, nil
	}
	if order.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: payment failed for %s order", ErrInvalidStatus, order.Status)
	}

	if _, err := s.escrows.Refund(ctx, order.EscrowID, "Payment failed"); err != nil {
		return nil, fmt.Errorf("failed to refund escrow: %w", err)
	}

	order.Status = StatusRefunded
	order.UpdatedAt = time.Now()

	if err := s.store.UpdateOrder(ctx, order, StatusPendingPayment); err != nil {
		// Escrow already refunded; the order row must follow. Retry once.
		if retryErr := s.store.UpdateOrder(ctx, order, StatusPendingPayment); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: escrow refunded but order status update failed",
				"order_id", order.ID, "escrow_id", order.EscrowID, "error", retryErr)
			return nil, fmt.Errorf("failed to update order after refund (requires manual resolution): %w", err)
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusRefunded)).Inc()
	s.emit("order.payment_failed", order)
	s.send(ctx, order.BuyerID, "Payment failed",
		"Your payment for order "+order.ID+" failed and the hold was released.", order.ID)
	return order, nil
}

// ConfirmReceipt is the happy-path settlement trigger: the buyer confirms the
// digital good arrived and the escrow releases to the seller.
//
// Confirming an already-completed order is a no-op so buyers can safely retry.
func (s *Service) ConfirmReceipt(ctx context.Context, orderID, byUserID string) (_ *Order, retErr error) {
	ctx, span := traces.StartSpan(ctx, "orders.ConfirmReceipt",
		traces.OrderID(orderID),
		traces.UserID(byUserID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if byUserID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status == StatusCompleted {
		return order, nil
	}
	if order.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot confirm a %s order", ErrInvalidStatus, order.Status)
	}

	if _, err := s.escrows.Release(ctx, order.EscrowID); err != nil {
		return nil, fmt.Errorf("failed to release escrow funds: %w", err)
	}

	now := time.Now()
	order.Status = StatusCompleted
	order.ConfirmedAt = &now
	order.ConfirmedBy = "buyer"
	order.UpdatedAt = now

	if err := s.store.UpdateOrder(ctx, order, StatusProcessing); err != nil {
		// Funds already moved to the seller; the order row must follow. Retry once.
		if retryErr := s.store.UpdateOrder(ctx, order, StatusProcessing); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: escrow released but order status update failed",
				"order_id", order.ID, "escrow_id", order.EscrowID, "error", retryErr)
			return nil, fmt.Errorf("failed to update order after release (requires manual resolution): %w", err)
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.emit("order.completed", order)
	s.send(ctx, order.SellerID, "Order completed",
		"The buyer confirmed receipt; "+order.Price+" "+order.Currency+" was released to you.", order.ID)
	return order, nil
}

// OpenDispute freezes the order's escrow and opens an adjudication record.
// Only the buyer or seller may dispute, only one unresolved dispute may exist
// per order, and the escrow must still be held. Once funds are final the
// dispute window is closed.
func (s *Service) OpenDispute(ctx context.Context, orderID, byUserID, reason, description string) (*Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}

	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if byUserID != order.BuyerID && byUserID != order.SellerID {
		return nil, ErrUnauthorized
	}

	if existing, err := s.store.GetUnresolvedDisputeByOrder(ctx, orderID); err == nil && existing != nil {
		return nil, ErrDisputeExists
	}

	// Freeze the escrow first; it is the authority on whether funds can
	// still be blocked.
	if _, err := s.escrows.MarkDisputed(ctx, order.EscrowID); err != nil {
		if errors.Is(err, escrow.ErrFundsFinal) {
			return nil, ErrFundsFinal
		}
		return nil, fmt.Errorf("failed to freeze escrow: %w", err)
	}

	now := time.Now()
	dispute := &Dispute{
		ID:          idgen.WithPrefix("dsp_"),
		OrderID:     orderID,
		InitiatedBy: byUserID,
		Reason:      reason,
		Description: description,
		Status:      DisputeOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute record: %w", err)
	}

	prev := order.Status
	order.Status = StatusDisputed
	order.UpdatedAt = now
	if err := s.store.UpdateOrder(ctx, order, prev); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	s.emit("dispute.opened", order)

	counterparty := order.SellerID
	if byUserID == order.SellerID {
		counterparty = order.BuyerID
	}
	s.send(ctx, counterparty, "Dispute opened",
		"A dispute was opened on order "+order.ID+": "+reason, dispute.ID)
	return dispute, nil
}

// MarkUnderReview records that an admin has taken the dispute.
func (s *Service) MarkUnderReview(ctx context.Context, disputeID, adminID string) (*Dispute, error) {
	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != DisputeOpen {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, dispute.Status)
	}

	dispute.Status = DisputeUnderReview
	dispute.ResolvedBy = adminID // Reviewer; overwritten on resolution if different
	dispute.UpdatedAt = time.Now()

	if err := s.store.UpdateDispute(ctx, dispute, DisputeOpen); err != nil {
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues("under_review").Inc()
	return dispute, nil
}

// ResolveDispute settles a dispute for one side. The escrow must still be
// frozen; resolving the same dispute twice is a conflict.
func (s *Service) ResolveDispute(ctx context.Context, disputeID, adminID string, resolution Resolution, notes string) (_ *Dispute, retErr error) {
	ctx, span := traces.StartSpan(ctx, "orders.ResolveDispute",
		traces.DisputeID(disputeID),
		attribute.String("resolution", string(resolution)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if resolution != ResolutionRefundBuyer && resolution != ResolutionPaySeller {
		return nil, fmt.Errorf("invalid resolution %q (want refund_buyer or pay_seller)", resolution)
	}

	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsUnresolved() {
		return nil, fmt.Errorf("%w: dispute already %s", ErrInvalidStatus, dispute.Status)
	}

	mu := s.orderLock(dispute.OrderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.store.GetOrder(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}

	var finalOrderStatus Status
	var winner Winner
	switch resolution {
	case ResolutionPaySeller:
		if _, err := s.escrows.Release(ctx, order.EscrowID); err != nil {
			return nil, fmt.Errorf("failed to release escrow: %w", err)
		}
		finalOrderStatus = StatusCompleted
		winner = WinnerSeller
	case ResolutionRefundBuyer:
		if _, err := s.escrows.Refund(ctx, order.EscrowID, "Dispute resolved in buyer's favor"); err != nil {
			return nil, fmt.Errorf("failed to refund escrow: %w", err)
		}
		finalOrderStatus = StatusRefunded
		winner = WinnerBuyer
	}

	now := time.Now()
	prevDispute := dispute.Status
	dispute.Status = DisputeResolved
	dispute.Resolution = notes
	dispute.Winner = winner
	dispute.ResolvedAt = &now
	dispute.ResolvedBy = adminID
	dispute.UpdatedAt = now
	if err := s.store.UpdateDispute(ctx, dispute, prevDispute); err != nil {
		// Escrow already settled; the dispute row must follow. Retry once.
		if retryErr := s.store.UpdateDispute(ctx, dispute, prevDispute); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: escrow settled but dispute update failed",
				"dispute_id", dispute.ID, "order_id", order.ID, "error", retryErr)
			return nil, fmt.Errorf("failed to update dispute after settlement (requires manual resolution): %w", err)
		}
	}

	order.Status = finalOrderStatus
	order.UpdatedAt = now
	if err := s.store.UpdateOrder(ctx, order, StatusDisputed); err != nil {
		logging.L(ctx).Error("dispute resolved but order status update failed",
			"order_id", order.ID, "error", err)
	}

	metrics.DisputesTotal.WithLabelValues("resolved").Inc()
	metrics.OrdersTotal.WithLabelValues(string(finalOrderStatus)).Inc()
	s.emit("dispute.resolved", order)

	// Notification is a side effect, never part of the settlement contract
	s.send(ctx, order.BuyerID, "Dispute resolved",
		"Your dispute on order "+order.ID+" was resolved: "+string(resolution), dispute.ID)
	s.send(ctx, order.SellerID, "Dispute resolved",
		"The dispute on order "+order.ID+" was resolved: "+string(resolution), dispute.ID)
	return dispute, nil
}

// CloseDispute archives a resolved dispute.
func (s *Service) CloseDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != DisputeResolved {
		return nil, fmt.Errorf("%w: only resolved disputes can be closed, dispute is %s", ErrInvalidStatus, dispute.Status)
	}

	dispute.Status = DisputeClosed
	dispute.UpdatedAt = time.Now()
	if err := s.store.UpdateDispute(ctx, dispute, DisputeResolved); err != nil {
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues("closed").Inc()
	return dispute, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListByUser returns orders where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// GetDispute returns a dispute by ID.
func (s *Service) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// ListDisputes returns disputes with the given status.
func (s *Service) ListDisputes(ctx context.Context, status DisputeStatus, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListDisputes(ctx, status, limit)
}

func (s *Service) send(ctx context.Context, userID, title, message, relatedID string) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(ctx, userID, title, message, relatedID)
}

func (s *Service) emit(eventType string, order *Order) {
	if s.events == nil {
		return
	}
	s.events.OrderEvent(eventType, order.ID, map[string]interface{}{
		"buyerId":  order.BuyerID,
		"sellerId": order.SellerID,
		"amount":   order.Price,
		"currency": order.Currency,
		"status":   string(order.Status),
	})
}
