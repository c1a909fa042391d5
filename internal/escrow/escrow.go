// Package escrow owns the lifecycle of money held against an order.
//
// Flow:
//  1. Order created → escrow holds the full price (held)
//  2. Buyer confirms receipt → funds released to seller (released)
//  3. Payment fails or admin sides with buyer → funds returned (refunded)
//  4. Dispute opened while held → frozen (disputed) until admin resolution
//
// Transitions are monotonic: held → released | refunded | disputed,
// disputed → released | refunded. Nothing else is permitted, and the amount
// never changes after creation.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/money"
)

var (
	ErrNotFound          = errors.New("escrow not found")
	ErrInvalidTransition = errors.New("invalid escrow state transition")
	ErrFundsFinal        = errors.New("escrow funds already final")
	ErrInvalidAmount     = errors.New("invalid escrow amount")
	ErrConflict          = errors.New("escrow modified concurrently")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusHeld     Status = "held"     // Created, funds held pending settlement
	StatusReleased Status = "released" // Funds credited to seller (terminal)
	StatusRefunded Status = "refunded" // Funds returned to buyer (terminal)
	StatusDisputed Status = "disputed" // Frozen pending admin resolution
)

// transitions is the complete legal edge set of the state machine.
var transitions = map[Status][]Status{
	StatusHeld:     {StatusReleased, StatusRefunded, StatusDisputed},
	StatusDisputed: {StatusReleased, StatusRefunded},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Escrow represents a specific amount of money held pending settlement.
type Escrow struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"orderId"`
	BuyerID      string     `json:"buyerId"`
	SellerID     string     `json:"sellerId"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	Status       Status     `json:"status"`
	ReleasedAt   *time.Time `json:"releasedAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
	RefundReason string     `json:"refundReason,omitempty"`
	DisputedAt   *time.Time `json:"disputedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusReleased || e.Status == StatusRefunded
}

// Store persists escrow data.
//
// Update applies the record only if the stored status still equals expect,
// returning ErrConflict otherwise. This is the compare-and-swap that keeps
// concurrent transitions from clobbering each other across processes.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByOrder(ctx context.Context, orderID string) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow, expect Status) error
	Delete(ctx context.Context, id string) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Escrow, error)
	SumReleasedBySeller(ctx context.Context, sellerID string) (string, error)
}

// OpenRequest contains the parameters for holding funds against an order.
type OpenRequest struct {
	OrderID  string
	BuyerID  string
	SellerID string
	Amount   string
	Currency string
}

// Service implements escrow business logic.
type Service struct {
	store Store
	locks sync.Map // per-escrow ID locks to serialize state transitions
}

// NewService creates a new escrow service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// escrowLock returns a mutex for the given escrow ID.
// This prevents concurrent state transitions (e.g. confirm + dispute racing).
func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Open creates a new escrow holding the order amount.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Escrow, error) {
	if req.OrderID == "" || req.BuyerID == "" || req.SellerID == "" {
		return nil, errors.New("orderId, buyerId and sellerId are required")
	}
	if req.BuyerID == req.SellerID {
		return nil, errors.New("buyer and seller cannot be the same user")
	}
	if _, err := money.ParsePositive(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	now := time.Now()
	esc := &Escrow{
		ID:        idgen.WithPrefix("esc_"),
		OrderID:   req.OrderID,
		BuyerID:   req.BuyerID,
		SellerID:  req.SellerID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    StatusHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.EscrowTransitionsTotal.WithLabelValues("", string(StatusHeld)).Inc()
	return esc, nil
}

// Release moves held or disputed funds to the seller.
func (s *Service) Release(ctx context.Context, id string) (*Escrow, error) {
	return s.transition(ctx, id, StatusReleased, "")
}

// Refund returns held or disputed funds to the buyer.
func (s *Service) Refund(ctx context.Context, id, reason string) (*Escrow, error) {
	return s.transition(ctx, id, StatusRefunded, reason)
}

// MarkDisputed freezes a held escrow pending admin resolution.
// Disputing an escrow whose funds are already final is a conflict, not a
// transition error: the money has moved and cannot be frozen.
func (s *Service) MarkDisputed(ctx context.Context, id string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.IsTerminal() {
		return nil, ErrFundsFinal
	}
	if esc.Status != StatusHeld {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, esc.Status, StatusDisputed)
	}

	prev := esc.Status
	now := time.Now()
	esc.Status = StatusDisputed
	esc.DisputedAt = &now
	esc.UpdatedAt = now

	if err := s.store.Update(ctx, esc, prev); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(prev), string(StatusDisputed)).Inc()
	return esc, nil
}

// transition applies a terminal transition under the per-escrow lock with an
// optimistic status check at the store.
func (s *Service) transition(ctx context.Context, id string, to Status, reason string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.IsTerminal() {
		return nil, ErrFundsFinal
	}
	if !CanTransition(esc.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, esc.Status, to)
	}

	prev := esc.Status
	now := time.Now()
	esc.Status = to
	esc.UpdatedAt = now
	switch to {
	case StatusReleased:
		esc.ReleasedAt = &now
	case StatusRefunded:
		esc.RefundedAt = &now
		esc.RefundReason = reason
	}

	if err := s.store.Update(ctx, esc, prev); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(prev), string(to)).Inc()
	return esc, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByOrder returns the escrow attached to an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	return s.store.GetByOrder(ctx, orderID)
}

// Cancel removes an escrow that was created but whose order never persisted.
// Only a held escrow with no settlement history may be cancelled; this is the
// compensating action for order+escrow co-creation, not a settlement path.
func (s *Service) Cancel(ctx context.Context, id string) error {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if esc.Status != StatusHeld {
		return fmt.Errorf("%w: cannot cancel %s escrow", ErrInvalidTransition, esc.Status)
	}
	return s.store.Delete(ctx, id)
}

// ListBySeller returns escrows where the user is the seller.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// ReleasedTotal returns the sum of a seller's released escrow amounts,
// the basis for payout eligibility.
func (s *Service) ReleasedTotal(ctx context.Context, sellerID string) (string, error) {
	return s.store.SumReleasedBySeller(ctx, sellerID)
}
