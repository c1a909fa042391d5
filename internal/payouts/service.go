package payouts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/waveform-market/waveform/internal/idgen"
	"github.com/waveform-market/waveform/internal/metrics"
	"github.com/waveform-market/waveform/internal/money"
	"github.com/waveform-market/waveform/internal/syncutil"
	"github.com/waveform-market/waveform/internal/traces"
)

// ReleasedBalanceSource reports a seller's total released escrow funds.
// Satisfied by *escrow.Service.
type ReleasedBalanceSource interface {
	ReleasedTotal(ctx context.Context, sellerID string) (string, error)
}

// Service implements payout settlement.
type Service struct {
	store   Store
	escrows ReleasedBalanceSource
	minimum int64 // In millionths of a currency unit
	locks   *syncutil.ContextShardedMutex
}

// NewService creates a new payout service. minimum is the smallest
// withdrawable amount, as a decimal string.
func NewService(store Store, escrows ReleasedBalanceSource, minimum string) (*Service, error) {
	min, err := money.ParsePositive(minimum)
	if err != nil {
		return nil, fmt.Errorf("invalid payout minimum %q: %w", minimum, err)
	}
	return &Service{
		store:   store,
		escrows: escrows,
		minimum: min,
		locks:   syncutil.NewContextShardedMutex(),
	}, nil
}

// AvailableBalance computes what the seller can withdraw right now:
// released escrow total, minus completed payouts, minus amounts reserved
// by payouts still in flight. Never negative.
func (s *Service) AvailableBalance(ctx context.Context, sellerID string) (string, error) {
	units, err := s.availableUnits(ctx, sellerID)
	if err != nil {
		return "", err
	}
	return money.Format(units), nil
}

func (s *Service) availableUnits(ctx context.Context, sellerID string) (int64, error) {
	released, err := s.escrows.ReleasedTotal(ctx, sellerID)
	if err != nil {
		return 0, fmt.Errorf("failed to read released escrow total: %w", err)
	}
	releasedUnits, err := money.Parse(released)
	if err != nil {
		return 0, err
	}

	completed, err := s.store.SumCompletedBySeller(ctx, sellerID)
	if err != nil {
		return 0, fmt.Errorf("failed to read completed payout total: %w", err)
	}
	completedUnits, err := money.Parse(completed)
	if err != nil {
		return 0, err
	}

	pending, err := s.store.SumPendingBySeller(ctx, sellerID)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending payout total: %w", err)
	}
	pendingUnits, err := money.Parse(pending)
	if err != nil {
		return 0, err
	}

	available := releasedUnits - completedUnits - pendingUnits
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Request creates a withdrawal against the seller's available balance.
//
// Requests for the same seller are serialized so two concurrent requests
// cannot both pass the balance check against the same funds.
func (s *Service) Request(ctx context.Context, sellerID string, req RequestPayoutRequest) (_ *Payout, retErr error) {
	ctx, span := traces.StartSpan(ctx, "payouts.Request",
		traces.UserID(sellerID),
		traces.Amount(req.Amount),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(req.BankAccount) == "" {
		return nil, ErrMissingBankAccount
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if amount < s.minimum {
		return nil, fmt.Errorf("%w (minimum %s)", ErrBelowMinimum, money.Format(s.minimum))
	}

	unlock, err := s.locks.LockContext(ctx, "seller:"+sellerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	available, err := s.availableUnits(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if amount > available {
		return nil, fmt.Errorf("%w (available %s)", ErrInsufficientBalance, money.Format(available))
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	now := time.Now()
	payout := &Payout{
		ID:          idgen.WithPrefix("pay_"),
		ArtistID:    sellerID,
		Amount:      money.Format(amount),
		Currency:    currency,
		Status:      StatusRequested,
		BankAccount: maskAccount(req.BankAccount),
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, payout); err != nil {
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	metrics.PayoutsTotal.WithLabelValues(string(StatusRequested)).Inc()
	return payout, nil
}

// MarkProcessing records that the back office picked up the transfer.
func (s *Service) MarkProcessing(ctx context.Context, id string) (*Payout, error) {
	return s.transition(ctx, id, StatusRequested, StatusProcessing, "")
}

// Complete records that the external transfer finished. The amount now
// counts against the seller's balance permanently.
func (s *Service) Complete(ctx context.Context, id string) (*Payout, error) {
	return s.transition(ctx, id, StatusProcessing, StatusCompleted, "")
}

// Fail records a failed transfer. The reserved amount returns to the
// seller's available balance.
func (s *Service) Fail(ctx context.Context, id, reason string) (*Payout, error) {
	payout, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Failure is legal from either pre-terminal state
	if payout.Status != StatusRequested && payout.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: payout is %s", ErrInvalidStatus, payout.Status)
	}
	return s.transition(ctx, id, payout.Status, StatusFailed, reason)
}

func (s *Service) transition(ctx context.Context, id string, from, to Status, reason string) (*Payout, error) {
	payout, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != from {
		return nil, fmt.Errorf("%w: payout is %s, expected %s", ErrInvalidStatus, payout.Status, from)
	}

	now := time.Now()
	payout.Status = to
	payout.UpdatedAt = now
	if to == StatusCompleted || to == StatusFailed {
		payout.ProcessedAt = &now
	}
	if reason != "" {
		payout.FailureReason = reason
	}

	if err := s.store.Update(ctx, payout, from); err != nil {
		return nil, err
	}
	metrics.PayoutsTotal.WithLabelValues(string(to)).Inc()
	return payout, nil
}

// Get returns a payout by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payout, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns a seller's payouts, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}
