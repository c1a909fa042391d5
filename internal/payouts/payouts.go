// Package payouts settles released escrow funds into seller withdrawals.
//
// A payout never references an escrow directly: the withdrawable balance is
// derived as released escrow total minus completed payout total, and the
// payout record only tracks the intent and state of the external transfer.
package payouts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("payouts: not found")
	ErrBelowMinimum        = errors.New("payouts: amount below the payout minimum")
	ErrInsufficientBalance = errors.New("payouts: amount exceeds available balance")
	ErrInvalidAmount       = errors.New("payouts: invalid amount")
	ErrMissingBankAccount  = errors.New("payouts: bank account is required")
	ErrInvalidStatus       = errors.New("payouts: operation illegal in current status")
	ErrConflict            = errors.New("payouts: payout modified concurrently")
)

// Status represents the state of a payout request.
type Status string

const (
	StatusRequested  Status = "requested"  // Created, awaiting back-office pickup
	StatusProcessing Status = "processing" // Transfer in flight
	StatusCompleted  Status = "completed"  // Money left the platform (terminal)
	StatusFailed     Status = "failed"     // Transfer failed; amount returns to balance (terminal)
)

// Payout is one seller withdrawal request against released escrow funds.
type Payout struct {
	ID            string     `json:"id"`
	ArtistID      string     `json:"artistId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	BankAccount   string     `json:"bankAccount"` // Masked, last four digits only
	FailureReason string     `json:"failureReason,omitempty"`
	RequestedAt   time.Time  `json:"requestedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the payout is in a final state.
func (p *Payout) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Store persists payout data.
//
// Update applies the record only if the stored status still equals expect,
// returning ErrConflict otherwise. SumCompleted counts completed payouts
// only: requested and processing amounts are reserved by the per-seller
// lock, not by the balance formula.
type Store interface {
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	Update(ctx context.Context, p *Payout, expect Status) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Payout, error)
	SumCompletedBySeller(ctx context.Context, sellerID string) (string, error)
	SumPendingBySeller(ctx context.Context, sellerID string) (string, error)
}

// RequestPayoutRequest is the payload for requesting a withdrawal.
type RequestPayoutRequest struct {
	Amount      string `json:"amount" binding:"required"`
	BankAccount string `json:"bankAccount" binding:"required"`
	Currency    string `json:"currency"`
}

// FailRequest is the payload for marking a payout failed.
type FailRequest struct {
	Reason string `json:"reason"`
}

// maskAccount reduces a bank account to its last four digits. The full
// number never reaches storage.
func maskAccount(account string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, account)
	if len(digits) <= 4 {
		return "****" + digits
	}
	return "****" + digits[len(digits)-4:]
}
