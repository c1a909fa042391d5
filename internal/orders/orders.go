// Package orders drives the buyer↔seller transaction workflow.
//
// Flow:
//  1. Buyer creates an order → order (pending_payment) + escrow (held),
//     created together or not at all
//  2. Gateway webhook confirms the charge → order (processing)
//  3. Buyer confirms receipt → order (completed), escrow released to seller
//  4. Either party disputes while funds are held → order (disputed),
//     escrow frozen until an admin resolves for one side
//  5. Payment failure at any point before settlement → order (refunded)
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/waveform-market/waveform/internal/escrow"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrUnauthorized     = errors.New("not authorized for this order operation")
	ErrInvalidStatus    = errors.New("operation illegal in current order status")
	ErrDisputeExists    = errors.New("an unresolved dispute already exists for this order")
	ErrFundsFinal       = errors.New("escrow funds already final; dispute window closed")
	ErrConflict         = errors.New("order modified concurrently")
	ErrMissingReason    = errors.New("dispute reason is required")
	ErrSelfPurchase     = errors.New("buyer and seller cannot be the same user")
	ErrProductNotPriced = errors.New("product has no price")
)

// Status represents the state of an order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment" // Created, awaiting gateway confirmation
	StatusProcessing     Status = "processing"      // Charge confirmed, awaiting buyer confirmation
	StatusCompleted      Status = "completed"       // Buyer confirmed, escrow released (terminal)
	StatusDisputed       Status = "disputed"        // Frozen pending admin resolution
	StatusRefunded       Status = "refunded"        // Payment failed or buyer won dispute (terminal)
)

// Order represents one buyer↔seller digital transaction.
type Order struct {
	ID               string     `json:"id"`
	BuyerID          string     `json:"buyerId"`
	SellerID         string     `json:"sellerId"`
	ProductID        string     `json:"productId"`
	Price            string     `json:"price"`
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	EscrowID         string     `json:"escrowId"`
	PaymentReference string     `json:"paymentReference,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
	ConfirmedBy      string     `json:"confirmedBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusRefunded
}

// DisputeStatus represents the state of a dispute.
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "open"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeResolved    DisputeStatus = "resolved"
	DisputeClosed      DisputeStatus = "closed" // Archival, reachable only from resolved
)

// Resolution is an admin's dispute verdict.
type Resolution string

const (
	ResolutionRefundBuyer Resolution = "refund_buyer"
	ResolutionPaySeller   Resolution = "pay_seller"
)

// Winner identifies the prevailing side of a resolved dispute.
type Winner string

const (
	WinnerBuyer  Winner = "buyer"
	WinnerSeller Winner = "seller"
)

// Dispute is one active or historical adjudication tied to an order.
type Dispute struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"orderId"`
	InitiatedBy string        `json:"initiatedBy"`
	Reason      string        `json:"reason"`
	Description string        `json:"description,omitempty"`
	Status      DisputeStatus `json:"status"`
	Resolution  string        `json:"resolution,omitempty"`
	Winner      Winner        `json:"winner,omitempty"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy  string        `json:"resolvedBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// IsUnresolved reports whether the dispute still blocks its order.
func (d *Dispute) IsUnresolved() bool {
	return d.Status == DisputeOpen || d.Status == DisputeUnderReview
}

// Store persists order and dispute data.
//
// UpdateOrder and UpdateDispute apply the record only if the stored status
// still equals expect, returning ErrConflict otherwise.
type Store interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order, expect Status) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	GetUnresolvedDisputeByOrder(ctx context.Context, orderID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute, expect DisputeStatus) error
	ListDisputes(ctx context.Context, status DisputeStatus, limit int) ([]*Dispute, error)
}

// ProductInfo is the slice of catalog data the workflow needs.
type ProductInfo struct {
	ID       string
	SellerID string
	Price    string
	Currency string
	Active   bool
}

// ProductCatalog resolves product metadata at order creation.
type ProductCatalog interface {
	Product(ctx context.Context, id string) (*ProductInfo, error)
}

// EscrowService abstracts the escrow state machine. Satisfied by
// *escrow.Service; mocked in tests.
type EscrowService interface {
	Open(ctx context.Context, req escrow.OpenRequest) (*escrow.Escrow, error)
	Release(ctx context.Context, id string) (*escrow.Escrow, error)
	Refund(ctx context.Context, id, reason string) (*escrow.Escrow, error)
	MarkDisputed(ctx context.Context, id string) (*escrow.Escrow, error)
	Cancel(ctx context.Context, id string) error
}

// Notifier delivers fire-and-forget notifications to users.
// Delivery failure never rolls back the transition that triggered it.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, relatedID string)
}

// EventEmitter broadcasts settlement events to live subscribers.
type EventEmitter interface {
	OrderEvent(eventType, orderID string, data map[string]interface{})
}

// CreateRequest contains the parameters for creating an order.
type CreateRequest struct {
	ProductID string `json:"productId" binding:"required"`
}

// DisputeRequest contains the parameters for opening a dispute.
type DisputeRequest struct {
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Resolution Resolution `json:"resolution" binding:"required"`
	Notes      string     `json:"notes"`
}
