package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

// StripeGateway verifies charges against the Stripe API.
type StripeGateway struct{}

// NewStripeGateway configures the Stripe client with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

// VerifyCharge looks up the payment intent and maps its status.
func (g *StripeGateway) VerifyCharge(ctx context.Context, paymentID string) (ChargeStatus, error) {
	pi, err := paymentintent.Get(paymentID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", fmt.Errorf("stripe lookup failed: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeVerified, nil
	case stripe.PaymentIntentStatusCanceled,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return ChargeFailed, nil
	default:
		return ChargePending, nil
	}
}
