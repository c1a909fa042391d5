package gateway

import (
	"context"
	"strings"
)

// ManualGateway is a deterministic verifier for development and tests.
// The verdict is derived from the payment ID prefix, never from chance:
// "fail_" verifies as failed, "pend_" as pending, everything else as
// verified.
type ManualGateway struct{}

// NewManualGateway creates a development payment gateway.
func NewManualGateway() *ManualGateway {
	return &ManualGateway{}
}

func (g *ManualGateway) VerifyCharge(_ context.Context, paymentID string) (ChargeStatus, error) {
	switch {
	case strings.HasPrefix(paymentID, "fail_"):
		return ChargeFailed, nil
	case strings.HasPrefix(paymentID, "pend_"):
		return ChargePending, nil
	default:
		return ChargeVerified, nil
	}
}
