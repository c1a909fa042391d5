package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/escrow"
	"github.com/waveform-market/waveform/internal/orders"
)

type stubProducts struct{}

func (stubProducts) Product(_ context.Context, id string) (*orders.ProductInfo, error) {
	if id != "prod_1" {
		return nil, errors.New("no such product")
	}
	return &orders.ProductInfo{
		ID: "prod_1", SellerID: "seller_1", Price: "9.990000", Currency: "USD", Active: true,
	}, nil
}

func newTestEnv(t *testing.T) (*Service, *orders.Service, *escrow.Service) {
	t.Helper()
	escrows := escrow.NewService(escrow.NewMemoryStore())
	orderSvc := orders.NewService(orders.NewMemoryStore(), escrows, stubProducts{})
	svc := NewService(NewMemoryStore(), orderSvc, NewManualGateway())
	return svc, orderSvc, escrows
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"charge.succeeded"}`)
	now := time.Now()

	header := Sign(payload, "whsec_test", now)
	if err := VerifySignature(payload, header, "whsec_test", now); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}

	if err := VerifySignature(payload, header, "wrong_secret", now); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong secret: expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature([]byte(`{"tampered":true}`), header, "whsec_test", now); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered payload: expected ErrBadSignature, got %v", err)
	}
}

func TestSignatureTimestampTolerance(t *testing.T) {
	payload := []byte(`{}`)
	signed := time.Now()

	header := Sign(payload, "s", signed)
	if err := VerifySignature(payload, header, "s", signed.Add(SignatureTolerance-time.Second)); err != nil {
		t.Errorf("within tolerance: expected ok, got %v", err)
	}
	if err := VerifySignature(payload, header, "s", signed.Add(SignatureTolerance+time.Minute)); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("past tolerance: expected ErrStaleTimestamp, got %v", err)
	}
}

func TestSignatureMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "v1=abc", "t=123", "garbage", "t=notanumber,v1=abc"} {
		if err := VerifySignature([]byte(`{}`), header, "s", time.Now()); err == nil {
			t.Errorf("header %q: expected error", header)
		}
	}
}

func TestProcessChargeSucceeded(t *testing.T) {
	svc, orderSvc, _ := newTestEnv(t)
	ctx := context.Background()

	order, err := orderSvc.Create(ctx, "buyer_1", "prod_1")
	if err != nil {
		t.Fatalf("order create failed: %v", err)
	}

	err = svc.Process(ctx, &Event{
		ID:        "evt_1",
		Type:      EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: order.ID, PaymentID: "pi_123"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	updated, _ := orderSvc.Get(ctx, order.ID)
	if updated.Status != orders.StatusProcessing {
		t.Errorf("expected processing, got %s", updated.Status)
	}
	if updated.PaymentReference != "pi_123" {
		t.Errorf("expected payment reference recorded, got %q", updated.PaymentReference)
	}
}

func TestProcessDuplicateEventID(t *testing.T) {
	svc, orderSvc, _ := newTestEnv(t)
	ctx := context.Background()

	order, _ := orderSvc.Create(ctx, "buyer_1", "prod_1")
	event := &Event{
		ID:        "evt_dup",
		Type:      EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: order.ID, PaymentID: "pi_123"},
	}

	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("duplicate delivery should be a no-op: %v", err)
	}

	updated, _ := orderSvc.Get(ctx, order.ID)
	if updated.Status != orders.StatusProcessing {
		t.Errorf("expected processing after duplicate, got %s", updated.Status)
	}
}

type flakyWorkflow struct {
	failures int
	calls    int
}

func (f *flakyWorkflow) OnPaymentSucceeded(_ context.Context, orderID, chargeRef string) (*orders.Order, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("order store temporarily unavailable")
	}
	return &orders.Order{ID: orderID, Status: orders.StatusProcessing, PaymentReference: chargeRef}, nil
}

func (f *flakyWorkflow) OnPaymentFailed(_ context.Context, orderID string) (*orders.Order, error) {
	f.calls++
	return &orders.Order{ID: orderID, Status: orders.StatusRefunded}, nil
}

func TestProcessRedeliveryAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	workflow := &flakyWorkflow{failures: 1}
	store := NewMemoryStore()
	svc := NewService(store, workflow, NewManualGateway())

	event := &Event{
		ID:        "evt_retry",
		Type:      EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: "ord_1", PaymentID: "pi_retry"},
	}

	if err := svc.Process(ctx, event); err == nil {
		t.Fatal("expected first delivery to fail")
	}
	if seen, _ := store.Seen(ctx, event.ID); seen {
		t.Fatal("failed delivery must not record the event")
	}

	// The gateway redelivers the same event ID after the error response
	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if workflow.calls != 2 {
		t.Errorf("expected the transition applied on redelivery, calls = %d", workflow.calls)
	}
	if seen, _ := store.Seen(ctx, event.ID); !seen {
		t.Error("applied event must be recorded")
	}

	// A third delivery is now a true duplicate
	if err := svc.Process(ctx, event); err != nil {
		t.Fatalf("duplicate delivery should be a no-op: %v", err)
	}
	if workflow.calls != 2 {
		t.Errorf("duplicate delivery must not touch the workflow, calls = %d", workflow.calls)
	}
}

func TestProcessChargeFailed(t *testing.T) {
	svc, orderSvc, escrows := newTestEnv(t)
	ctx := context.Background()

	order, _ := orderSvc.Create(ctx, "buyer_1", "prod_1")
	err := svc.Process(ctx, &Event{
		ID:        "evt_2",
		Type:      EventChargeFailed,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: order.ID},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	updated, _ := orderSvc.Get(ctx, order.ID)
	if updated.Status != orders.StatusRefunded {
		t.Errorf("expected refunded, got %s", updated.Status)
	}
	esc, _ := escrows.Get(ctx, order.EscrowID)
	if esc.Status != escrow.StatusRefunded {
		t.Errorf("expected escrow refunded, got %s", esc.Status)
	}
}

func TestProcessRejectsUnverifiedCharge(t *testing.T) {
	svc, orderSvc, _ := newTestEnv(t)
	ctx := context.Background()

	order, _ := orderSvc.Create(ctx, "buyer_1", "prod_1")
	err := svc.Process(ctx, &Event{
		ID:        "evt_3",
		Type:      EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: order.ID, PaymentID: "fail_123"},
	})
	if !errors.Is(err, ErrChargeNotVerified) {
		t.Fatalf("expected ErrChargeNotVerified, got %v", err)
	}

	updated, _ := orderSvc.Get(ctx, order.ID)
	if updated.Status != orders.StatusPendingPayment {
		t.Errorf("unverified charge must not move the order, got %s", updated.Status)
	}
}

func TestProcessValidation(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()

	err := svc.Process(ctx, &Event{ID: "evt_4", Type: EventChargeSucceeded})
	if !errors.Is(err, ErrMissingOrderID) {
		t.Errorf("expected ErrMissingOrderID, got %v", err)
	}

	err = svc.Process(ctx, &Event{
		ID:   "evt_5",
		Type: EventType("invoice.created"),
		Data: EventData{OrderID: "ord_1"},
	})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, orderSvc, _ := newTestEnv(t)
	ctx := context.Background()

	order, _ := orderSvc.Create(ctx, "buyer_1", "prod_1")

	handler := NewHandler(svc, "whsec_test")
	router := gin.New()
	handler.RegisterRoutes(router.Group("/v1"))

	body, _ := json.Marshal(Event{
		ID:        "evt_http_1",
		Type:      EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      EventData{OrderID: order.ID, PaymentID: "pi_ok"},
	})

	// Unsigned delivery is rejected
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned: expected 401, got %d", w.Code)
	}

	// Signed delivery lands
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign(body, "whsec_test", time.Now()))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("signed: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	updated, _ := orderSvc.Get(ctx, order.ID)
	if updated.Status != orders.StatusProcessing {
		t.Errorf("expected processing, got %s", updated.Status)
	}

	// Malformed payload
	junk := []byte(`{"not": "an event"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", bytes.NewReader(junk))
	req.Header.Set(SignatureHeader, Sign(junk, "whsec_test", time.Now()))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed: expected 400, got %d", w.Code)
	}
}

func TestManualGatewayDeterministic(t *testing.T) {
	g := NewManualGateway()
	ctx := context.Background()

	tests := []struct {
		id   string
		want ChargeStatus
	}{
		{"pi_abc", ChargeVerified},
		{"fail_abc", ChargeFailed},
		{"pend_abc", ChargePending},
	}
	for _, tt := range tests {
		got, err := g.VerifyCharge(ctx, tt.id)
		if err != nil {
			t.Fatalf("VerifyCharge(%s) errored: %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("VerifyCharge(%s) = %s, want %s", tt.id, got, tt.want)
		}
	}
}
