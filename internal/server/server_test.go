package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waveform-market/waveform/internal/config"
	"github.com/waveform-market/waveform/internal/gateway"
	"github.com/waveform-market/waveform/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const webhookSecret = "whsec_test"

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		GatewayWebhookSecret: webhookSecret,
		StreamRate:           "0.003",
		PayoutMinimum:        "10",
		AdminSecret:          "test-admin-secret",
		RateLimitRPM:         10000,
	}
}

// newTestServer creates a server with in-memory stores and fixed tokens
func newTestServer(t *testing.T) *Server {
	t.Helper()
	provider := identity.NewStaticProvider().
		Add("tok_buyer", "usr_buyer", identity.RoleListener).
		Add("tok_seller", "usr_seller", identity.RoleArtist)
	s, err := New(testConfig(), WithIdentityProvider(provider))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live = %d, want 200", w.Code)
	}

	// Readiness flips only once Run has started
	w = doJSON(t, s, http.MethodGet, "/health/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready before Run = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "waveform_") {
		t.Error("metrics output should contain waveform namespace")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/orders", "", map[string]string{"productId": "prd_x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated order create = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/admin/disputes/dsp_x/resolve", "tok_buyer", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-admin on admin route = %d, want 403", w.Code)
	}
}

func TestOrderHistoryIsOwnerOnly(t *testing.T) {
	provider := identity.NewStaticProvider().
		Add("tok_buyer", "usr_buyer", identity.RoleListener).
		Add("tok_other", "usr_other", identity.RoleListener).
		Add("tok_admin", "usr_admin", identity.RoleAdmin)
	s, err := New(testConfig(), WithIdentityProvider(provider))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	w := doJSON(t, s, http.MethodGet, "/v1/users/usr_buyer/orders", "tok_buyer", nil)
	if w.Code != http.StatusOK {
		t.Errorf("owner listing own orders = %d, want 200", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/users/usr_buyer/orders", "tok_other", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("listing another user's orders = %d, want 403", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/users/usr_buyer/orders", "tok_admin", nil)
	if w.Code != http.StatusOK {
		t.Errorf("admin listing a user's orders = %d, want 200", w.Code)
	}
}

// TestSettlementFlow walks the whole happy path over HTTP: publish,
// order, gateway webhook, buyer confirmation, seller balance, payout.
func TestSettlementFlow(t *testing.T) {
	s := newTestServer(t)

	// Seller publishes a product
	w := doJSON(t, s, http.MethodPost, "/v1/products", "tok_seller", map[string]string{
		"title": "Midnight Tape",
		"price": "25.00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create product = %d: %s", w.Code, w.Body.String())
	}
	product := decode(t, w)["product"].(map[string]interface{})
	productID := product["id"].(string)

	// Buyer places an order; escrow opens as held
	w = doJSON(t, s, http.MethodPost, "/v1/orders", "tok_buyer", map[string]string{
		"productId": productID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order = %d: %s", w.Code, w.Body.String())
	}
	order := decode(t, w)["order"].(map[string]interface{})
	orderID := order["id"].(string)
	if order["status"] != "pending_payment" {
		t.Errorf("order status = %v, want pending_payment", order["status"])
	}

	// Gateway reports the charge; manual provider verifies pi_ IDs
	postWebhook(t, s, gateway.Event{
		ID:        "evt_1",
		Type:      gateway.EventChargeSucceeded,
		Timestamp: time.Now(),
		Data:      gateway.EventData{OrderID: orderID, PaymentID: "pi_1", Amount: "25.000000"},
	}, http.StatusOK)

	w = doJSON(t, s, http.MethodGet, "/v1/orders/"+orderID, "", nil)
	order = decode(t, w)["order"].(map[string]interface{})
	if order["status"] != "processing" {
		t.Errorf("order status after payment = %v, want processing", order["status"])
	}

	// Buyer confirms receipt; escrow releases to the seller
	w = doJSON(t, s, http.MethodPost, "/v1/orders/"+orderID+"/confirm", "tok_buyer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/v1/sellers/usr_seller/balance", "tok_seller", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance = %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["availableBalance"]; got != "25.000000" {
		t.Errorf("availableBalance = %v, want 25.000000", got)
	}

	// Seller withdraws
	w = doJSON(t, s, http.MethodPost, "/v1/payouts", "tok_seller", map[string]string{
		"amount":      "25.00",
		"bankAccount": "DE89370400440532013000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("payout request = %d: %s", w.Code, w.Body.String())
	}
	payout := decode(t, w)["payout"].(map[string]interface{})
	if payout["status"] != "requested" {
		t.Errorf("payout status = %v, want requested", payout["status"])
	}

	w = doJSON(t, s, http.MethodGet, "/v1/sellers/usr_seller/balance", "tok_seller", nil)
	if got := decode(t, w)["availableBalance"]; got != "0.000000" {
		t.Errorf("balance after payout request = %v, want 0.000000", got)
	}
}

func postWebhook(t *testing.T, s *Server, event gateway.Event, wantCode int) {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(body, webhookSecret, time.Now()))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != wantCode {
		t.Fatalf("webhook = %d, want %d: %s", w.Code, wantCode, w.Body.String())
	}
}

func TestWebhookRejectsUnsignedEvents(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(gateway.Event{
		ID:   "evt_x",
		Type: gateway.EventChargeSucceeded,
		Data: gateway.EventData{OrderID: "ord_x"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned webhook = %d, want 401", w.Code)
	}
}

func TestAdminSecretHeaderGrantsAccess(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/disputes", nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("admin list with secret = %d, want 200: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/disputes", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin list with wrong secret = %d, want 403", w.Code)
	}
}

func TestStatusPage(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/status", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Waveform Status") {
		t.Error("status page should carry the title")
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/v1/definitely-not-a-route", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", w.Code)
	}
}
