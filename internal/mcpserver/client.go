package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Waveform platform.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIToken string // Bearer token for the acting user
	UserID   string // The acting user's ID, e.g. "usr_..."
}

// WaveformClient is a pure HTTP client for the Waveform platform API.
type WaveformClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewWaveformClient creates a new client for the Waveform platform.
func NewWaveformClient(cfg Config) *WaveformClient {
	return &WaveformClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *WaveformClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetProduct fetches a single catalog product.
func (c *WaveformClient) GetProduct(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/products/"+productID, nil, nil)
}

// ListSellerProducts lists a seller's catalog.
func (c *WaveformClient) ListSellerProducts(ctx context.Context, sellerID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sellers/"+sellerID+"/products", nil, nil)
}

// BuyProduct places an order for a product. Payment settles asynchronously
// through the gateway, so the returned order starts in pending_payment.
func (c *WaveformClient) BuyProduct(ctx context.Context, productID string) (json.RawMessage, error) {
	body := map[string]string{"productId": productID}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body)
}

// GetOrder fetches an order with its current settlement status.
func (c *WaveformClient) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+orderID, nil, nil)
}

// ListMyOrders lists the acting user's orders.
func (c *WaveformClient) ListMyOrders(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/users/"+c.cfg.UserID+"/orders", nil, nil)
}

// ConfirmReceipt confirms delivery, releasing the escrowed funds to the seller.
func (c *WaveformClient) ConfirmReceipt(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+orderID+"/confirm", nil, nil)
}

// OpenDispute freezes an order's escrow pending admin review.
func (c *WaveformClient) OpenDispute(ctx context.Context, orderID, reason, description string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	if description != "" {
		body["description"] = description
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+orderID+"/dispute", nil, body)
}

// GetBalance returns the acting user's seller balance.
func (c *WaveformClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sellers/"+c.cfg.UserID+"/balance", nil, nil)
}

// RequestPayout asks for a withdrawal of released earnings.
func (c *WaveformClient) RequestPayout(ctx context.Context, amount, bankAccount string) (json.RawMessage, error) {
	body := map[string]string{
		"amount":      amount,
		"bankAccount": bankAccount,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payouts", nil, body)
}

// GetArtistRevenue returns an artist's revenue entries and total.
func (c *WaveformClient) GetArtistRevenue(ctx context.Context, artistID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/artists/"+artistID+"/revenue", nil, nil)
}

// RecordStream logs a track play for attribution.
func (c *WaveformClient) RecordStream(ctx context.Context, trackID string, durationSeconds int) (json.RawMessage, error) {
	body := map[string]any{
		"trackId":         trackID,
		"durationSeconds": durationSeconds,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/streams", nil, body)
}
