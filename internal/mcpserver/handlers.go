package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *WaveformClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *WaveformClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetProduct looks up a product listing.
func (h *Handlers) HandleGetProduct(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID := req.GetString("product_id", "")
	if productID == "" {
		return mcp.NewToolResultError("product_id is required"), nil
	}

	raw, err := h.client.GetProduct(ctx, productID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get product: %v", err)), nil
	}

	product, ok := unwrap(raw, "product")
	if !ok {
		return mcp.NewToolResultError("unexpected product response format"), nil
	}

	return mcp.NewToolResultText(formatProduct(product)), nil
}

// HandleListSellerProducts browses a seller's catalog.
func (h *Handlers) HandleListSellerProducts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sellerID := req.GetString("seller_id", "")
	if sellerID == "" {
		return mcp.NewToolResultError("seller_id is required"), nil
	}

	raw, err := h.client.ListSellerProducts(ctx, sellerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list products: %v", err)), nil
	}

	items, err := unwrapList(raw, "products")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("This seller has no products listed."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d product(s):\n\n", len(items))
	for i, p := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, getString(p, "title"))
		fmt.Fprintf(&sb, "   ID: %s | Price: %s %s", getString(p, "id"), getString(p, "price"), getString(p, "currency"))
		if active, ok := p["active"].(bool); ok && !active {
			sb.WriteString(" | NOT FOR SALE")
		}
		sb.WriteString("\n")
		if i < len(items)-1 {
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleBuyProduct places an order and reports the escrow that holds the payment.
func (h *Handlers) HandleBuyProduct(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID := req.GetString("product_id", "")
	if productID == "" {
		return mcp.NewToolResultError("product_id is required"), nil
	}

	raw, err := h.client.BuyProduct(ctx, productID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Purchase failed: %v", err)), nil
	}

	order, ok := unwrap(raw, "order")
	if !ok {
		return mcp.NewToolResultError("unexpected order response format"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Order placed.\n\n%s\n"+
			"Your payment is held in escrow until you confirm delivery. "+
			"Check the order with get_order; once it reaches processing, "+
			"use confirm_receipt to release the payment or open_dispute if something is wrong.",
		formatOrder(order))), nil
}

// HandleGetOrder reports an order's settlement status.
func (h *Handlers) HandleGetOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.GetOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get order: %v", err)), nil
	}

	order, ok := unwrap(raw, "order")
	if !ok {
		return mcp.NewToolResultError("unexpected order response format"), nil
	}

	return mcp.NewToolResultText(formatOrder(order)), nil
}

// HandleListMyOrders lists the acting user's orders.
func (h *Handlers) HandleListMyOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListMyOrders(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list orders: %v", err)), nil
	}

	items, err := unwrapList(raw, "orders")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("You have no orders."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d order(s):\n\n", len(items))
	for i, o := range items {
		fmt.Fprintf(&sb, "%d. %s | %s %s | %s\n",
			i+1, getString(o, "id"), getString(o, "price"), getString(o, "currency"), getString(o, "status"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleConfirmReceipt confirms delivery, releasing the escrow.
func (h *Handlers) HandleConfirmReceipt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.ConfirmReceipt(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Confirmation failed: %v", err)), nil
	}

	order, ok := unwrap(raw, "order")
	if !ok {
		return mcp.NewToolResultError("unexpected order response format"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Delivery confirmed. The payment has been released to the seller.\n\n%s",
		formatOrder(order))), nil
}

// HandleOpenDispute freezes an order's escrow pending review.
func (h *Handlers) HandleOpenDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}
	description := req.GetString("description", "")

	raw, err := h.client.OpenDispute(ctx, orderID, reason, description)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	disputeID := ""
	if dispute, ok := unwrap(raw, "dispute"); ok {
		disputeID = getString(dispute, "id")
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute opened on order %s.\n"+
			"Dispute ID: %s\n"+
			"Reason: %s\n"+
			"Status: The escrowed payment is frozen until an admin resolves the dispute. "+
			"If you win, it is refunded to you.",
		orderID, disputeID, reason)), nil
}

// HandleCheckBalance reports the seller balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError("unexpected balance response format"), nil
	}

	var sb strings.Builder
	sb.WriteString("Seller balance:\n")
	fmt.Fprintf(&sb, "  Available for payout: %s\n", getString(resp, "availableBalance"))
	if v := getString(resp, "pendingPayouts"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Reserved by pending payouts: %s\n", v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRequestPayout requests a withdrawal of released earnings.
func (h *Handlers) HandleRequestPayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	bankAccount := req.GetString("bank_account", "")
	if bankAccount == "" {
		return mcp.NewToolResultError("bank_account is required"), nil
	}

	raw, err := h.client.RequestPayout(ctx, amount, bankAccount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payout request failed: %v", err)), nil
	}

	payout, ok := unwrap(raw, "payout")
	if !ok {
		return mcp.NewToolResultError("unexpected payout response format"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Payout requested.\n"+
			"Payout ID: %s\n"+
			"Amount: %s %s\n"+
			"Destination: %s\n"+
			"Status: %s\n\n"+
			"The amount is reserved from your balance while the transfer is processed.",
		getString(payout, "id"), getString(payout, "amount"), getString(payout, "currency"),
		getString(payout, "bankAccount"), getString(payout, "status"))), nil
}

// HandleGetArtistRevenue reports an artist's revenue breakdown.
func (h *Handlers) HandleGetArtistRevenue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artistID := req.GetString("artist_id", "")
	if artistID == "" {
		return mcp.NewToolResultError("artist_id is required"), nil
	}

	raw, err := h.client.GetArtistRevenue(ctx, artistID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get revenue: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError("unexpected revenue response format"), nil
	}

	entries, _ := resp["entries"].([]any)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Revenue for %s:\n", artistID)
	fmt.Fprintf(&sb, "  Total: %s\n", getString(resp, "total"))
	if len(entries) > 0 {
		fmt.Fprintf(&sb, "  Entries (%d):\n", len(entries))
		for _, e := range entries {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "    %s: %s", getString(m, "source"), getString(m, "amount"))
			if track := getString(m, "trackId"); track != "" {
				fmt.Fprintf(&sb, " (track %s)", track)
			}
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRecordStream logs a track play.
func (h *Handlers) HandleRecordStream(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trackID := req.GetString("track_id", "")
	if trackID == "" {
		return mcp.NewToolResultError("track_id is required"), nil
	}
	duration := req.GetInt("duration_seconds", 0)

	raw, err := h.client.RecordStream(ctx, trackID, duration)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record stream: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError("unexpected stream response format"), nil
	}

	earned := getString(resp, "earned")
	valid := true
	reason := ""
	if log, ok := resp["streamLog"].(map[string]any); ok {
		if v, ok := log["isValid"].(bool); ok {
			valid = v
		}
		reason = getString(log, "invalidReason")
	}

	if !valid {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Stream logged but flagged invalid (%s). No royalty earned.", reason)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Stream recorded for track %s. Artist earned %s.", trackID, earned)), nil
}

// --- Formatting helpers ---

func formatProduct(p map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product: %s\n", getString(p, "title"))
	fmt.Fprintf(&sb, "  ID: %s\n", getString(p, "id"))
	fmt.Fprintf(&sb, "  Price: %s %s\n", getString(p, "price"), getString(p, "currency"))
	fmt.Fprintf(&sb, "  Seller: %s\n", getString(p, "sellerId"))
	if desc := getString(p, "description"); desc != "" {
		fmt.Fprintf(&sb, "  Description: %s\n", desc)
	}
	if active, ok := p["active"].(bool); ok && !active {
		sb.WriteString("  Status: NOT FOR SALE\n")
	}
	return sb.String()
}

func formatOrder(o map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s\n", getString(o, "id"))
	fmt.Fprintf(&sb, "  Product: %s\n", getString(o, "productId"))
	fmt.Fprintf(&sb, "  Amount: %s %s\n", getString(o, "price"), getString(o, "currency"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(o, "status"))
	if escrow := getString(o, "escrowId"); escrow != "" {
		fmt.Fprintf(&sb, "  Escrow: %s\n", escrow)
	}
	return sb.String()
}

// unwrap extracts a nested object from a {"key": {...}} response.
func unwrap(raw json.RawMessage, key string) (map[string]any, bool) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	if obj, ok := resp[key].(map[string]any); ok {
		return obj, true
	}
	return resp, len(resp) > 0
}

// unwrapList extracts a list from a {"key": [...]} response, falling back
// to a bare array.
func unwrapList(raw json.RawMessage, key string) ([]map[string]any, error) {
	var wrapper map[string]json.RawMessage
	items := raw
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if inner, ok := wrapper[key]; ok {
			items = inner
		}
	}

	var arr []map[string]any
	if err := json.Unmarshal(items, &arr); err != nil {
		return nil, fmt.Errorf("unexpected %s response format", key)
	}
	return arr, nil
}

// getString extracts a string value from a map, formatting numbers as text.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
