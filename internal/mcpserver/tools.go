package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Waveform MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetProduct = mcp.NewTool("get_product",
	mcp.WithDescription(
		"Look up a product listing on the Waveform marketplace. "+
			"Returns title, price, currency, seller, and whether it is currently purchasable."),
	mcp.WithString("product_id",
		mcp.Required(),
		mcp.Description("The product ID (e.g. 'prd_...')")),
)

var ToolListSellerProducts = mcp.NewTool("list_seller_products",
	mcp.WithDescription(
		"Browse a seller's catalog on the Waveform marketplace. "+
			"Use this to see what an artist or label has for sale."),
	mcp.WithString("seller_id",
		mcp.Required(),
		mcp.Description("The seller's user ID (e.g. 'usr_...')")),
)

var ToolBuyProduct = mcp.NewTool("buy_product",
	mcp.WithDescription(
		"Purchase a product on the Waveform marketplace. "+
			"Creates an order and an escrow that holds the payment until you confirm delivery. "+
			"The charge settles asynchronously, so check the order status afterwards with get_order."),
	mcp.WithString("product_id",
		mcp.Required(),
		mcp.Description("The product ID to purchase (e.g. 'prd_...')")),
)

var ToolGetOrder = mcp.NewTool("get_order",
	mcp.WithDescription(
		"Check the settlement status of an order. "+
			"Statuses: pending_payment (awaiting charge), processing (paid, awaiting your confirmation), "+
			"completed (funds released to the seller), disputed, refunded."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID from a previous buy_product result")),
)

var ToolListMyOrders = mcp.NewTool("list_my_orders",
	mcp.WithDescription(
		"List your orders on Waveform, newest first, with their settlement statuses."),
)

var ToolConfirmReceipt = mcp.NewTool("confirm_receipt",
	mcp.WithDescription(
		"Confirm delivery of an order, releasing the escrowed payment to the seller. "+
			"Only works once the order is in processing. This is final: after confirming, "+
			"the funds belong to the seller and can no longer be disputed."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID to confirm")),
)

var ToolOpenDispute = mcp.NewTool("open_dispute",
	mcp.WithDescription(
		"Dispute an order when the seller failed to deliver or delivered something wrong. "+
			"Freezes the escrowed payment until an admin resolves the dispute. "+
			"If you win, the payment is refunded to you."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID to dispute")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Short reason for the dispute (e.g. 'not_delivered', 'wrong_item')")),
	mcp.WithString("description",
		mcp.Description("Longer explanation of what went wrong")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your seller balance on Waveform: released earnings available for payout."),
)

var ToolRequestPayout = mcp.NewTool("request_payout",
	mcp.WithDescription(
		"Withdraw released earnings to a bank account. "+
			"The amount is reserved immediately and the transfer is processed by the back office."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to withdraw (e.g. '25.00'). Must not exceed your available balance.")),
	mcp.WithString("bank_account",
		mcp.Required(),
		mcp.Description("Destination bank account (IBAN or account number)")),
)

var ToolGetArtistRevenue = mcp.NewTool("get_artist_revenue",
	mcp.WithDescription(
		"Get an artist's revenue breakdown on Waveform: stream royalties, sales, and other "+
			"sources, with a running total."),
	mcp.WithString("artist_id",
		mcp.Required(),
		mcp.Description("The artist's user ID (e.g. 'usr_...')")),
)

var ToolRecordStream = mcp.NewTool("record_stream",
	mcp.WithDescription(
		"Log a track play for royalty attribution. Plays above the minimum duration "+
			"earn the artist the per-stream rate; suspicious plays are logged but earn nothing."),
	mcp.WithString("track_id",
		mcp.Required(),
		mcp.Description("The track ID that was played (e.g. 'trk_...')")),
	mcp.WithNumber("duration_seconds",
		mcp.Required(),
		mcp.Description("How long the track was played, in seconds")),
)
