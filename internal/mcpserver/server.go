package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Waveform tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("waveform", "1.0.0")
	client := NewWaveformClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetProduct, h.HandleGetProduct)
	s.AddTool(ToolListSellerProducts, h.HandleListSellerProducts)
	s.AddTool(ToolBuyProduct, h.HandleBuyProduct)
	s.AddTool(ToolGetOrder, h.HandleGetOrder)
	s.AddTool(ToolListMyOrders, h.HandleListMyOrders)
	s.AddTool(ToolConfirmReceipt, h.HandleConfirmReceipt)
	s.AddTool(ToolOpenDispute, h.HandleOpenDispute)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolRequestPayout, h.HandleRequestPayout)
	s.AddTool(ToolGetArtistRevenue, h.HandleGetArtistRevenue)
	s.AddTool(ToolRecordStream, h.HandleRecordStream)

	return s
}
