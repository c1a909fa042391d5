// Waveform MCP Server - Exposes Waveform marketplace operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/waveform-market/waveform/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("WAVEFORM_API_URL", "http://localhost:8080"),
		APIToken: os.Getenv("WAVEFORM_API_TOKEN"),
		UserID:   os.Getenv("WAVEFORM_USER_ID"),
	}

	if cfg.APIToken == "" {
		fmt.Fprintln(os.Stderr, "WAVEFORM_API_TOKEN is required")
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "WAVEFORM_USER_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
