// Package mcp exposes the lot coordinator as Model Context Protocol tools
// so agent runtimes can register lots, validate workflow steps and drive
// the escrow lifecycle over a stdio session.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "tracelot"
	serverVersion = "0.1.0"
)

// NewServer builds an MCP server with every lot and payment tool
// registered against the coordinator.
func NewServer(c Coordinator) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	mcp.AddTool(server, ListLotsTool(), ListLotsHandler(c))
	mcp.AddTool(server, GetLotTool(), GetLotHandler(c))
	mcp.AddTool(server, CreateLotTool(), CreateLotHandler(c))
	mcp.AddTool(server, ValidateStepTool(), ValidateStepHandler(c))
	mcp.AddTool(server, DepositPaymentTool(), DepositPaymentHandler(c))
	mcp.AddTool(server, ReleasePaymentTool(), ReleasePaymentHandler(c))
	mcp.AddTool(server, RefundPaymentTool(), RefundPaymentHandler(c))
	mcp.AddTool(server, PaymentStatsTool(), PaymentStatsHandler(c))
	return server
}

// Run serves the tools over stdio until ctx is cancelled.
func Run(ctx context.Context, c Coordinator) error {
	return NewServer(c).Run(ctx, &mcp.StdioTransport{})
}
