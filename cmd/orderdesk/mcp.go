package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/orderdesk/internal/gateway/mcp"
	"github.com/jkaninda/orderdesk/internal/orderapi"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only order tools over MCP (stdio)",
	Long: `Expose track_order, list_orders and add_order to MCP clients on stdio.
No cancellation tool is offered: cancellations need a confirmed chat session.`,
	RunE: runMCP,
}

func runMCP(_ *cobra.Command, _ []string) error {
	// stdout carries the protocol; logs go to stderr only.
	logger := newLogger()

	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}
	client := orderapi.NewClient(cfg.OrderStore.StoreBaseURL(), logger,
		orderapi.WithTimeout(cfg.OrderStore.Timeout()),
	)
	logger.Info("mcp server starting",
		slog.String("order_store", client.BaseURL()),
		slog.Int("pid", os.Getpid()),
	)
	return mcp.New(client, logger).Serve()
}
