package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve operator tools over MCP stdio, backed by a running gridguard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("mcp server starting", zap.String("api_url", cfg.Server.APIURL))
		return mcp.NewServer(mcp.NewClient(cfg.Server.APIURL), version).Run(ctx)
	},
}
