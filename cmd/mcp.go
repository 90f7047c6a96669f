package cmd

import (
	"context"
	"os/signal"
	"syscall"

	mcpsrv "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"cordai/internal/config"
	"cordai/internal/mcpserver"
	"cordai/internal/service/ai"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the lookup tools and the agent as an MCP server",
		Long:  "mcp serves get-sol-price, get-wallet-balance and ask_<agent> over stdio, or over streamable HTTP at /mcp when --addr is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, closers, err := wireMCP(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeAll(closers)

			if addr == "" {
				return mcpsrv.ServeStdio(srv)
			}
			return runHTTP(ctx, addr, mcpsrv.NewStreamableHTTPServer(srv))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

// wireMCP publishes the same tools the agent uses. Without a usable provider
// only the lookup tools are listed.
func wireMCP(ctx context.Context, cfg *config.Config) (*mcpsrv.MCPServer, []func() error, error) {
	core := wireAgent(ctx, cfg)
	agents := map[string]ai.Invoker{}
	if core.agent != nil {
		agents[cfg.Chat.AgentName] = core.agent
	}
	srv, err := mcpserver.New(ctx, mcpserver.Options{
		Tools:   ai.InitToolsChain(core.prices, core.balances, cfg.Solana.BalanceRateLimit, core.memory),
		Agents:  agents,
		Timeout: cfg.Chat.StreamTimeout(),
	})
	if err != nil {
		closeAll(core.closers)
		return nil, nil, err
	}
	return srv, core.closers, nil
}
