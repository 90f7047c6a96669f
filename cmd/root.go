package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"cordai/internal/config"
)

type rootOptions struct {
	configPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "cordai",
		Short:         "CordAi: Solana chat assistant backend",
		Long:          "cordai serves the streaming chat relay and conversation registry, exposes the SOL price and wallet balance lookups from the terminal, and publishes them with the agent over MCP.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CORDAI_CONFIG"), "path to config.json (env CORDAI_CONFIG)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newPriceCmd(opts),
		newBalanceCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}
