package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cordai/internal/service/solana"
)

func newPriceCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Show the current SOL price in USD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			quote, err := solana.NewPriceClient(cfg.Solana.PriceURL, 0, nil).SOLPrice(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, quote)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SOL: $%.2f\n", quote.Price)
			fmt.Fprintf(out, "24h change: %+.2f%%\n", quote.Change24h)
			fmt.Fprintf(out, "24h volume: $%.0f\n", quote.Volume24h)
			fmt.Fprintf(out, "market cap: $%.0f\n", quote.MarketCap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		rpcURL string
	)
	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the SOL balance of a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if rpcURL == "" {
				rpcURL = cfg.Solana.RPCURL
			}
			bal, err := solana.NewBalanceClient(rpcURL).Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, bal)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.9f SOL (%d lamports)\n", bal.Address, bal.Balance, bal.Lamports)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "Solana JSON-RPC endpoint, overrides solana.rpc_url")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
