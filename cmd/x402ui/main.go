// x402ui serves UI component payloads behind HTTP 402 payments settled on Solana.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "x402ui",
	Short: "Pay-per-request UI component server",
	Long: `x402ui sells generated UI component payloads (card, form, table, chart,
list, hero, pricing) behind the HTTP 402 payment flow.

Clients pay with a Solana transfer and prove it either with an X-PAYMENT
header or with the X-Solana-Signature / X-Solana-Pubkey / X-Solana-Timestamp
header triple.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Loads configuration from .env files and the environment, then serves the
component API until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [signature]",
	Short: "Check a payment transaction on chain",
	Long: `Runs the same getTransaction check the server performs and prints the
verified transfer as JSON.

Example:
  x402ui verify 5Jchm6... --signer C8H4v4... --recipient 4XTm6Q... --amount 0.001`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List component templates and their prices",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load (missing files are ignored)")

	verifyCmd.Flags().StringVar(&verifyOpts.signer, "signer", "", "expected fee payer public key (required)")
	verifyCmd.Flags().StringVar(&verifyOpts.recipient, "recipient", "", "expected recipient wallet (required)")
	verifyCmd.Flags().StringVar(&verifyOpts.amount, "amount", "", "expected amount as a decimal, e.g. 0.001 (required)")
	verifyCmd.Flags().StringVar(&verifyOpts.mint, "mint", "", "SPL token mint; empty means SOL")
	verifyCmd.Flags().IntVar(&verifyOpts.decimals, "decimals", 9, "decimals of the asset")
	verifyCmd.Flags().Uint64Var(&verifyOpts.tolerance, "tolerance", 0, "shortfall accepted, in atomic units")
	verifyCmd.Flags().StringVar(&verifyOpts.network, "network", "solana-devnet", "network whose public RPC is used when --rpc is empty")
	verifyCmd.Flags().StringVar(&verifyOpts.rpc, "rpc", "", "Solana JSON-RPC URL")
	verifyCmd.Flags().StringVar(&verifyOpts.commitment, "commitment", "confirmed", "commitment level")
	verifyCmd.Flags().DurationVar(&verifyOpts.timeout, "timeout", defaultVerifyTimeout, "RPC timeout")
	_ = verifyCmd.MarkFlagRequired("signer")
	_ = verifyCmd.MarkFlagRequired("recipient")
	_ = verifyCmd.MarkFlagRequired("amount")

	templatesCmd.Flags().StringVar(&templatesOpts.catalog, "catalog", "", "catalog override file (defaults to CATALOG_PATH)")
	templatesCmd.Flags().StringVar(&templatesOpts.price, "price", "", "default price (defaults to PRICE)")
	templatesCmd.Flags().IntVar(&templatesOpts.decimals, "decimals", -1, "asset decimals (defaults to ASSET_DECIMALS)")
	templatesCmd.Flags().BoolVar(&templatesOpts.json, "json", false, "print JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(templatesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
