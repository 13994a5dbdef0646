// mockchain is a local stand-in for a Solana JSON-RPC node and an x402
// facilitator, for running the component server without a real cluster.
//
// Register a transfer and point the server at it:
//
//	curl -X POST localhost:8899/fixtures -d '{"signer":"<payer>","recipient":"<PAY_TO>","amount":1000000}'
//	SOLANA_RPC_URL=http://localhost:8899 FACILITATOR_URL=http://localhost:8899 x402ui serve
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/siddimore/x402-ui-components/internal/logging"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

var opts struct {
	listen    string
	network   string
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:          "mockchain",
	Short:        "Fake Solana RPC and x402 facilitator for local demos",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		network, err := x402.NormalizeNetwork(opts.network)
		if err != nil {
			return err
		}
		logger := logging.New("mockchain", opts.logLevel, opts.logFormat)
		c := newChain(network, logger)

		srv := &http.Server{
			Addr:              opts.listen,
			Handler:           c.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.WithFields(map[string]interface{}{
			"addr":    opts.listen,
			"network": string(network),
		}).Info("mock chain listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&opts.listen, "listen", ":8899", "listen address")
	rootCmd.Flags().StringVar(&opts.network, "network", "solana-devnet", "network reported by the facilitator")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	rootCmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format (json or text)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
