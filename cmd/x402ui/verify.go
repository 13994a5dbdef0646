package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const defaultVerifyTimeout = 15 * time.Second

var verifyOpts struct {
	signer     string
	recipient  string
	amount     string
	mint       string
	decimals   int
	tolerance  uint64
	network    string
	rpc        string
	commitment string
	timeout    time.Duration
}

type verifyResult struct {
	Valid    bool             `json:"valid"`
	Reason   string           `json:"reason,omitempty"`
	Error    string           `json:"error,omitempty"`
	Transfer *solana.Transfer `json:"transfer,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	exp, rpcURL, err := verifyExpectation(args[0])
	if err != nil {
		return err
	}

	client, err := solana.NewClient(solana.ClientConfig{RPCURL: rpcURL, Timeout: verifyOpts.timeout})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), verifyOpts.timeout)
	defer cancel()

	transfer, verr := solana.NewVerifier(client, verifyOpts.commitment).VerifyTransfer(ctx, exp)
	res := verifyResult{Valid: verr == nil, Transfer: transfer}
	if verr != nil {
		res.Reason = string(x402.AsPaymentError(verr).Reason)
		res.Error = verr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if verr != nil {
		return fmt.Errorf("payment not verified: %s", res.Reason)
	}
	return nil
}

func verifyExpectation(signature string) (solana.Expectation, string, error) {
	if err := solana.ValidateSignature(signature); err != nil {
		return solana.Expectation{}, "", fmt.Errorf("signature: %w", err)
	}
	for name, key := range map[string]string{"signer": verifyOpts.signer, "recipient": verifyOpts.recipient} {
		if err := solana.ValidatePublicKey(key); err != nil {
			return solana.Expectation{}, "", fmt.Errorf("%s: %w", name, err)
		}
	}

	decimals := verifyOpts.decimals
	if verifyOpts.mint == "" {
		decimals = solana.NativeDecimals
	} else if err := solana.ValidatePublicKey(verifyOpts.mint); err != nil {
		return solana.Expectation{}, "", fmt.Errorf("mint: %w", err)
	}
	amount, err := solana.ParseAmount(verifyOpts.amount, decimals)
	if err != nil {
		return solana.Expectation{}, "", fmt.Errorf("amount: %w", err)
	}

	rpcURL := verifyOpts.rpc
	if rpcURL == "" {
		network, err := x402.NormalizeNetwork(verifyOpts.network)
		if err != nil {
			return solana.Expectation{}, "", err
		}
		rpcURL = network.DefaultRPCURL()
	}

	return solana.Expectation{
		Signature: signature,
		Signer:    verifyOpts.signer,
		Recipient: verifyOpts.recipient,
		Mint:      verifyOpts.mint,
		Amount:    amount,
		Tolerance: verifyOpts.tolerance,
	}, rpcURL, nil
}
