// Package x402 provides HTTP 402 Payment Required middleware settled with
// Solana transfers.
//
// A Gate answers 402 with x402 v1 payment requirements until a request
// carries proof of payment. Three proofs are accepted:
//
//   - an X-PAYMENT header (base64 JSON) naming a submitted transaction or
//     carrying a signed transaction for a facilitator to settle;
//   - the X-Solana-Signature, X-Solana-Pubkey and X-Solana-Timestamp headers;
//   - a receipt from an earlier payment sent as a Bearer token.
//
// Basic usage:
//
//	rpc, _ := solana.NewClient(solana.ClientConfig{RPCURL: solana.DevnetRPC})
//	gate, err := x402.NewGate(x402.Config{
//	    Network:         x402.NetworkSolanaDevnet,
//	    PayTo:           "4XTm6QXMNgVJqGd2u14BZRce7PoVGrBGV7AHGwhkWqTy",
//	    PricePerRequest: 1_000_000, // 0.001 SOL
//	    Verifier:        solana.NewVerifier(rpc, solana.CommitmentConfirmed),
//	    Replay:          x402.NewMemoryReplayGuard(time.Minute),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.Handle("/api/", gate.Handler(apiHandler))
//
// Handlers behind the gate read the verified payment with PaymentFromContext.
package x402
