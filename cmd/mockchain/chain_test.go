package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddimore/x402-ui-components/internal/logging"
	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const (
	testPayer     = "C8H4v4c2eA6njjgzvWSrCpLdYg3hWSygoVsi4RkUrzjV"
	testRecipient = "4XTm6QXMNgVJqGd2u14BZRce7PoVGrBGV7AHGwhkWqTy"
	testMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newTestChain(t *testing.T) (*chain, *httptest.Server, *solana.Client) {
	t.Helper()
	c := newChain(x402.NetworkSolanaDevnet, logging.NewForTest(&bytes.Buffer{}))
	ts := httptest.NewServer(c.router())
	t.Cleanup(ts.Close)

	client, err := solana.NewClient(solana.ClientConfig{RPCURL: ts.URL})
	require.NoError(t, err)
	return c, ts, client
}

func TestMockChain_NativeTransferVerifies(t *testing.T) {
	_, ts, client := newTestChain(t)

	body, _ := json.Marshal(Fixture{Signer: testPayer, Recipient: testRecipient, Amount: 1_000_000})
	resp, err := http.Post(ts.URL+"/fixtures", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var f Fixture
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	require.NoError(t, solana.ValidateSignature(f.Signature))

	transfer, err := solana.NewVerifier(client, "").VerifyTransfer(context.Background(), solana.Expectation{
		Signature: f.Signature,
		Signer:    testPayer,
		Recipient: testRecipient,
		Amount:    1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), transfer.Amount)
	assert.Equal(t, uint64(mockFee), transfer.Fee)

	balance, err := client.GetBalance(context.Background(), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), balance)
}

func TestMockChain_TokenTransferVerifies(t *testing.T) {
	c, _, client := newTestChain(t)

	f, err := c.add(Fixture{Signer: testPayer, Recipient: testRecipient, Amount: 50_000, Mint: testMint})
	require.NoError(t, err)

	transfer, err := solana.NewVerifier(client, "").VerifyTransfer(context.Background(), solana.Expectation{
		Signature: f.Signature,
		Signer:    testPayer,
		Recipient: testRecipient,
		Mint:      testMint,
		Amount:    50_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), transfer.Amount)
}

func TestMockChain_FailuresMapToReasons(t *testing.T) {
	c, _, client := newTestChain(t)
	v := solana.NewVerifier(client, "")

	failed, err := c.add(Fixture{Signer: testPayer, Recipient: testRecipient, Amount: 10, Failed: true})
	require.NoError(t, err)
	_, err = v.VerifyTransfer(context.Background(), solana.Expectation{
		Signature: failed.Signature, Signer: testPayer, Recipient: testRecipient, Amount: 10,
	})
	var verr *solana.VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, solana.ReasonFailed, verr.Reason)

	_, err = v.VerifyTransfer(context.Background(), solana.Expectation{
		Signature: randomBase58(solana.SignatureLength), Signer: testPayer, Recipient: testRecipient, Amount: 10,
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, solana.ReasonNotFound, verr.Reason)

	_, err = c.add(Fixture{Signer: "nope", Recipient: testRecipient, Amount: 10})
	assert.ErrorContains(t, err, "signer")
	_, err = c.add(Fixture{Signer: testPayer, Recipient: testRecipient})
	assert.ErrorContains(t, err, "amount")
}

func TestMockChain_HealthAndSlot(t *testing.T) {
	c, _, client := newTestChain(t)
	ctx := context.Background()

	require.NoError(t, client.GetHealth(ctx))
	before, err := client.GetSlot(ctx, "")
	require.NoError(t, err)

	_, err = c.add(Fixture{Signer: testPayer, Recipient: testRecipient, Amount: 1})
	require.NoError(t, err)
	after, err := client.GetSlot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
	assert.Error(t, client.GetHealth(ctx))

	_, err = client.Call(ctx, "getEpochInfo")
	var rpcErr *solana.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestMockChain_FacilitatorSettles(t *testing.T) {
	_, ts, client := newTestChain(t)
	ctx := context.Background()

	fac, err := x402.NewFacilitatorClient(x402.FacilitatorConfig{URL: ts.URL})
	require.NoError(t, err)

	payload := &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      string(x402.SchemeExact),
		Network:     "solana-devnet",
		Payload:     json.RawMessage(`{"transaction":"AQID","payer":"` + testPayer + `"}`),
	}
	req := x402.PaymentRequirements{
		Scheme:            string(x402.SchemeExact),
		Network:           "solana-devnet",
		MaxAmountRequired: "1000000",
		PayTo:             testRecipient,
	}

	vr, err := fac.Verify(ctx, payload, req)
	require.NoError(t, err)
	assert.True(t, vr.IsValid)
	assert.Equal(t, testPayer, vr.Payer)

	settled, err := fac.Settle(ctx, payload, req)
	require.NoError(t, err)
	require.True(t, settled.Success)
	assert.Equal(t, testPayer, settled.Payer)

	_, err = solana.NewVerifier(client, "").VerifyTransfer(ctx, solana.Expectation{
		Signature: settled.Transaction, Signer: testPayer, Recipient: testRecipient, Amount: 1_000_000,
	})
	assert.NoError(t, err, "settled payments are visible over RPC")

	wrong := *payload
	wrong.Network = "solana"
	vr, err = fac.Verify(ctx, &wrong, req)
	require.NoError(t, err)
	assert.False(t, vr.IsValid)
	assert.Equal(t, string(x402.ReasonInvalidNetwork), vr.InvalidReason)
}
