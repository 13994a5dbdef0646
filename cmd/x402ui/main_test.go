package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddimore/x402-ui-components/internal/config"
	"github.com/siddimore/x402-ui-components/internal/logging"
)

const (
	testPayer     = "C8H4v4c2eA6njjgzvWSrCpLdYg3hWSygoVsi4RkUrzjV"
	testRecipient = "4XTm6QXMNgVJqGd2u14BZRce7PoVGrBGV7AHGwhkWqTy"
	testSig       = "56UKTXRiXUmTAm57tg7qbFH1rHayGvHMPzzQ52mjLwXJyUxfTpUf5LKi1xujubHWK87hiBNkgcAmrY5vBLJrPDeV"
)

func resetTemplateOpts(t *testing.T) {
	t.Helper()
	saved, savedEnv := templatesOpts, envFiles
	t.Cleanup(func() { templatesOpts, envFiles = saved, savedEnv })
	templatesOpts.decimals = -1
	templatesOpts.catalog = ""
	templatesOpts.price = ""
	templatesOpts.json = false
	envFiles = []string{filepath.Join(t.TempDir(), "none.env")}
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("PRICE", "")
	t.Setenv("ASSET_DECIMALS", "")
}

func TestListTemplates(t *testing.T) {
	resetTemplateOpts(t)

	rows, err := listTemplates()
	require.NoError(t, err)
	require.Len(t, rows, 7)

	byName := map[string]templateRow{}
	for _, r := range rows {
		byName[r.Name] = r
	}
	assert.Equal(t, "0.001", byName["card"].Price)
	assert.Equal(t, "1000000", byName["card"].Atomic)
	assert.Equal(t, "0.0015", byName["table"].Price)

	templatesOpts.decimals = 6
	templatesOpts.price = "0.05"
	rows, err = listTemplates()
	require.NoError(t, err)
	for _, r := range rows {
		if r.Name == "card" {
			assert.Equal(t, "50000", r.Atomic)
		}
	}
}

func TestTemplatesCommand_JSON(t *testing.T) {
	resetTemplateOpts(t)
	templatesOpts.json = true

	var out bytes.Buffer
	templatesCmd.SetOut(&out)
	t.Cleanup(func() { templatesCmd.SetOut(nil) })
	require.NoError(t, runTemplates(templatesCmd, nil))

	var rows []templateRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	assert.Len(t, rows, 7)
}

func TestVerifyExpectation(t *testing.T) {
	saved := verifyOpts
	t.Cleanup(func() { verifyOpts = saved })

	verifyOpts.signer = testPayer
	verifyOpts.recipient = testRecipient
	verifyOpts.amount = "0.001"
	verifyOpts.network = "solana-devnet"
	verifyOpts.rpc = ""
	verifyOpts.mint = ""

	exp, rpc, err := verifyExpectation(testSig)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), exp.Amount)
	assert.Equal(t, "https://api.devnet.solana.com", rpc)

	verifyOpts.rpc = "http://localhost:8899"
	_, rpc, err = verifyExpectation(testSig)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8899", rpc)

	_, _, err = verifyExpectation("not-a-signature")
	assert.ErrorContains(t, err, "signature")

	verifyOpts.recipient = "bad"
	_, _, err = verifyExpectation(testSig)
	assert.ErrorContains(t, err, "recipient")
	verifyOpts.recipient = testRecipient

	verifyOpts.amount = "lots"
	_, _, err = verifyExpectation(testSig)
	assert.ErrorContains(t, err, "amount")
}

func TestBuildServer(t *testing.T) {
	cfg := &config.Config{
		Network:           "solana-devnet",
		RPCURL:            "http://127.0.0.1:1",
		Commitment:        "confirmed",
		PayTo:             testRecipient,
		Price:             "0.001",
		AssetDecimals:     9,
		AssetSymbol:       "SOL",
		MaxTimeoutSeconds: 300,
		FacilitatorURL:    "http://127.0.0.1:2",
		ReceiptSecret:     "0123456789abcdef0123",
		RateLimitRPS:      5,
		RateLimitBurst:    5,
		CORSOrigins:       "*",
	}

	srv, cleanup, err := buildServer(context.Background(), cfg, logging.NewForTest(&bytes.Buffer{}))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.RateLimiter())
	assert.Equal(t, "solana-devnet", string(srv.Gate().Network()))

	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err = buildServer(context.Background(), cfg, logging.NewForTest(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "load catalog")
}
