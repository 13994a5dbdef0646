package x402

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFacilitatorServer(t *testing.T, handler func(path string, body map[string]interface{}) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		if r.Header.Get("X-API-Key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		status, resp := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPayload() *PaymentPayload {
	return &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana-devnet",
		Payload:     json.RawMessage(`{"transaction":"AQAAAA=="}`),
	}
}

func TestFacilitatorClient_VerifyAndSettle(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []map[string]interface{}
	)
	srv := newFacilitatorServer(t, func(path string, body map[string]interface{}) (int, string) {
		mu.Lock()
		seen = append(seen, body)
		mu.Unlock()
		switch path {
		case "/verify":
			return http.StatusOK, `{"isValid":true,"payer":"` + testPayer + `"}`
		case "/settle":
			return http.StatusOK, `{"success":true,"transaction":"` + testSig + `","network":"solana-devnet","payer":"` + testPayer + `"}`
		}
		return http.StatusNotFound, `{}`
	})

	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, err)

	req := PaymentRequirements{Scheme: "exact", Network: "solana-devnet", MaxAmountRequired: "1000", PayTo: testRecipient}

	verified, err := client.Verify(context.Background(), testPayload(), req)
	require.NoError(t, err)
	assert.True(t, verified.IsValid)
	assert.Equal(t, testPayer, verified.Payer)

	settled, err := client.Settle(context.Background(), testPayload(), req)
	require.NoError(t, err)
	assert.True(t, settled.Success)
	assert.Equal(t, testSig, settled.Transaction)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.EqualValues(t, 1, seen[0]["x402Version"])
	requirements := seen[0]["paymentRequirements"].(map[string]interface{})
	assert.Equal(t, "1000", requirements["maxAmountRequired"])
	payload := seen[0]["paymentPayload"].(map[string]interface{})
	assert.Equal(t, "AQAAAA==", payload["payload"].(map[string]interface{})["transaction"])
}

func TestFacilitatorClient_LegacyFields(t *testing.T) {
	srv := newFacilitatorServer(t, func(path string, _ map[string]interface{}) (int, string) {
		if path == "/verify" {
			return http.StatusOK, `{"valid":true}`
		}
		return http.StatusOK, `{"success":true,"txHash":"` + testSig + `"}`
	})
	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	verified, err := client.Verify(context.Background(), testPayload(), PaymentRequirements{})
	require.NoError(t, err)
	assert.True(t, verified.IsValid)

	settled, err := client.Settle(context.Background(), testPayload(), PaymentRequirements{})
	require.NoError(t, err)
	assert.Equal(t, testSig, settled.Transaction)
	assert.Equal(t, "solana-devnet", settled.Network)
}

func TestFacilitatorClient_Errors(t *testing.T) {
	srv := newFacilitatorServer(t, func(path string, _ map[string]interface{}) (int, string) {
		if path == "/verify" {
			return http.StatusBadGateway, `upstream down`
		}
		return http.StatusOK, `not json`
	})

	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	_, err = client.Verify(context.Background(), testPayload(), PaymentRequirements{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = client.Settle(context.Background(), testPayload(), PaymentRequirements{})
	assert.Error(t, err)

	unauthorized, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = unauthorized.Verify(context.Background(), testPayload(), PaymentRequirements{})
	assert.Error(t, err)

	_, err = NewFacilitatorClient(FacilitatorConfig{})
	assert.Error(t, err)
}
