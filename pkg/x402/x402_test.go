package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

const (
	testPayer     = "C8H4v4c2eA6njjgzvWSrCpLdYg3hWSygoVsi4RkUrzjV"
	testRecipient = "4XTm6QXMNgVJqGd2u14BZRce7PoVGrBGV7AHGwhkWqTy"
	testOther     = "3fh1VqUoSyHL9rS8GKsqqacwUhR9nLuSxZm2aNgJGrjz"
	testSig       = "56UKTXRiXUmTAm57tg7qbFH1rHayGvHMPzzQ52mjLwXJyUxfTpUf5LKi1xujubHWK87hiBNkgcAmrY5vBLJrPDeV"
	testSig2      = "HtRCLEAvzGSzK4fBrrwC9BoNEznAyNTaQ5f8pMqLhHmKu7VWbje6UsagQt3cc7Df1B1jFfNP5QVyo31EhwCvRBF"
	testSig3      = "5Jchm6T1PJaKhBWNjuHSVedzgVXupmGXCRVmeQsZ6fSYeM1GM2ejGmWXpNyDJh2j38Ht5aKRP9b8BzTu9AuhJahJ"
	testPrice     = uint64(1_000_000)
)

var testNow = time.Unix(1_760_000_000, 0)

// fakeVerifier answers from a fixed set of transfers keyed by signature.
type fakeVerifier struct {
	mu        sync.Mutex
	transfers map[string]solana.Transfer
	err       error
	calls     []solana.Expectation
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{transfers: make(map[string]solana.Transfer)}
}

func (f *fakeVerifier) add(signature, signer string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[signature] = solana.Transfer{
		Signature: signature,
		Signer:    signer,
		Recipient: testRecipient,
		Amount:    amount,
		BlockTime: testNow.Add(-time.Minute),
	}
}

func (f *fakeVerifier) VerifyTransfer(_ context.Context, exp solana.Expectation) (*solana.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, exp)

	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.transfers[exp.Signature]
	if !ok {
		return nil, &solana.VerifyError{Reason: solana.ReasonNotFound, Err: solana.ErrTransactionNotFound}
	}
	if t.Signer != exp.Signer {
		return nil, &solana.VerifyError{Reason: solana.ReasonSignerMismatch, Err: fmt.Errorf("%s did not sign", exp.Signer)}
	}
	if t.Recipient != exp.Recipient {
		return nil, &solana.VerifyError{Reason: solana.ReasonRecipientMismatch, Err: fmt.Errorf("paid %s", t.Recipient)}
	}
	if t.Amount+exp.Tolerance < exp.Amount {
		return &t, &solana.VerifyError{Reason: solana.ReasonInsufficient, Err: fmt.Errorf("received %d", t.Amount)}
	}
	return &t, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeFacilitator records calls and answers with canned responses.
type fakeFacilitator struct {
	mu       sync.Mutex
	verify   VerifyResponse
	settle   SettlementResponse
	err      error
	verified int
	settled  int
}

func (f *fakeFacilitator) Verify(_ context.Context, _ *PaymentPayload, _ PaymentRequirements) (*VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified++
	if f.err != nil {
		return nil, f.err
	}
	resp := f.verify
	return &resp, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, _ *PaymentPayload, _ PaymentRequirements) (*SettlementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled++
	resp := f.settle
	return &resp, nil
}

func testConfig(v TransferVerifier) Config {
	return Config{
		Network:         NetworkSolanaDevnet,
		PayTo:           testRecipient,
		PricePerRequest: testPrice,
		Tolerance:       5000,
		ExemptPaths:     []string{"/public"},
		Verifier:        v,
		Now:             func() time.Time { return testNow },
	}
}

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	gate, err := NewGate(cfg)
	require.NoError(t, err)
	return gate
}

// paidHandler echoes the verified payment, or fails if there is none.
func paidHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PaymentFromContext(r.Context())
		if !ok {
			http.Error(w, "no payment in context", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	})
}

func xPaymentHeader(t *testing.T, payload map[string]interface{}, mutate func(*PaymentPayload)) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	p := PaymentPayload{
		X402Version: X402Version,
		Scheme:      string(SchemeExact),
		Network:     string(NetworkSolanaDevnet),
		Payload:     raw,
	}
	if mutate != nil {
		mutate(&p)
	}

	header, err := EncodeHeader(p)
	require.NoError(t, err)
	return header
}

func withChainProof(req *http.Request, signature, pubkey string, at time.Time) *http.Request {
	req.Header.Set(HeaderSolanaSignature, signature)
	req.Header.Set(HeaderSolanaPubkey, pubkey)
	req.Header.Set(HeaderSolanaTimestamp, strconv.FormatInt(at.Unix(), 10))
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode402(t *testing.T, w *httptest.ResponseRecorder) PaymentRequiredResponse {
	t.Helper()
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	var body PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
