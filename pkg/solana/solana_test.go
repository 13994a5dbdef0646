package solana

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testPayer     = "C8H4v4c2eA6njjgzvWSrCpLdYg3hWSygoVsi4RkUrzjV"
	testRecipient = "4XTm6QXMNgVJqGd2u14BZRce7PoVGrBGV7AHGwhkWqTy"
	testOther     = "3fh1VqUoSyHL9rS8GKsqqacwUhR9nLuSxZm2aNgJGrjz"
	testMint      = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	testSig       = "56UKTXRiXUmTAm57tg7qbFH1rHayGvHMPzzQ52mjLwXJyUxfTpUf5LKi1xujubHWK87hiBNkgcAmrY5vBLJrPDeV"
	testSig2      = "HtRCLEAvzGSzK4fBrrwC9BoNEznAyNTaQ5f8pMqLhHmKu7VWbje6UsagQt3cc7Df1B1jFfNP5QVyo31EhwCvRBF"
)

// fakeRPC serves canned results keyed by method (and by signature for
// getTransaction).
type fakeRPC struct {
	mu           sync.Mutex
	transactions map[string]interface{}
	results      map[string]interface{}
	errors       map[string]*RPCError
	calls        []RPCRequest
}

func newFakeRPC(t *testing.T) (*fakeRPC, *httptest.Server) {
	t.Helper()

	f := &fakeRPC{
		transactions: make(map[string]interface{}),
		results:      make(map[string]interface{}),
		errors:       make(map[string]*RPCError),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRPC) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case f.errors[req.Method] != nil:
		resp["error"] = f.errors[req.Method]
	case req.Method == "getTransaction":
		sig, _ := req.Params[0].(string)
		resp["result"] = f.transactions[sig]
	default:
		resp["result"] = f.results[req.Method]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeRPC) setTx(signature string, tx interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[signature] = tx
}

func (f *fakeRPC) setResult(method string, result interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = result
}

func (f *fakeRPC) setError(method string, err *RPCError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[method] = err
}

func (f *fakeRPC) lastCall() RPCRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{RPCURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func key(pubkey string, signer bool) map[string]interface{} {
	return map[string]interface{}{
		"pubkey":   pubkey,
		"signer":   signer,
		"writable": true,
		"source":   "transaction",
	}
}

func systemTransfer(from, to string, lamports uint64) map[string]interface{} {
	return map[string]interface{}{
		"program":   "system",
		"programId": SystemProgramID,
		"parsed": map[string]interface{}{
			"type": "transfer",
			"info": map[string]interface{}{
				"source":      from,
				"destination": to,
				"lamports":    lamports,
			},
		},
	}
}

// nativeTx builds a jsonParsed getTransaction result for a SOL transfer.
func nativeTx(from, to string, lamports uint64, blockTime time.Time) map[string]interface{} {
	return map[string]interface{}{
		"slot":      uint64(302_114_550),
		"blockTime": blockTime.Unix(),
		"meta": map[string]interface{}{
			"err":               nil,
			"fee":               5000,
			"preBalances":       []uint64{2_000_000_000, 10_000, 1},
			"postBalances":      []uint64{2_000_000_000 - lamports - 5000, 10_000 + lamports, 1},
			"innerInstructions": []interface{}{},
			"preTokenBalances":  []interface{}{},
			"postTokenBalances": []interface{}{},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{testSig},
			"message": map[string]interface{}{
				"accountKeys": []interface{}{
					key(from, true),
					key(to, false),
					key(SystemProgramID, false),
				},
				"instructions": []interface{}{systemTransfer(from, to, lamports)},
			},
		},
	}
}

func tokenBalance(index int, owner, mint, amount string) map[string]interface{} {
	return map[string]interface{}{
		"accountIndex": index,
		"mint":         mint,
		"owner":        owner,
		"uiTokenAmount": map[string]interface{}{
			"amount":   amount,
			"decimals": 6,
		},
	}
}

// tokenTx builds a jsonParsed result for an SPL transferChecked.
func tokenTx(from, to, mint, pre, post string, blockTime time.Time) map[string]interface{} {
	return map[string]interface{}{
		"slot":      uint64(302_114_551),
		"blockTime": blockTime.Unix(),
		"meta": map[string]interface{}{
			"err":          nil,
			"fee":          5000,
			"preBalances":  []uint64{1_000_000_000, 2_039_280, 2_039_280},
			"postBalances": []uint64{999_995_000, 2_039_280, 2_039_280},
			"preTokenBalances": []interface{}{
				tokenBalance(1, from, mint, "5000000"),
				tokenBalance(2, to, mint, pre),
			},
			"postTokenBalances": []interface{}{
				tokenBalance(1, from, mint, "4000000"),
				tokenBalance(2, to, mint, post),
			},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{testSig2},
			"message": map[string]interface{}{
				"accountKeys": []interface{}{
					key(from, true),
					key(testOther, false),
					key(testRecipient, false),
				},
				"instructions": []interface{}{},
			},
		},
	}
}
