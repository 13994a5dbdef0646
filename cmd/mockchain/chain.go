package main

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"

	"github.com/siddimore/x402-ui-components/internal/logging"
	"github.com/siddimore/x402-ui-components/internal/middleware"
	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const mockFee = 5000

// Fixture describes one transfer the mock chain will report.
type Fixture struct {
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Mint      string `json:"mint,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	BlockTime int64  `json:"blockTime,omitempty"`
	Slot      uint64 `json:"slot"`
}

// chain is an in-memory stand-in for a Solana RPC node and an x402
// facilitator.
type chain struct {
	mu       sync.RWMutex
	txs      map[string]json.RawMessage
	balances map[string]uint64
	slot     uint64
	healthy  bool
	network  x402.NetworkType
	logger   *logging.Logger
	now      func() time.Time
}

func newChain(network x402.NetworkType, logger *logging.Logger) *chain {
	return &chain{
		txs:      make(map[string]json.RawMessage),
		balances: make(map[string]uint64),
		slot:     250_000_000,
		healthy:  true,
		network:  network,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *chain) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(c.logger))
	r.HandleFunc("/", c.handleRPC).Methods(http.MethodPost)
	r.HandleFunc("/fixtures", c.handleAddFixture).Methods(http.MethodPost)
	r.HandleFunc("/verify", c.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/settle", c.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "server": "mockchain"})
	}).Methods(http.MethodGet)
	return r
}

// add validates f, fills in defaults and stores the transaction.
func (c *chain) add(f Fixture) (Fixture, error) {
	if f.Signature == "" {
		f.Signature = randomBase58(solana.SignatureLength)
	}
	if err := solana.ValidateSignature(f.Signature); err != nil {
		return f, err
	}
	if err := solana.ValidatePublicKey(f.Signer); err != nil {
		return f, fmt.Errorf("signer: %w", err)
	}
	if err := solana.ValidatePublicKey(f.Recipient); err != nil {
		return f, fmt.Errorf("recipient: %w", err)
	}
	if f.Mint != "" {
		if err := solana.ValidatePublicKey(f.Mint); err != nil {
			return f, fmt.Errorf("mint: %w", err)
		}
	}
	if f.Amount == 0 {
		return f, errors.New("amount must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.slot++
	f.Slot = c.slot
	if f.BlockTime == 0 {
		f.BlockTime = c.now().Unix()
	}

	raw, err := json.Marshal(c.buildTransaction(f))
	if err != nil {
		return f, err
	}
	c.txs[f.Signature] = raw
	if f.Mint == "" && !f.Failed {
		c.balances[f.Recipient] = solana.SaturatingAdd(c.balances[f.Recipient], f.Amount)
	}
	return f, nil
}

// buildTransaction renders f the way getTransaction returns it in jsonParsed
// encoding. Callers hold c.mu.
func (c *chain) buildTransaction(f Fixture) map[string]interface{} {
	keys := []map[string]interface{}{
		{"pubkey": f.Signer, "signer": true, "writable": true, "source": "transaction"},
		{"pubkey": f.Recipient, "signer": false, "writable": true, "source": "transaction"},
	}
	pre := []uint64{c.balances[f.Signer] + f.Amount + mockFee, c.balances[f.Recipient]}
	post := []uint64{c.balances[f.Signer], c.balances[f.Recipient] + f.Amount}

	var ix map[string]interface{}
	preToken, postToken := []interface{}{}, []interface{}{}

	if f.Mint == "" {
		keys = append(keys, map[string]interface{}{"pubkey": solana.SystemProgramID, "signer": false, "writable": false, "source": "transaction"})
		pre = append(pre, 1)
		post = append(post, 1)
		ix = map[string]interface{}{
			"program":   "system",
			"programId": solana.SystemProgramID,
			"parsed": map[string]interface{}{
				"type": "transfer",
				"info": map[string]interface{}{
					"source":      f.Signer,
					"destination": f.Recipient,
					"lamports":    f.Amount,
				},
			},
		}
	} else {
		source, dest := randomBase58(solana.PublicKeyLength), randomBase58(solana.PublicKeyLength)
		keys = append(keys,
			map[string]interface{}{"pubkey": source, "signer": false, "writable": true, "source": "transaction"},
			map[string]interface{}{"pubkey": dest, "signer": false, "writable": true, "source": "transaction"},
			map[string]interface{}{"pubkey": solana.TokenProgramID, "signer": false, "writable": false, "source": "transaction"},
		)
		// recipient balance does not move for token transfers
		post[1] = pre[1]
		pre = append(pre, 2039280, 2039280, 1)
		post = append(post, 2039280, 2039280, 1)
		preToken = append(preToken,
			tokenBalance(2, f.Signer, f.Mint, f.Amount),
			tokenBalance(3, f.Recipient, f.Mint, 0),
		)
		postToken = append(postToken,
			tokenBalance(2, f.Signer, f.Mint, 0),
			tokenBalance(3, f.Recipient, f.Mint, f.Amount),
		)
		ix = map[string]interface{}{
			"program":   "spl-token",
			"programId": solana.TokenProgramID,
			"parsed": map[string]interface{}{
				"type": "transferChecked",
				"info": map[string]interface{}{
					"source":      source,
					"destination": dest,
					"authority":   f.Signer,
					"mint":        f.Mint,
					"tokenAmount": map[string]interface{}{"amount": fmt.Sprint(f.Amount)},
				},
			},
		}
	}

	var txErr interface{}
	if f.Failed {
		txErr = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
		post = pre
		postToken = preToken
	}

	return map[string]interface{}{
		"slot":      f.Slot,
		"blockTime": f.BlockTime,
		"meta": map[string]interface{}{
			"err":               txErr,
			"fee":               mockFee,
			"preBalances":       pre,
			"postBalances":      post,
			"preTokenBalances":  preToken,
			"postTokenBalances": postToken,
			"innerInstructions": []interface{}{},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{f.Signature},
			"message": map[string]interface{}{
				"header":       map[string]interface{}{"numRequiredSignatures": 1},
				"accountKeys":  keys,
				"instructions": []interface{}{ix},
			},
		},
	}
}

func tokenBalance(index int, owner, mint string, amount uint64) map[string]interface{} {
	return map[string]interface{}{
		"accountIndex": index,
		"owner":        owner,
		"mint":         mint,
		"uiTokenAmount": map[string]interface{}{
			"amount": fmt.Sprint(amount),
		},
	}
}

func (c *chain) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		writeRPC(w, 0, nil, &solana.RPCError{Code: -32700, Message: "parse error"})
		return
	}
	req := gjson.ParseBytes(body)
	id := req.Get("id").Uint()

	switch method := req.Get("method").String(); method {
	case "getHealth":
		c.mu.RLock()
		healthy := c.healthy
		c.mu.RUnlock()
		if !healthy {
			writeRPC(w, id, nil, &solana.RPCError{Code: -32005, Message: "Node is unhealthy"})
			return
		}
		writeRPC(w, id, "ok", nil)
	case "getSlot":
		c.mu.RLock()
		slot := c.slot
		c.mu.RUnlock()
		writeRPC(w, id, slot, nil)
	case "getBalance":
		c.mu.RLock()
		balance := c.balances[req.Get("params.0").String()]
		slot := c.slot
		c.mu.RUnlock()
		writeRPC(w, id, map[string]interface{}{
			"context": map[string]interface{}{"slot": slot},
			"value":   balance,
		}, nil)
	case "getTransaction":
		c.mu.RLock()
		tx, ok := c.txs[req.Get("params.0").String()]
		c.mu.RUnlock()
		if !ok {
			writeRPC(w, id, nil, nil)
			return
		}
		writeRPC(w, id, tx, nil)
	default:
		writeRPC(w, id, nil, &solana.RPCError{Code: -32601, Message: "Method not found: " + method})
	}
}

func (c *chain) handleAddFixture(w http.ResponseWriter, r *http.Request) {
	var f Fixture
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&f); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	f, err := c.add(f)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_fixture", err.Error())
		return
	}
	c.logger.WithContext(r.Context()).WithField("signature", f.Signature).Info("fixture registered")
	writeJSON(w, http.StatusCreated, f)
}

// handleVerify accepts any well-formed exact payload on the mock network.
func (c *chain) handleVerify(w http.ResponseWriter, r *http.Request) {
	req, reason := c.checkFacilitatorRequest(r)
	if reason != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isValid": false, "invalidReason": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"isValid": true, "payer": payerOf(req)})
}

// handleSettle records the payment as a confirmed transfer to payTo.
func (c *chain) handleSettle(w http.ResponseWriter, r *http.Request) {
	req, reason := c.checkFacilitatorRequest(r)
	if reason != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "errorReason": reason})
		return
	}

	payer := payerOf(req)
	f, err := c.add(Fixture{
		Signer:    payer,
		Recipient: req.Get("paymentRequirements.payTo").String(),
		Amount:    req.Get("paymentRequirements.maxAmountRequired").Uint(),
		Mint:      req.Get("paymentRequirements.asset").String(),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "errorReason": string(x402.ReasonInvalidPayload)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": f.Signature,
		"network":     string(c.network),
		"payer":       payer,
	})
}

func (c *chain) checkFacilitatorRequest(r *http.Request) (gjson.Result, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		return gjson.Result{}, string(x402.ReasonInvalidPayload)
	}
	req := gjson.ParseBytes(body)

	if req.Get("paymentPayload.scheme").String() != string(x402.SchemeExact) {
		return req, string(x402.ReasonInvalidScheme)
	}
	if !x402.NetworkMatches(c.network, req.Get("paymentPayload.network").String()) {
		return req, string(x402.ReasonInvalidNetwork)
	}
	if req.Get("paymentPayload.payload.transaction").String() == "" {
		return req, string(x402.ReasonInvalidPayload)
	}
	return req, ""
}

// payerOf returns the payer named in the payload, or a fresh key when the
// client did not say.
func payerOf(req gjson.Result) string {
	for _, path := range []string{"paymentPayload.payload.payer", "paymentPayload.payload.from"} {
		if p := req.Get(path).String(); solana.ValidatePublicKey(p) == nil {
			return p
		}
	}
	return randomBase58(solana.PublicKeyLength)
}

func randomBase58(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base58.Encode(b)
}

func writeRPC(w http.ResponseWriter, id uint64, result interface{}, rpcErr *solana.RPCError) {
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
