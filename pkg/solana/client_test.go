package solana

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
}

func TestClient_GetTransaction(t *testing.T) {
	rpc, srv := newFakeRPC(t)
	rpc.setTx(testSig, nativeTx(testPayer, testRecipient, 1_000_000, time.Now()))
	client := newTestClient(t, srv)

	tx, err := client.GetTransaction(context.Background(), testSig, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(302_114_550), tx.Get("slot").Uint())

	call := rpc.lastCall()
	assert.Equal(t, "getTransaction", call.Method)
	require.Len(t, call.Params, 2)
	opts, ok := call.Params[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jsonParsed", opts["encoding"])
	assert.Equal(t, CommitmentConfirmed, opts["commitment"])
	assert.EqualValues(t, 0, opts["maxSupportedTransactionVersion"])
}

func TestClient_GetTransaction_NotFound(t *testing.T) {
	_, srv := newFakeRPC(t)
	client := newTestClient(t, srv)

	_, err := client.GetTransaction(context.Background(), testSig, CommitmentFinalized)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestClient_RPCError(t *testing.T) {
	rpc, srv := newFakeRPC(t)
	rpc.setError("getSlot", &RPCError{Code: -32005, Message: "node is behind"})
	client := newTestClient(t, srv)

	_, err := client.GetSlot(context.Background(), "")
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32005, rpcErr.Code)
}

func TestClient_SlotBalanceHealth(t *testing.T) {
	rpc, srv := newFakeRPC(t)
	rpc.setResult("getSlot", 302114999)
	rpc.setResult("getBalance", map[string]interface{}{
		"context": map[string]interface{}{"slot": 302114999},
		"value":   1_500_000_000,
	})
	rpc.setResult("getHealth", "ok")
	client := newTestClient(t, srv)
	ctx := context.Background()

	slot, err := client.GetSlot(ctx, CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(302114999), slot)

	balance, err := client.GetBalance(ctx, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), balance)

	assert.NoError(t, client.GetHealth(ctx))

	rpc.setResult("getHealth", "behind")
	assert.Error(t, client.GetHealth(ctx))
}

func TestClient_RequestIDsIncrease(t *testing.T) {
	rpc, srv := newFakeRPC(t)
	rpc.setResult("getHealth", "ok")
	client := newTestClient(t, srv)

	require.NoError(t, client.GetHealth(context.Background()))
	first := rpc.lastCall().ID
	require.NoError(t, client.GetHealth(context.Background()))
	assert.Greater(t, rpc.lastCall().ID, first)
}
