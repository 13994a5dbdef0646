package x402

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestReceiptIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewReceiptIssuer(testSecret, 5*time.Minute)
	require.NoError(t, err)
	issuer.now = func() time.Time { return testNow }

	token, err := issuer.Issue(&Payment{
		Payer:       testPayer,
		Transaction: testSig,
		Network:     "solana-devnet",
		Amount:      testPrice,
		Resource:    "http://example.com/api/components/card",
	})
	require.NoError(t, err)

	claims, err := issuer.Verify(token, "http://example.com/api/components/card")
	require.NoError(t, err)
	assert.Equal(t, testPayer, claims.Subject)
	assert.Equal(t, testSig, claims.Transaction)
	assert.Equal(t, "1000000", claims.Amount)
	assert.Equal(t, testNow.Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestReceiptIssuer_Rejects(t *testing.T) {
	issuer, err := NewReceiptIssuer(testSecret, time.Minute)
	require.NoError(t, err)
	issuer.now = func() time.Time { return testNow }

	token, err := issuer.Issue(&Payment{Payer: testPayer, Transaction: testSig, Resource: "/a"})
	require.NoError(t, err)

	assertInvalid := func(err error) {
		t.Helper()
		var perr *PaymentError
		require.True(t, errors.As(err, &perr), "got %v", err)
		assert.Equal(t, ReasonInvalidReceipt, perr.Reason)
	}

	_, err = issuer.Verify(token, "/b")
	assertInvalid(err)

	issuer.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	_, err = issuer.Verify(token, "/a")
	assertInvalid(err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other, err := NewReceiptIssuer("fedcba9876543210fedcba9876543210", time.Minute)
	require.NoError(t, err)
	other.now = func() time.Time { return testNow }
	_, err = other.Verify(token, "/a")
	assertInvalid(err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, ReceiptClaims{Resource: "/a"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(unsigned, "/a")
	assertInvalid(err)
}

func TestNewReceiptIssuer_ShortSecret(t *testing.T) {
	_, err := NewReceiptIssuer("short", time.Minute)
	assert.Error(t, err)
}
