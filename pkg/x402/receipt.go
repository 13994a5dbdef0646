package x402

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const receiptIssuer = "x402-ui-components"

// ReceiptClaims are carried by a payment receipt. The subject is the payer.
type ReceiptClaims struct {
	Transaction string `json:"tx"`
	Resource    string `json:"res"`
	Network     string `json:"net,omitempty"`
	Amount      string `json:"amt,omitempty"`
	jwt.RegisteredClaims
}

// ReceiptIssuer signs short-lived receipts for verified payments. A receipt
// presented as a Bearer token grants access to the same resource until it
// expires.
type ReceiptIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewReceiptIssuer creates an HS256 receipt issuer.
func NewReceiptIssuer(secret string, ttl time.Duration) (*ReceiptIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("receipt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReceiptIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns how long issued receipts stay valid.
func (ri *ReceiptIssuer) TTL() time.Duration {
	return ri.ttl
}

// Issue signs a receipt for p.
func (ri *ReceiptIssuer) Issue(p *Payment) (string, error) {
	now := ri.now()
	claims := ReceiptClaims{
		Transaction: p.Transaction,
		Resource:    p.Resource,
		Network:     p.Network,
		Amount:      fmt.Sprintf("%d", p.Amount),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    receiptIssuer,
			Subject:   p.Payer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ri.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ri.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify parses a receipt and checks it was issued for resource.
func (ri *ReceiptIssuer) Verify(tokenString, resource string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return ri.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(receiptIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ri.now),
	)
	if err != nil {
		return nil, newPaymentError(ReasonInvalidReceipt, err)
	}
	if claims.Resource != resource {
		return nil, newPaymentError(ReasonInvalidReceipt, fmt.Errorf("receipt issued for %q", claims.Resource))
	}
	return claims, nil
}
