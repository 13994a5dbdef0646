package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// X402Version is the protocol version spoken on the wire.
const X402Version = 1

// Header names used by the payment flow.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderPaymentReceipt  = "X-Payment-Receipt"
	HeaderPaymentVerified = "X-Payment-Verified"
	HeaderPaymentMethod   = "X-Payment-Method"
	HeaderPaymentReason   = "X-Payment-Reason"

	HeaderSolanaSignature = "X-Solana-Signature"
	HeaderSolanaPubkey    = "X-Solana-Pubkey"
	HeaderSolanaTimestamp = "X-Solana-Timestamp"
)

// PaymentRequirements describes one accepted way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Asset             string                 `json:"asset"`
	OutputSchema      map[string]interface{} `json:"outputSchema,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header. Payload is scheme specific;
// for Solana "exact" it holds either {"transaction"} or {"signature","payer"}.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequiredResponse is the body of every 402 reply.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// SettlementResponse is base64 encoded into X-PAYMENT-RESPONSE on success.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodeHeader marshals v to JSON and base64 encodes it.
func EncodeHeader(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value. Standard and URL-safe
// base64, padded or not, are accepted.
func DecodePaymentHeader(value string) (*PaymentPayload, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, newPaymentError(ReasonInvalidPayload, fmt.Errorf("decode %s: %w", HeaderPayment, err))
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, newPaymentError(ReasonInvalidPayload, fmt.Errorf("parse %s: %w", HeaderPayment, err))
	}
	if len(payload.Payload) == 0 || string(payload.Payload) == "null" {
		return nil, newPaymentError(ReasonInvalidPayload, fmt.Errorf("%s has no payload", HeaderPayment))
	}
	return &payload, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(s)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
