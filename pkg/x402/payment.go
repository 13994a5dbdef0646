package x402

import (
	"context"
	"net/http"
	"time"
)

// PaymentMethod names the path a payment was accepted through.
type PaymentMethod string

const (
	// MethodX402 is an X-PAYMENT header naming a submitted transaction.
	MethodX402 PaymentMethod = "x402"
	// MethodFacilitator is an X-PAYMENT header verified and settled by a facilitator.
	MethodFacilitator PaymentMethod = "facilitator"
	// MethodChainProof is the X-Solana-* header triple.
	MethodChainProof PaymentMethod = "solana-headers"
	// MethodReceipt is a receipt from an earlier payment.
	MethodReceipt PaymentMethod = "receipt"
)

// Payment is a verified payment attached to the request context.
type Payment struct {
	Method      PaymentMethod `json:"method"`
	Payer       string        `json:"payer"`
	Transaction string        `json:"transaction"`
	Network     string        `json:"network"`
	Amount      uint64        `json:"amount"`
	Asset       string        `json:"asset,omitempty"`
	Resource    string        `json:"resource"`
	VerifiedAt  time.Time     `json:"verifiedAt"`
}

type paymentKey struct{}

// WithPayment returns a copy of ctx carrying p.
func WithPayment(ctx context.Context, p *Payment) context.Context {
	return context.WithValue(ctx, paymentKey{}, p)
}

// PaymentFromContext returns the payment verified for this request.
func PaymentFromContext(ctx context.Context) (*Payment, bool) {
	p, ok := ctx.Value(paymentKey{}).(*Payment)
	return p, ok && p != nil
}

// statusRecorder remembers the status code written by the paid handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *statusRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *statusRecorder) Write(b []byte) (int, error) {
	if rr.statusCode == 0 {
		rr.statusCode = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}
