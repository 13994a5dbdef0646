package x402

import (
	"errors"
	"fmt"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

// Reason is a machine-readable code explaining why a payment was not accepted.
type Reason string

const (
	ReasonPaymentRequired     Reason = "payment_required"
	ReasonInvalidPayload      Reason = solana.ReasonInvalidPayload
	ReasonInvalidScheme       Reason = "invalid_scheme"
	ReasonInvalidNetwork      Reason = "invalid_network"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonTransactionNotFound Reason = solana.ReasonNotFound
	ReasonTransactionFailed   Reason = solana.ReasonFailed
	ReasonRecipientMismatch   Reason = solana.ReasonRecipientMismatch
	ReasonInsufficientAmount  Reason = solana.ReasonInsufficient
	ReasonSignerMismatch      Reason = solana.ReasonSignerMismatch
	ReasonPaymentExpired      Reason = solana.ReasonExpired
	ReasonPaymentReplayed     Reason = "payment_replayed"
	ReasonFacilitatorError    Reason = "facilitator_error"
	ReasonVerificationError   Reason = solana.ReasonRPC
	ReasonInvalidReceipt      Reason = "invalid_receipt"
)

// ErrReplay is returned when a transaction signature was already used to pay.
var ErrReplay = errors.New("transaction signature already used")

// PaymentError carries the reason a payment attempt failed.
type PaymentError struct {
	Reason Reason
	Err    error
}

func newPaymentError(reason Reason, err error) *PaymentError {
	return &PaymentError{Reason: reason, Err: err}
}

func (e *PaymentError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same proof may succeed later, e.g. once the
// transaction reaches the requested commitment.
func (e *PaymentError) Retryable() bool {
	switch e.Reason {
	case ReasonTransactionNotFound, ReasonVerificationError, ReasonFacilitatorError:
		return true
	}
	return false
}

// AsPaymentError converts any verification error into a *PaymentError,
// keeping reasons reported by the Solana verifier.
func AsPaymentError(err error) *PaymentError {
	if err == nil {
		return nil
	}

	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr
	}

	var verr *solana.VerifyError
	if errors.As(err, &verr) {
		return newPaymentError(Reason(verr.Reason), verr.Err)
	}

	return newPaymentError(ReasonVerificationError, err)
}
