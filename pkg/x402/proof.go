package x402

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

// unix timestamps above this are taken to be in milliseconds
const millisThreshold = 1_000_000_000_000

// ChainProof is the custom header triple: a submitted transaction, the key
// that signed it and when the client claims to have paid.
type ChainProof struct {
	Signature string
	PublicKey string
	Timestamp time.Time
}

// ExtractChainProof reads the X-Solana-* headers. It returns nil, nil when
// none are present and an invalid_payload error when only some are.
func ExtractChainProof(r *http.Request) (*ChainProof, error) {
	sig := strings.TrimSpace(r.Header.Get(HeaderSolanaSignature))
	pub := strings.TrimSpace(r.Header.Get(HeaderSolanaPubkey))
	ts := strings.TrimSpace(r.Header.Get(HeaderSolanaTimestamp))

	if sig == "" && pub == "" && ts == "" {
		return nil, nil
	}
	if sig == "" || pub == "" || ts == "" {
		return nil, newPaymentError(ReasonInvalidPayload, fmt.Errorf("%s, %s and %s must be sent together",
			HeaderSolanaSignature, HeaderSolanaPubkey, HeaderSolanaTimestamp))
	}

	if err := solana.ValidateSignature(sig); err != nil {
		return nil, newPaymentError(ReasonInvalidSignature, err)
	}
	if err := solana.ValidatePublicKey(pub); err != nil {
		return nil, newPaymentError(ReasonInvalidPayload, err)
	}

	at, err := parseTimestamp(ts)
	if err != nil {
		return nil, newPaymentError(ReasonInvalidPayload, err)
	}

	return &ChainProof{Signature: sig, PublicKey: pub, Timestamp: at}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, errors.New("timestamp must be positive")
		}
		if n > millisThreshold {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither unix time nor RFC 3339", s)
	}
	return t, nil
}

// checkFreshness rejects proofs stamped more than window ago or more than
// skew in the future.
func checkFreshness(at, now time.Time, window, skew time.Duration) error {
	if at.After(now.Add(skew)) {
		return newPaymentError(ReasonPaymentExpired, fmt.Errorf("timestamp %s is in the future", at.UTC().Format(time.RFC3339)))
	}
	if now.Sub(at) > window {
		return newPaymentError(ReasonPaymentExpired, fmt.Errorf("timestamp %s is older than %s", at.UTC().Format(time.RFC3339), window))
	}
	return nil
}
