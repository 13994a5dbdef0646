package middleware

import (
	"net/http"
	"strings"

	"github.com/siddimore/x402-ui-components/pkg/x402"
)

// allowedHeaders includes the payment proof headers so browser wallets can
// retry a 402 from another origin.
var allowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-Trace-ID",
	x402.HeaderPayment,
	x402.HeaderSolanaSignature,
	x402.HeaderSolanaPubkey,
	x402.HeaderSolanaTimestamp,
}, ", ")

var exposedHeaders = strings.Join([]string{
	"X-Trace-ID",
	x402.HeaderPaymentResponse,
	x402.HeaderPaymentReceipt,
	x402.HeaderPaymentVerified,
	x402.HeaderPaymentMethod,
	x402.HeaderPaymentReason,
	"X-Payment-Required",
	"X-Payment-Amount",
	"Retry-After",
}, ", ")

// CORSMiddleware handles Cross-Origin Resource Sharing
type CORSMiddleware struct {
	allowedOrigins []string
	allowAll       bool
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		allowAll:       allowAll,
	}
}

// Handler returns the CORS middleware handler
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && (m.allowAll || m.isOriginAllowed(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed checks if an origin is in the allowed list. Entries starting
// with "." match any subdomain.
func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range m.allowedOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, ".") && strings.HasSuffix(origin, allowed) {
			return true
		}
	}
	return false
}
