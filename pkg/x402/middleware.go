package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

// TransferVerifier checks a submitted transaction on chain.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, exp solana.Expectation) (*solana.Transfer, error)
}

// Quote is the price of one request.
type Quote struct {
	// Amount in atomic units. Zero means the request is free.
	Amount      uint64
	Description string
}

// Config holds the configuration for the payment gate
type Config struct {
	// Network the payment must be made on, e.g. "solana-devnet"
	Network NetworkType

	// PayTo is the recipient wallet (owner of the token account for SPL assets)
	PayTo string

	// Asset is the SPL mint; empty means native SOL
	Asset         string
	AssetDecimals int
	AssetSymbol   string

	// PricePerRequest is used when Price is nil, in atomic units
	PricePerRequest uint64
	Description     string

	// Price prices a single request. Optional.
	Price func(r *http.Request) Quote

	// Tolerance is how many atomic units a transfer may fall short by
	Tolerance uint64

	MimeType string

	// PublicURL is the externally visible base URL used to build resource URLs
	PublicURL string

	// MaxTimeoutSeconds bounds the age of header-triple timestamps and is
	// advertised in requirements.
	MaxTimeoutSeconds int

	// MaxTransactionAge rejects transactions whose block time is older
	MaxTransactionAge time.Duration

	// ClockSkew is how far in the future a proof timestamp may be
	ClockSkew time.Duration

	// ExemptPaths lists path prefixes that don't require payment
	ExemptPaths []string

	// Verifier checks transactions over RPC. Facilitator handles X-PAYMENT
	// payloads carrying a signed transaction. At least one is required.
	Verifier    TransferVerifier
	Facilitator Facilitator

	// Replay guards against one signature paying twice. Optional.
	Replay    ReplayGuard
	ReplayTTL time.Duration

	// Receipts enables X-Payment-Receipt issuing and Bearer receipt access. Optional.
	Receipts *ReceiptIssuer

	OnPaymentVerified func(r *http.Request, p *Payment)
	OnPaymentFailed   func(r *http.Request, err *PaymentError)

	Now func() time.Time
}

// Gate is HTTP middleware that answers 402 until a request carries a valid
// payment.
type Gate struct {
	cfg     Config
	network NetworkType
}

// NewGate validates cfg and fills in defaults.
func NewGate(cfg Config) (*Gate, error) {
	network, err := NormalizeNetwork(string(cfg.Network))
	if err != nil {
		return nil, err
	}
	if err := solana.ValidatePublicKey(cfg.PayTo); err != nil {
		return nil, fmt.Errorf("payTo: %w", err)
	}
	if cfg.Asset != "" {
		if err := solana.ValidatePublicKey(cfg.Asset); err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
	}
	if cfg.Verifier == nil && cfg.Facilitator == nil {
		return nil, errors.New("a transfer verifier or a facilitator is required")
	}
	if cfg.Price == nil && cfg.PricePerRequest == 0 {
		return nil, errors.New("price per request must be positive")
	}

	if cfg.Asset == "" {
		cfg.AssetDecimals = solana.NativeDecimals
		if cfg.AssetSymbol == "" {
			cfg.AssetSymbol = "SOL"
		}
	}
	if cfg.MimeType == "" {
		cfg.MimeType = "application/json"
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = 300
	}
	if cfg.MaxTransactionAge <= 0 {
		cfg.MaxTransactionAge = 15 * time.Minute
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Gate{cfg: cfg, network: network}, nil
}

// Network returns the network payments are accepted on.
func (g *Gate) Network() NetworkType {
	return g.network
}

// Handler wraps next so that it only runs for paid requests.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExemptPath(r.URL.Path, g.cfg.ExemptPaths) {
			next.ServeHTTP(w, r)
			return
		}

		quote := g.Quote(r)
		if quote.Amount == 0 {
			next.ServeHTTP(w, r)
			return
		}
		req := g.BuildRequirements(r, quote)

		payment, err := g.authorize(r, req, quote.Amount)
		if err != nil {
			g.reject(w, r, req, AsPaymentError(err))
			return
		}

		claimed := false
		if payment.Method != MethodReceipt && g.cfg.Replay != nil {
			ok, err := g.cfg.Replay.Claim(r.Context(), payment.Transaction, g.cfg.ReplayTTL)
			if err != nil {
				g.reject(w, r, req, newPaymentError(ReasonVerificationError, fmt.Errorf("replay guard: %w", err)))
				return
			}
			if !ok {
				g.reject(w, r, req, newPaymentError(ReasonPaymentReplayed, ErrReplay))
				return
			}
			claimed = true
		}

		g.writePaymentHeaders(w, payment)
		if g.cfg.OnPaymentVerified != nil {
			g.cfg.OnPaymentVerified(r, payment)
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(WithPayment(r.Context(), payment)))

		// A payment that bought nothing can be presented again.
		if claimed && rec.statusCode >= http.StatusInternalServerError {
			_ = g.cfg.Replay.Release(context.WithoutCancel(r.Context()), payment.Transaction)
		}
	})
}

// Quote prices r.
func (g *Gate) Quote(r *http.Request) Quote {
	if g.cfg.Price != nil {
		return g.cfg.Price(r)
	}
	return Quote{Amount: g.cfg.PricePerRequest, Description: g.cfg.Description}
}

// BuildRequirements generates the PaymentRequirements advertised for r.
func (g *Gate) BuildRequirements(r *http.Request, quote Quote) PaymentRequirements {
	description := quote.Description
	if description == "" {
		description = fmt.Sprintf("Payment of %s %s required",
			solana.FormatAmount(quote.Amount, g.cfg.AssetDecimals), g.cfg.AssetSymbol)
	}

	extra := map[string]interface{}{
		"decimals":  g.cfg.AssetDecimals,
		"symbol":    g.cfg.AssetSymbol,
		"tolerance": strconv.FormatUint(g.cfg.Tolerance, 10),
		"customHeaders": map[string]string{
			"signature": HeaderSolanaSignature,
			"pubkey":    HeaderSolanaPubkey,
			"timestamp": HeaderSolanaTimestamp,
		},
	}
	if g.cfg.Receipts != nil {
		extra["receiptTTLSeconds"] = int(g.cfg.Receipts.TTL().Seconds())
	}

	return PaymentRequirements{
		Scheme:            string(SchemeExact),
		Network:           string(g.network),
		MaxAmountRequired: strconv.FormatUint(quote.Amount, 10),
		Resource:          g.resourceURL(r),
		Description:       description,
		MimeType:          g.cfg.MimeType,
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: g.cfg.MaxTimeoutSeconds,
		Asset:             g.cfg.Asset,
		Extra:             extra,
	}
}

func (g *Gate) resourceURL(r *http.Request) string {
	base := strings.TrimRight(g.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.Path
}

func (g *Gate) authorize(r *http.Request, req PaymentRequirements, amount uint64) (*Payment, error) {
	ctx := r.Context()
	xPayment := r.Header.Get(HeaderPayment)
	proof, proofErr := ExtractChainProof(r)

	if token := bearerToken(r); token != "" && g.cfg.Receipts != nil {
		payment, err := g.redeemReceipt(token, req)
		if err == nil {
			return payment, nil
		}
		// fall through to a fresh payment when one was sent along
		if xPayment == "" && proof == nil && proofErr == nil {
			return nil, err
		}
	}

	if xPayment != "" {
		return g.authorizeX402(ctx, xPayment, req, amount)
	}
	if proofErr != nil {
		return nil, proofErr
	}
	if proof != nil {
		window := time.Duration(g.cfg.MaxTimeoutSeconds) * time.Second
		if err := checkFreshness(proof.Timestamp, g.cfg.Now(), window, g.cfg.ClockSkew); err != nil {
			return nil, err
		}
		return g.verifyOnChain(ctx, MethodChainProof, proof.Signature, proof.PublicKey, req, amount)
	}

	return nil, newPaymentError(ReasonPaymentRequired, fmt.Errorf("%s header is required", HeaderPayment))
}

func (g *Gate) authorizeX402(ctx context.Context, header string, req PaymentRequirements, amount uint64) (*Payment, error) {
	payload, err := DecodePaymentHeader(header)
	if err != nil {
		return nil, err
	}
	if payload.X402Version != X402Version {
		return nil, newPaymentError(ReasonInvalidPayload, fmt.Errorf("unsupported x402Version %d", payload.X402Version))
	}
	if SchemeType(payload.Scheme) != SchemeExact {
		return nil, newPaymentError(ReasonInvalidScheme, fmt.Errorf("scheme %q is not accepted", payload.Scheme))
	}
	if !NetworkMatches(g.network, payload.Network) {
		return nil, newPaymentError(ReasonInvalidNetwork, fmt.Errorf("network %q is not accepted, pay on %s", payload.Network, g.network))
	}

	body := gjson.ParseBytes(payload.Payload)
	signature := body.Get("signature").String()
	payer := body.Get("payer").String()
	if payer == "" {
		payer = body.Get("from").String()
	}

	switch {
	case signature != "" && g.cfg.Verifier != nil:
		return g.verifyOnChain(ctx, MethodX402, signature, payer, req, amount)
	case g.cfg.Facilitator != nil:
		return g.settle(ctx, payload, req, amount)
	case signature == "":
		return nil, newPaymentError(ReasonInvalidPayload, errors.New("payload carries no transaction signature"))
	default:
		return nil, newPaymentError(ReasonVerificationError, errors.New("no verifier configured"))
	}
}

func (g *Gate) verifyOnChain(ctx context.Context, method PaymentMethod, signature, payer string, req PaymentRequirements, amount uint64) (*Payment, error) {
	if g.cfg.Verifier == nil {
		return nil, newPaymentError(ReasonVerificationError, errors.New("on-chain verification is not configured"))
	}
	if err := solana.ValidateSignature(signature); err != nil {
		return nil, newPaymentError(ReasonInvalidSignature, err)
	}

	now := g.cfg.Now()
	transfer, err := g.cfg.Verifier.VerifyTransfer(ctx, solana.Expectation{
		Signature: signature,
		Signer:    payer,
		Recipient: g.cfg.PayTo,
		Mint:      g.cfg.Asset,
		Amount:    amount,
		Tolerance: g.cfg.Tolerance,
		NotBefore: now.Add(-g.cfg.MaxTransactionAge),
	})
	if err != nil {
		return nil, err
	}

	return &Payment{
		Method:      method,
		Payer:       transfer.Signer,
		Transaction: transfer.Signature,
		Network:     string(g.network),
		Amount:      transfer.Amount,
		Asset:       g.cfg.Asset,
		Resource:    req.Resource,
		VerifiedAt:  now,
	}, nil
}

func (g *Gate) settle(ctx context.Context, payload *PaymentPayload, req PaymentRequirements, amount uint64) (*Payment, error) {
	verified, err := g.cfg.Facilitator.Verify(ctx, payload, req)
	if err != nil {
		return nil, newPaymentError(ReasonFacilitatorError, err)
	}
	if !verified.IsValid {
		return nil, newPaymentError(facilitatorReason(verified.InvalidReason), fmt.Errorf("facilitator rejected payment: %s", verified.InvalidReason))
	}

	settled, err := g.cfg.Facilitator.Settle(ctx, payload, req)
	if err != nil {
		return nil, newPaymentError(ReasonFacilitatorError, err)
	}
	if !settled.Success {
		return nil, newPaymentError(ReasonFacilitatorError, fmt.Errorf("settlement failed: %s", settled.ErrorReason))
	}
	// The transaction id is the replay key.
	if settled.Transaction == "" {
		return nil, newPaymentError(ReasonFacilitatorError, errors.New("settlement returned no transaction"))
	}

	payer := settled.Payer
	if payer == "" {
		payer = verified.Payer
	}
	return &Payment{
		Method:      MethodFacilitator,
		Payer:       payer,
		Transaction: settled.Transaction,
		Network:     string(g.network),
		Amount:      amount,
		Asset:       g.cfg.Asset,
		Resource:    req.Resource,
		VerifiedAt:  g.cfg.Now(),
	}, nil
}

func (g *Gate) redeemReceipt(token string, req PaymentRequirements) (*Payment, error) {
	claims, err := g.cfg.Receipts.Verify(token, req.Resource)
	if err != nil {
		return nil, err
	}
	amount, _ := strconv.ParseUint(claims.Amount, 10, 64)
	return &Payment{
		Method:      MethodReceipt,
		Payer:       claims.Subject,
		Transaction: claims.Transaction,
		Network:     claims.Network,
		Amount:      amount,
		Asset:       g.cfg.Asset,
		Resource:    claims.Resource,
		VerifiedAt:  g.cfg.Now(),
	}, nil
}

func (g *Gate) writePaymentHeaders(w http.ResponseWriter, p *Payment) {
	h := w.Header()
	settlement := SettlementResponse{
		Success:     true,
		Transaction: p.Transaction,
		Network:     p.Network,
		Payer:       p.Payer,
	}
	if encoded, err := EncodeHeader(settlement); err == nil {
		h.Set(HeaderPaymentResponse, encoded)
	}
	h.Set(HeaderPaymentVerified, "true")
	h.Set(HeaderPaymentMethod, string(p.Method))

	if g.cfg.Receipts != nil && p.Method != MethodReceipt {
		if receipt, err := g.cfg.Receipts.Issue(p); err == nil {
			h.Set(HeaderPaymentReceipt, receipt)
		}
	}
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, req PaymentRequirements, perr *PaymentError) {
	if g.cfg.OnPaymentFailed != nil {
		g.cfg.OnPaymentFailed(r, perr)
	}
	sendPaymentRequired(w, req, perr)
}

// sendPaymentRequired sends a 402 Payment Required response
func sendPaymentRequired(w http.ResponseWriter, req PaymentRequirements, perr *PaymentError) {
	message := perr.Error()
	if perr.Reason == ReasonPaymentRequired && perr.Err != nil {
		message = perr.Err.Error()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("WWW-Authenticate", `X402 realm="Payment Required"`)
	h.Set("X-Payment-Required", "true")
	h.Set("X-Payment-Amount", req.MaxAmountRequired)
	h.Set(HeaderPaymentReason, string(perr.Reason))
	if perr.Retryable() {
		h.Set("Retry-After", "2")
	}

	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(PaymentRequiredResponse{
		X402Version: X402Version,
		Error:       message,
		Accepts:     []PaymentRequirements{req},
	})
}

// facilitatorReason maps a facilitator's invalidReason onto our reason codes.
func facilitatorReason(invalid string) Reason {
	switch r := Reason(invalid); r {
	case ReasonInvalidScheme, ReasonInvalidNetwork, ReasonInvalidSignature, ReasonInsufficientAmount,
		ReasonRecipientMismatch, ReasonTransactionFailed, ReasonPaymentExpired, ReasonInvalidPayload:
		return r
	}
	switch {
	case strings.Contains(invalid, "insufficient"):
		return ReasonInsufficientAmount
	case strings.Contains(invalid, "network"):
		return ReasonInvalidNetwork
	case strings.Contains(invalid, "scheme"):
		return ReasonInvalidScheme
	case strings.Contains(invalid, "expired"):
		return ReasonPaymentExpired
	}
	return ReasonInvalidPayload
}

// isExemptPath checks if the requested path is exempt from payment
func isExemptPath(path string, exemptPaths []string) bool {
	for _, exemptPath := range exemptPaths {
		if strings.HasPrefix(path, exemptPath) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
