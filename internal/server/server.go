// Package server wires the component catalog, the payment gate and the
// ambient middleware into one HTTP handler.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/siddimore/x402-ui-components/internal/components"
	"github.com/siddimore/x402-ui-components/internal/config"
	"github.com/siddimore/x402-ui-components/internal/logging"
	"github.com/siddimore/x402-ui-components/internal/metrics"
	"github.com/siddimore/x402-ui-components/internal/middleware"
	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

// HealthChecker reports whether the Solana RPC node is usable.
type HealthChecker interface {
	GetHealth(ctx context.Context) error
}

// Deps are the collaborators the server is built from. Config, Logger,
// Catalog and one of Verifier or Facilitator are required.
type Deps struct {
	Config      *config.Config
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Catalog     *components.Catalog
	RPC         HealthChecker
	Verifier    x402.TransferVerifier
	Facilitator x402.Facilitator
	Replay      x402.ReplayGuard
	Receipts    *x402.ReceiptIssuer
}

// Server serves the component API.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	catalog  *components.Catalog
	rpc      HealthChecker
	gate     *x402.Gate
	limiter  *middleware.RateLimiter
	proxies  middleware.TrustedProxies
	router   *mux.Router
	price    uint64
	started  time.Time
	receipts bool
	hasFacil bool
}

// New builds the payment gate and registers all routes.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Catalog == nil {
		return nil, errors.New("server: config and catalog are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	price, err := d.Config.PriceAtomic()
	if err != nil {
		return nil, err
	}
	proxies, err := middleware.ParseTrustedProxies(d.Config.TrustedProxyList())
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      d.Config,
		logger:   d.Logger,
		metrics:  d.Metrics,
		catalog:  d.Catalog,
		rpc:      d.RPC,
		router:   mux.NewRouter(),
		price:    price,
		proxies:  proxies,
		started:  time.Now(),
		receipts: d.Receipts != nil,
		hasFacil: d.Facilitator != nil,
	}

	verifier := d.Verifier
	if verifier != nil {
		verifier = &timedVerifier{next: verifier, metrics: d.Metrics}
	}

	s.gate, err = x402.NewGate(x402.Config{
		Network:           d.Config.NetworkType(),
		PayTo:             d.Config.PayTo,
		Asset:             d.Config.Asset,
		AssetDecimals:     d.Config.AssetDecimals,
		AssetSymbol:       d.Config.AssetSymbol,
		PricePerRequest:   price,
		Price:             s.quote,
		Tolerance:         d.Config.Tolerance,
		PublicURL:         d.Config.PublicURL,
		MaxTimeoutSeconds: d.Config.MaxTimeoutSeconds,
		MaxTransactionAge: d.Config.MaxTxAge,
		Verifier:          verifier,
		Facilitator:       d.Facilitator,
		Replay:            d.Replay,
		ReplayTTL:         d.Config.ReplayTTL,
		Receipts:          d.Receipts,
		OnPaymentVerified: s.paymentVerified,
		OnPaymentFailed:   s.paymentFailed,
	})
	if err != nil {
		return nil, err
	}

	if d.Config.RateLimitRPS > 0 {
		s.limiter = middleware.NewRateLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst, d.Logger, d.Metrics).
			TrustProxies(proxies)
	}

	s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimiter returns the per-client limiter, nil when rate limiting is off.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

// Gate returns the payment gate protecting component routes.
func (s *Server) Gate() *x402.Gate {
	return s.gate
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.Use(middleware.RecoveryMiddleware(s.logger))
	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(middleware.MetricsMiddleware(s.metrics))
	r.Use(middleware.NewCORSMiddleware(s.cfg.CORSOriginList()).Handler)
	// mux only runs middleware on matched routes; preflights need one.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/x402", s.handleDiscovery).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Handler)
	}
	api.HandleFunc("/templates", s.handleTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates/{type}/preview", s.handlePreview).Methods(http.MethodGet)
	api.HandleFunc("/suggest", s.handleSuggest).Methods(http.MethodGet)

	paid := s.withPrompt(s.gate.Handler(http.HandlerFunc(s.handleGenerate)))
	api.Handle("/components/{type:"+s.catalog.RoutePattern()+"}", paid).
		Methods(http.MethodGet, http.MethodPost)
	api.PathPrefix("/").Handler(r.NotFoundHandler)

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}
}

// quote prices a component request from the catalog.
func (s *Server) quote(r *http.Request) x402.Quote {
	name := mux.Vars(r)["type"]
	tmpl, err := s.catalog.Get(name)
	if err != nil {
		return x402.Quote{Amount: s.price}
	}
	return x402.Quote{
		Amount:      s.catalog.Price(name, s.price),
		Description: tmpl.Title + " component",
	}
}

func (s *Server) paymentVerified(r *http.Request, p *x402.Payment) {
	s.logger.LogPayment(r.Context(), string(p.Method), p.Payer, p.Transaction, "", p.Amount)
	s.metrics.RecordPayment(string(p.Method), "", s.cfg.AssetSymbol, p.Amount)
}

func (s *Server) paymentFailed(r *http.Request, perr *x402.PaymentError) {
	method := proofMethod(r)
	s.metrics.RecordPayment(method, string(perr.Reason), s.cfg.AssetSymbol, 0)

	switch perr.Reason {
	case x402.ReasonPaymentRequired:
		return
	case x402.ReasonPaymentReplayed:
		s.logger.LogSecurityEvent(r.Context(), "payment_replayed", map[string]interface{}{
			"path":   r.URL.Path,
			"method": method,
			"client": s.proxies.ClientIP(r),
		})
	}
	s.logger.WithContext(r.Context()).
		WithField("payment_method", method).
		WithField("reason", string(perr.Reason)).
		WithError(perr).
		Warn("payment rejected")
}

// proofMethod guesses which proof a rejected request carried.
func proofMethod(r *http.Request) string {
	switch {
	case r.Header.Get(x402.HeaderPayment) != "":
		return string(x402.MethodX402)
	case r.Header.Get(x402.HeaderSolanaSignature) != "":
		return string(x402.MethodChainProof)
	case r.Header.Get("Authorization") != "":
		return string(x402.MethodReceipt)
	default:
		return "none"
	}
}

// timedVerifier records how long on-chain checks take.
type timedVerifier struct {
	next    x402.TransferVerifier
	metrics *metrics.Metrics
}

func (v *timedVerifier) VerifyTransfer(ctx context.Context, exp solana.Expectation) (*solana.Transfer, error) {
	start := time.Now()
	t, err := v.next.VerifyTransfer(ctx, exp)
	outcome := "verified"
	if err != nil {
		outcome = string(x402.AsPaymentError(err).Reason)
	}
	v.metrics.ObserveVerification(outcome, time.Since(start))
	return t, err
}
