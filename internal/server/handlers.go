package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/siddimore/x402-ui-components/internal/components"
	"github.com/siddimore/x402-ui-components/internal/middleware"
	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const maxBodyBytes = 16 << 10

// GenerateRequest is the optional POST body of a component request.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is returned for a paid component request.
type GenerateResponse struct {
	Component *components.Component `json:"component"`
	Payment   *x402.Payment         `json:"payment"`
}

// TemplateInfo describes one template and its price.
type TemplateInfo struct {
	Name              string   `json:"name"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords,omitempty"`
	MaxAmountRequired string   `json:"maxAmountRequired"`
	Price             string   `json:"price"`
	Symbol            string   `json:"symbol"`
	Endpoint          string   `json:"endpoint"`
}

// Discovery is served at /.well-known/x402.
type Discovery struct {
	X402Version   int            `json:"x402Version"`
	Network       string         `json:"network"`
	CAIP2         string         `json:"caip2"`
	PayTo         string         `json:"payTo"`
	Asset         string         `json:"asset,omitempty"`
	Symbol        string         `json:"symbol"`
	Decimals      int            `json:"decimals"`
	Tolerance     string         `json:"tolerance"`
	Scheme        string         `json:"scheme"`
	Facilitator   bool           `json:"facilitator"`
	Receipts      bool           `json:"receipts"`
	CustomHeaders []string       `json:"customHeaders"`
	Endpoints     []TemplateInfo `json:"endpoints"`
}

// Health is the /health response.
type Health struct {
	Status  string `json:"status"`
	Network string `json:"network"`
	RPC     string `json:"rpc"`
	Uptime  string `json:"uptime"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:  "ok",
		Network: string(s.gate.Network()),
		RPC:     "not_configured",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.rpc != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.rpc.GetHealth(ctx); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("rpc health check failed")
			h.Status = "degraded"
			h.RPC = "unavailable"
		} else {
			h.RPC = "ok"
		}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	network := s.gate.Network()
	writeJSON(w, http.StatusOK, Discovery{
		X402Version: x402.X402Version,
		Network:     string(network),
		CAIP2:       string(network.CAIP2()),
		PayTo:       s.cfg.PayTo,
		Asset:       s.cfg.Asset,
		Symbol:      s.cfg.AssetSymbol,
		Decimals:    s.cfg.AssetDecimals,
		Tolerance:   strconv.FormatUint(s.cfg.Tolerance, 10),
		Scheme:      string(x402.SchemeExact),
		Facilitator: s.hasFacil,
		Receipts:    s.receipts,
		CustomHeaders: []string{
			x402.HeaderSolanaSignature,
			x402.HeaderSolanaPubkey,
			x402.HeaderSolanaTimestamp,
		},
		Endpoints: s.templateInfos(),
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": s.templateInfos(),
	})
}

func (s *Server) templateInfos() []TemplateInfo {
	names := s.catalog.Names()
	out := make([]TemplateInfo, 0, len(names))
	for _, name := range names {
		t, err := s.catalog.Get(name)
		if err != nil {
			continue
		}
		amount := s.catalog.Price(name, s.price)
		out = append(out, TemplateInfo{
			Name:              t.Name,
			Title:             t.Title,
			Description:       t.Description,
			Keywords:          t.Keywords,
			MaxAmountRequired: strconv.FormatUint(amount, 10),
			Price:             solana.FormatAmount(amount, s.cfg.AssetDecimals),
			Symbol:            s.cfg.AssetSymbol,
			Endpoint:          "/api/components/" + t.Name,
		})
	}
	return out
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Preview(mux.Vars(r)["type"])
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "unknown_template", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if utf8.RuneCountInString(prompt) > components.MaxPromptRunes {
		middleware.WriteError(w, http.StatusBadRequest, "prompt_too_long",
			fmt.Sprintf("prompt must be at most %d characters", components.MaxPromptRunes))
		return
	}
	name := s.catalog.Suggest(prompt)
	writeJSON(w, http.StatusOK, map[string]string{
		"template": name,
		"endpoint": "/api/components/" + name,
	})
}

type promptKey struct{}

// withPrompt parses and validates the prompt before the payment gate so a
// malformed request never consumes a payment.
func (s *Server) withPrompt(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prompt, err := readPrompt(r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if utf8.RuneCountInString(prompt) > components.MaxPromptRunes {
			middleware.WriteError(w, http.StatusBadRequest, "prompt_too_long",
				fmt.Sprintf("prompt must be at most %d characters", components.MaxPromptRunes))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), promptKey{}, prompt)))
	})
}

func readPrompt(r *http.Request) (string, error) {
	prompt := r.URL.Query().Get("prompt")
	if r.Method != http.MethodPost || r.Body == nil {
		return prompt, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return "", errors.New("request body too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return prompt, nil
	}
	var req GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("body must be JSON: %w", err)
	}
	if req.Prompt != "" {
		prompt = req.Prompt
	}
	return prompt, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]
	prompt, _ := r.Context().Value(promptKey{}).(string)

	comp, err := s.catalog.Generate(name, prompt)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).WithField("template", name).Error("generate component")
		middleware.WriteError(w, http.StatusInternalServerError, "generation_failed", "could not generate component")
		return
	}
	s.metrics.RecordComponent(name)

	payment, _ := x402.PaymentFromContext(r.Context())
	writeJSON(w, http.StatusOK, GenerateResponse{Component: comp, Payment: payment})
}
