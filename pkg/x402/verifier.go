package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Facilitator verifies and settles X-PAYMENT payloads on the seller's behalf.
type Facilitator interface {
	Verify(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*SettlementResponse, error)
}

// FacilitatorConfig holds configuration for a remote facilitator
type FacilitatorConfig struct {
	// URL is the facilitator base URL; /verify and /settle are appended.
	URL string

	// APIKey is sent as X-API-Key when set
	APIKey string

	// Timeout is the HTTP client timeout
	Timeout time.Duration

	HTTPClient *http.Client
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// FacilitatorClient talks to an x402 facilitator over HTTP.
type FacilitatorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFacilitatorClient creates a facilitator client
func NewFacilitatorClient(config FacilitatorConfig) (*FacilitatorClient, error) {
	if config.URL == "" {
		return nil, errors.New("facilitator url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &FacilitatorClient{
		baseURL: strings.TrimRight(config.URL, "/"),
		apiKey:  config.APIKey,
		client:  client,
	}, nil
}

// Verify asks the facilitator whether payload satisfies req without moving funds.
func (f *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*VerifyResponse, error) {
	body, err := f.post(ctx, "/verify", payload, req)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	resp := &VerifyResponse{
		IsValid:       res.Get("isValid").Bool(),
		InvalidReason: res.Get("invalidReason").String(),
		Payer:         res.Get("payer").String(),
	}
	// some facilitators still answer with the pre-release "valid" field
	if !res.Get("isValid").Exists() {
		resp.IsValid = res.Get("valid").Bool()
	}
	return resp, nil
}

// Settle asks the facilitator to submit the payment and wait for it to land.
func (f *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*SettlementResponse, error) {
	body, err := f.post(ctx, "/settle", payload, req)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	resp := &SettlementResponse{
		Success:     res.Get("success").Bool(),
		ErrorReason: res.Get("errorReason").String(),
		Transaction: res.Get("transaction").String(),
		Network:     res.Get("network").String(),
		Payer:       res.Get("payer").String(),
	}
	if resp.Transaction == "" {
		resp.Transaction = res.Get("txHash").String()
	}
	if resp.Network == "" {
		resp.Network = payload.Network
	}
	return resp, nil
}

func (f *FacilitatorClient) post(ctx context.Context, path string, payload *PaymentPayload, req PaymentRequirements) ([]byte, error) {
	jsonBody, err := json.Marshal(facilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		httpReq.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("facilitator API error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("facilitator %s returned invalid JSON", path)
	}
	return body, nil
}
