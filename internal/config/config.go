// Package config loads service configuration from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8402"`
	PublicURL  string `env:"PUBLIC_URL"`

	Network    string        `env:"SOLANA_NETWORK,default=solana-devnet"`
	RPCURL     string        `env:"SOLANA_RPC_URL"`
	Commitment string        `env:"COMMITMENT,default=confirmed"`
	RPCTimeout time.Duration `env:"RPC_TIMEOUT,default=10s"`

	PayTo         string `env:"PAY_TO"`
	Price         string `env:"PRICE,default=0.001"`
	Asset         string `env:"ASSET"`
	AssetDecimals int    `env:"ASSET_DECIMALS,default=9"`
	AssetSymbol   string `env:"ASSET_SYMBOL"`
	Tolerance     uint64 `env:"PAYMENT_TOLERANCE,default=5000"`

	MaxTimeoutSeconds int           `env:"MAX_TIMEOUT_SECONDS,default=300"`
	MaxTxAge          time.Duration `env:"MAX_TX_AGE,default=15m"`

	FacilitatorURL    string `env:"FACILITATOR_URL"`
	FacilitatorAPIKey string `env:"FACILITATOR_API_KEY"`

	RedisURL  string        `env:"REDIS_URL"`
	ReplayTTL time.Duration `env:"REPLAY_TTL,default=24h"`

	ReceiptSecret string        `env:"RECEIPT_SECRET"`
	ReceiptTTL    time.Duration `env:"RECEIPT_TTL,default=10m"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`
	CORSOrigins    string  `env:"CORS_ORIGINS,default=*"`
	TrustedProxies string  `env:"TRUSTED_PROXIES"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	CatalogPath string `env:"CATALOG_PATH"`
	StaticDir   string `env:"STATIC_DIR"`
}

// Load reads the given .env files (missing ones are skipped), decodes the
// environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads dotenv files into the process environment. Missing files
// are skipped and variables that are already set win.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if network, err := x402.NormalizeNetwork(c.Network); err == nil {
		c.Network = string(network)
		if c.RPCURL == "" {
			c.RPCURL = network.DefaultRPCURL()
		}
	}
	if c.AssetSymbol == "" {
		if c.Asset == "" {
			c.AssetSymbol = "SOL"
		} else {
			c.AssetSymbol = "SPL"
		}
	}
	if c.Asset == "" {
		c.AssetDecimals = solana.NativeDecimals
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if _, err := x402.NormalizeNetwork(c.Network); err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK: %w", err))
	}
	if c.PayTo == "" {
		errs = append(errs, errors.New("PAY_TO is required"))
	} else if err := solana.ValidatePublicKey(c.PayTo); err != nil {
		errs = append(errs, fmt.Errorf("PAY_TO: %w", err))
	}
	if c.Asset != "" {
		if err := solana.ValidatePublicKey(c.Asset); err != nil {
			errs = append(errs, fmt.Errorf("ASSET: %w", err))
		}
	}
	if c.AssetDecimals < 0 || c.AssetDecimals > 18 {
		errs = append(errs, fmt.Errorf("ASSET_DECIMALS must be between 0 and 18, got %d", c.AssetDecimals))
	} else if price, err := c.PriceAtomic(); err != nil {
		errs = append(errs, fmt.Errorf("PRICE: %w", err))
	} else if price == 0 {
		errs = append(errs, errors.New("PRICE must be positive"))
	}
	switch c.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("COMMITMENT must be processed, confirmed or finalized, got %q", c.Commitment))
	}
	if c.MaxTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("MAX_TIMEOUT_SECONDS must be positive"))
	}
	if c.ReceiptSecret != "" && len(c.ReceiptSecret) < 16 {
		errs = append(errs, errors.New("RECEIPT_SECRET must be at least 16 bytes"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}

	return errors.Join(errs...)
}

// PriceAtomic returns PRICE in atomic units of the asset.
func (c *Config) PriceAtomic() (uint64, error) {
	return solana.ParseAmount(c.Price, c.AssetDecimals)
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

// TrustedProxyList splits TRUSTED_PROXIES (CIDRs or addresses) on commas.
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// NetworkType returns the configured network.
func (c *Config) NetworkType() x402.NetworkType {
	return x402.NetworkType(c.Network)
}
