package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/siddimore/x402-ui-components/internal/components"
	"github.com/siddimore/x402-ui-components/internal/config"
	"github.com/siddimore/x402-ui-components/internal/logging"
	"github.com/siddimore/x402-ui-components/internal/metrics"
	"github.com/siddimore/x402-ui-components/internal/server"
	"github.com/siddimore/x402-ui-components/internal/store"
	"github.com/siddimore/x402-ui-components/pkg/solana"
	"github.com/siddimore/x402-ui-components/pkg/x402"
)

const (
	shutdownTimeout   = 15 * time.Second
	limiterSweepEvery = time.Minute
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New("x402ui", cfg.LogLevel, cfg.LogFormat)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":    cfg.ListenAddr,
			"network": cfg.Network,
			"pay_to":  cfg.PayTo,
			"price":   cfg.Price + " " + cfg.AssetSymbol,
		}).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if limiter := srv.RateLimiter(); limiter != nil {
		g.Go(func() error {
			limiter.RunCleanup(gctx, limiterSweepEvery)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// buildServer assembles the RPC client, verifier, facilitator, replay guard,
// receipts and catalog. cleanup releases whatever was opened.
func buildServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*server.Server, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.WithError(err).Warn("cleanup")
			}
		}
	}
	fail := func(err error) (*server.Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	catalog, err := components.LoadCatalog(cfg.CatalogPath, cfg.AssetDecimals)
	if err != nil {
		return fail(fmt.Errorf("load catalog: %w", err))
	}

	rpc, err := solana.NewClient(solana.ClientConfig{RPCURL: cfg.RPCURL, Timeout: cfg.RPCTimeout})
	if err != nil {
		return fail(err)
	}

	deps := server.Deps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(),
		Catalog:  catalog,
		RPC:      rpc,
		Verifier: solana.NewVerifier(rpc, cfg.Commitment),
	}

	if cfg.FacilitatorURL != "" {
		deps.Facilitator, err = x402.NewFacilitatorClient(x402.FacilitatorConfig{
			URL:     cfg.FacilitatorURL,
			APIKey:  cfg.FacilitatorAPIKey,
			Timeout: cfg.RPCTimeout,
		})
		if err != nil {
			return fail(err)
		}
	}

	if cfg.RedisURL != "" {
		guard, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, guard.Close)
		deps.Replay = guard
		logger.Info("replay guard: redis")
	} else {
		guard := x402.NewMemoryReplayGuard(time.Minute)
		closers = append(closers, guard.Close)
		deps.Replay = guard
		logger.Info("replay guard: in-memory")
	}

	if cfg.ReceiptSecret != "" {
		deps.Receipts, err = x402.NewReceiptIssuer(cfg.ReceiptSecret, cfg.ReceiptTTL)
		if err != nil {
			return fail(err)
		}
	}

	srv, err := server.New(deps)
	if err != nil {
		return fail(err)
	}
	return srv, cleanup, nil
}
