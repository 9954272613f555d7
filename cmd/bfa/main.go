package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/accmarket/market-bfa-go/internal/config"
	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/handler"
	"github.com/accmarket/market-bfa-go/internal/infra/cache"
	"github.com/accmarket/market-bfa-go/internal/infra/client"
	"github.com/accmarket/market-bfa-go/internal/infra/market"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/infra/resilience"
	"github.com/accmarket/market-bfa-go/internal/port"
	"github.com/accmarket/market-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("mode", cfg.Mode),
		zap.String("market_url", cfg.MarketURL()),
		zap.Bool("static_token", cfg.MarketAPIToken != ""),
		zap.Bool("client_credentials", cfg.Credentials().HasClientCredentials()),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)
	if err := cfg.Validate(); err != nil {
		// Calls will fail with the same ConfigError; the process stays up for health checks.
		logger.Warn("market client is not fully configured", zap.Error(err))
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "market-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	var (
		categoryCache port.Cache[[]domain.CategoryInfo]
		callbackCache port.Cache[bool]
	)
	switch cfg.CacheBackend {
	case "redis":
		rdb := cache.NewRedisClient(context.Background(), cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		defer rdb.Close()
		categoryCache = cache.NewRedis[[]domain.CategoryInfo](rdb, "market:categories", cfg.CacheTTL, logger)
		callbackCache = cache.NewRedis[bool](rdb, "relay:seen", cfg.CacheTTL, logger)
	default:
		categoryCache = cache.New[[]domain.CategoryInfo](cfg.CacheTTL)
		callbackCache = cache.New[bool](cfg.CacheTTL)
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxConcurrency:    cfg.MaxConcurrency,
		RequestsPerSecond: cfg.MarketRateLimit,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	tokens := market.NewTokenManager(httpClient, cfg.MarketTokenURL, cfg.MarketScope, cfg.Credentials(), metrics, logger)
	marketClient := market.NewClient(
		httpClient,
		cfg.MarketURL(),
		tokens,
		resilience.NewCircuitBreaker(observability.BreakerMarket, market.IsSuccessful, metrics.BreakerListener(logger)),
		resilienceCfg,
		metrics,
		logger,
	)

	var forwarder port.PaymentForwarder
	if cfg.RelayForwardURL != "" {
		forwarder = client.NewCallbackForwarder(
			httpClient,
			cfg.RelayForwardURL,
			resilience.NewCircuitBreaker(observability.BreakerRelay, nil, metrics.BreakerListener(logger)),
			resilienceCfg,
			logger,
		)
		logger.Info("payment relay forwarding enabled", zap.String("forward_url", cfg.RelayForwardURL))
	} else {
		logger.Warn("payment relay: RELAY_FORWARD_URL not set, callbacks are acknowledged without delivery")
	}

	// --- Services ---
	catalog := service.NewCatalog(marketClient, categoryCache, metrics, logger)

	var relay *service.PaymentRelay
	if cfg.RelaySecret != "" {
		relay = service.NewPaymentRelay(cfg.RelaySecret, forwarder, callbackCache, metrics, logger)
	} else {
		logger.Warn("payment relay: WINPAY_CALLBACK_SECRET not set, callbacks are rejected")
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Catalog: catalog,
		Relay:   relay,
		Tokens:  tokens,
		Metrics: metrics,
		Logger:  logger,
		Options: handler.RelayOptions{
			AllowedOrigins: cfg.RelayAllowedOrigins,
			RateLimit:      cfg.RelayRateLimit,
			RateWindow:     cfg.RelayRateWindow,
		},
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
