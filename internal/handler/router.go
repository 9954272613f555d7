package handler

import (
	"net/http"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// TokenStatusReporter exposes the redacted token state for /healthz.
type TokenStatusReporter interface {
	Status() *domain.TokenStatus
}

// RelayOptions configures the public payment callback surface.
type RelayOptions struct {
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// Deps are the services the router wires into handlers. Any of them may be
// nil: a nil Logger or Metrics gets a no-op logger or a fresh registry, a nil
// Catalog leaves the /v1 listing routes unmounted, and a nil Relay answers
// callbacks with a 500 ack.
type Deps struct {
	Catalog *service.Catalog
	Relay   *service.PaymentRelay
	Tokens  TokenStatusReporter
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Options RelayOptions
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Tokens, metrics))
	r.Get("/readyz", readyzHandler(d.Catalog))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/market", marketMetricsHandler(metrics))

		if d.Catalog == nil {
			return
		}

		// =============================================
		// 1. Listings
		// =============================================
		r.Get("/accounts", listLatestHandler(d.Catalog, logger))
		r.Get("/categories/{category}/accounts", listCategoryHandler(d.Catalog, logger))
		r.Get("/user/items", userItemsHandler(d.Catalog, logger))

		// =============================================
		// 2. Single account
		// =============================================
		r.Get("/accounts/{itemId}", getAccountHandler(d.Catalog, logger))

		// =============================================
		// 3. Categories & overview
		// =============================================
		r.Get("/categories", listCategoriesHandler(d.Catalog, logger))
		r.Get("/overview", overviewHandler(d.Catalog, logger))
	})

	// --- Payment callback relay ---
	r.Get("/health", relayHealthHandler(d.Relay))
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.Options.AllowedOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: append([]string{"Content-Type"}, domain.PaymentHeaders...),
			MaxAge:         300,
		}))
		r.Use(rateLimitMiddleware(newIPLimiter(d.Options.RateLimit, d.Options.RateWindow), logger))
		r.Post(PaymentCallbackPath, paymentCallbackHandler(d.Relay, logger))
		// Preflight is answered by the CORS middleware; chi needs a route to reach it.
		r.Options(PaymentCallbackPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(tokens TokenStatusReporter, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}
		status := domain.HealthStatus{Status: "healthy"}

		if tokens != nil {
			status.Token = tokens.Status()
			market := domain.ServiceHealth{Name: "market", Status: "healthy", LastChecked: now}
			if !status.Token.Cached {
				market.Status = "degraded"
				market.Detail = "no token acquired yet"
			}
			if metrics != nil {
				if snap := metrics.Snapshot(); snap.UpstreamRequests > 0 && snap.ErrorRate > 0.5 {
					market.Status = "degraded"
					market.Detail = "upstream error rate above 50%"
				}
				if metrics.BreakerOpen(observability.BreakerMarket) {
					market.Status = "degraded"
					market.Detail = "circuit breaker open"
				}
			}
			services = append(services, market)
		}

		for _, s := range services {
			if s.Status == "degraded" {
				status.Status = "degraded"
			}
		}
		status.Services = services

		// Degraded still answers 200; the process itself is alive.
		writeJSON(w, http.StatusOK, status)
	}
}

func readyzHandler(catalog *service.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "market": "disabled"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
