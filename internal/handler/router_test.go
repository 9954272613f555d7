package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/handler"
	"github.com/accmarket/market-bfa-go/internal/infra/cache"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/service"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type fakeMarket struct {
	body        string
	err         error
	lastFilters domain.Filters
}

func (f *fakeMarket) ListLatest(_ context.Context, fl domain.Filters) (json.RawMessage, error) {
	f.lastFilters = fl
	return json.RawMessage(f.body), f.err
}

func (f *fakeMarket) ListCategory(_ context.Context, _ domain.Category, fl domain.Filters) (json.RawMessage, error) {
	f.lastFilters = fl
	return json.RawMessage(f.body), f.err
}

func (f *fakeMarket) GetItem(context.Context, int64) (json.RawMessage, error) {
	return json.RawMessage(f.body), f.err
}

func (f *fakeMarket) ListCategories(context.Context) (json.RawMessage, error) {
	return json.RawMessage(f.body), f.err
}

func (f *fakeMarket) ListUserItems(_ context.Context, fl domain.Filters) (json.RawMessage, error) {
	f.lastFilters = fl
	return json.RawMessage(f.body), f.err
}

type fakeTokens struct{ cached bool }

func (f fakeTokens) Status() *domain.TokenStatus {
	return &domain.TokenStatus{Cached: f.cached, Source: domain.TokenSourceOAuth}
}

const testSecret = "relay-secret"

func newTestRouter(m *fakeMarket, opts handler.RelayOptions) http.Handler {
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	return handler.NewRouter(handler.Deps{
		Catalog: service.NewCatalog(m, cache.New[[]domain.CategoryInfo](time.Minute), metrics, logger),
		Relay:   service.NewPaymentRelay(testSecret, nil, cache.New[bool](time.Minute), metrics, logger),
		Tokens:  fakeTokens{cached: true},
		Metrics: metrics,
		Logger:  logger,
		Options: opts,
	})
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Operational ---

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(handler.Deps{Metrics: observability.NewMetrics(), Logger: zap.NewNop()})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_ReportsTokenStatus(t *testing.T) {
	router := handler.NewRouter(handler.Deps{
		Tokens:  fakeTokens{cached: false},
		Metrics: observability.NewMetrics(),
		Logger:  zap.NewNop(),
	})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.Status)
	require.NotNil(t, got.Token)
	assert.False(t, got.Token.Cached)
	assert.NotContains(t, rec.Body.String(), "Bearer")
}

func TestHealthz_OpenMarketBreakerDegrades(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.BreakerListener(zap.NewNop())(observability.BreakerMarket, gobreaker.StateClosed, gobreaker.StateOpen)
	router := handler.NewRouter(handler.Deps{
		Tokens:  fakeTokens{cached: true},
		Metrics: metrics,
		Logger:  zap.NewNop(),
	})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var got domain.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.Status)
	require.Len(t, got.Services, 2)
	assert.Equal(t, "circuit breaker open", got.Services[1].Detail)
}

func TestNewRouter_ZeroDeps(t *testing.T) {
	router := handler.NewRouter(handler.Deps{})

	for path, want := range map[string]int{
		"/healthz":           http.StatusOK,
		"/readyz":            http.StatusOK,
		"/metrics":           http.StatusOK,
		"/health":            http.StatusOK,
		"/v1/metrics/market": http.StatusOK,
		"/v1/accounts":       http.StatusNotFound,
		"/v1/categories":     http.StatusNotFound,
	} {
		rec := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	rec := serve(router, callbackRequest(t, "ext-zero", true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(handler.Deps{Metrics: observability.NewMetrics(), Logger: zap.NewNop()})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := handler.NewRouter(handler.Deps{Metrics: observability.NewMetrics(), Logger: zap.NewNop()})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRelayHealth(t *testing.T) {
	router := handler.NewRouter(handler.Deps{Metrics: observability.NewMetrics(), Logger: zap.NewNop()})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// --- Catalog ---

func TestListCategory_NormalizesAndPassesArrayFilters(t *testing.T) {
	m := &fakeMarket{body: `{"items":[{"item_id":42,"price":10.5,"steam_level":30}]}`}
	router := newTestRouter(m, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/categories/steam/accounts?game[]=730&game[]=570&pmax=100", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page domain.AccountPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(42), page.Items[0].ID)
	assert.Equal(t, domain.CategorySteam, page.Category)

	assert.Equal(t, []string{"730", "570"}, m.lastFilters["game"])
	assert.Equal(t, "100", m.lastFilters["pmax"])
}

func TestListCategory_IndexedKeysKeepOrder(t *testing.T) {
	m := &fakeMarket{body: `{"items":[]}`}
	router := newTestRouter(m, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/categories/fortnite/accounts?skin[1]=b&skin[0]=a&origin=brute&origin=stealer", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"a", "b"}, m.lastFilters["skin"])
	assert.Equal(t, []string{"brute", "stealer"}, m.lastFilters["origin"])
}

func TestListCategory_UnknownCategory(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/categories/minecraft/accounts", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccount_InvalidID(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/accounts/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverview_UnknownCategoryIsBadRequest(t *testing.T) {
	router := newTestRouter(&fakeMarket{body: `{"items":[]}`}, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/overview?categories=steam,minecraft", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream 404 on listing passes through", &domain.APIError{Status: http.StatusNotFound}, http.StatusNotFound},
		{"upstream 403 passes through", &domain.APIError{Status: http.StatusForbidden}, http.StatusForbidden},
		{"upstream 401 passes through", &domain.APIError{Status: http.StatusUnauthorized}, http.StatusUnauthorized},
		{"upstream 503 is bad gateway", &domain.APIError{Status: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{"timeout is gateway timeout", &domain.NetworkError{Op: "GET", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"reset is bad gateway", &domain.NetworkError{Op: "GET", Err: errors.New("connection reset")}, http.StatusBadGateway},
		{"token rejection is bad gateway", &domain.AuthError{Status: http.StatusBadRequest}, http.StatusBadGateway},
		{"missing credentials is internal", &domain.ConfigError{Field: "MARKET_CLIENT_ID"}, http.StatusInternalServerError},
		{"open breaker is unavailable", &domain.ErrCircuitOpen{Service: "market"}, http.StatusServiceUnavailable},
		{"unknown error is internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeMarket{err: tt.err}, handler.RelayOptions{})

			rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/accounts", nil))

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetAccount_UpstreamNotFound(t *testing.T) {
	router := newTestRouter(&fakeMarket{err: &domain.APIError{Status: http.StatusNotFound}}, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/accounts/77", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketMetrics(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v1/metrics/market", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.MarketMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "all_time", got.Period)
}

// --- Payment relay ---

func callbackRequest(t *testing.T, externalID string, sign bool) *http.Request {
	t.Helper()
	body := []byte(`{"virtualAccountNo":"8808123","paidAmount":{"value":"10000.00","currency":"IDR"}}`)
	ts := "2024-05-01T10:00:00+07:00"

	req := httptest.NewRequest(http.MethodPost, handler.PaymentCallbackPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(domain.HeaderTimestamp, ts)
	req.Header.Set(domain.HeaderPartnerID, "partner-1")
	req.Header.Set(domain.HeaderExternalID, externalID)
	req.Header.Set(domain.HeaderChannelID, "95221")
	if sign {
		sig, err := service.Sign([]byte(testSecret), http.MethodPost, handler.PaymentCallbackPath, body, ts)
		require.NoError(t, err)
		req.Header.Set(domain.HeaderSignature, sig)
	}
	return req
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) domain.PaymentAck {
	t.Helper()
	var ack domain.PaymentAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

func TestPaymentCallback_Acknowledged(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{RateLimit: 100, RateWindow: 15 * time.Minute})

	rec := serve(router, callbackRequest(t, "ext-1", true))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AckSuccess, decodeAck(t, rec).ResponseCode)
}

func TestPaymentCallback_MissingSignature(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{RateLimit: 100, RateWindow: 15 * time.Minute})

	rec := serve(router, callbackRequest(t, "ext-2", false))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	ack := decodeAck(t, rec)
	assert.Equal(t, domain.AckBadRequest, ack.ResponseCode)
	assert.Contains(t, ack.ResponseMessage, domain.HeaderSignature)
}

func TestPaymentCallback_BadSignature(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{RateLimit: 100, RateWindow: 15 * time.Minute})
	req := callbackRequest(t, "ext-3", false)
	req.Header.Set(domain.HeaderSignature, "bm9wZQ==")

	rec := serve(router, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.AckUnauthorized, decodeAck(t, rec).ResponseCode)
}

func TestPaymentCallback_InFlightIsConflict(t *testing.T) {
	metrics := observability.NewMetrics()
	seen := cache.New[bool](time.Minute)
	seen.Set(context.Background(), "ext-busy", false)
	router := handler.NewRouter(handler.Deps{
		Relay:   service.NewPaymentRelay(testSecret, nil, seen, metrics, zap.NewNop()),
		Metrics: metrics,
		Options: handler.RelayOptions{RateLimit: 100, RateWindow: 15 * time.Minute},
	})

	rec := serve(router, callbackRequest(t, "ext-busy", true))

	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AckConflict, decodeAck(t, rec).ResponseCode)
}

func TestPaymentCallback_RateLimited(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{RateLimit: 2, RateWindow: 15 * time.Minute})

	for i := 0; i < 2; i++ {
		rec := serve(router, callbackRequest(t, "ext-rl", true))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(1-i), rec.Header().Get("RateLimit-Remaining"))
	}

	rec := serve(router, callbackRequest(t, "ext-rl", true))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.AckTooMany, decodeAck(t, rec).ResponseCode)
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestPaymentCallback_Preflight(t *testing.T) {
	router := newTestRouter(&fakeMarket{}, handler.RelayOptions{
		AllowedOrigins: []string{"https://gateway.example"},
		RateLimit:      100,
		RateWindow:     15 * time.Minute,
	})

	req := httptest.NewRequest(http.MethodOptions, handler.PaymentCallbackPath, nil)
	req.Header.Set("Origin", "https://gateway.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", domain.HeaderSignature)

	rec := serve(router, req)

	assert.Equal(t, "https://gateway.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
