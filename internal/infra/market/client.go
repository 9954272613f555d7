// Package market is the client for the third-party account marketplace API:
// token management, the auth-aware request client and the per-category
// domain methods.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/infra/resilience"
	"github.com/accmarket/market-bfa-go/internal/port"
)

var tracer = otel.Tracer("market")

// ClientName identifies this service to the marketplace.
const ClientName = "market-bfa-go/1.0"

const (
	maxAttempts  = 2
	maxRespBytes = 16 << 20
)

// Client performs authenticated calls against the marketplace API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     port.TokenProvider
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	throttle   *resilience.Throttle
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a marketplace client. baseURL is the dev proxy prefix
// or the absolute upstream host, without a trailing slash.
func NewClient(httpClient *http.Client, baseURL string, tokens port.TokenProvider, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		throttle:   resilience.NewThrottle(cfg.RequestsPerSecond),
		metrics:    metrics,
		logger:     logger.Named("market"),
	}
}

// IsSuccessful is the circuit breaker predicate for marketplace calls:
// client-side failures (4xx, missing config, cancelled callers) say nothing
// about upstream health.
func IsSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status < 500
	}
	var cfgErr *domain.ConfigError
	return errors.As(err, &cfgErr)
}

// Do performs one logical call and returns the raw JSON body. A 401 on the
// first attempt triggers one token acquisition and exactly one retry.
func (c *Client) Do(ctx context.Context, spec domain.RequestSpec) (json.RawMessage, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := tracer.Start(ctx, "MarketClient.Do")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("market.endpoint", spec.Endpoint),
	)

	if c.baseURL == "" {
		return nil, &domain.ConfigError{Field: "MARKET_BASE_URL"}
	}

	target := c.baseURL + spec.Endpoint
	if q := EncodeQuery(spec.Query); q != "" {
		target += "?" + q
	}

	var body []byte
	if spec.Body != nil {
		b, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = b
	}

	if err := c.throttle.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.ErrTimeout{Operation: "waiting for the market request rate"}
	}

	if err := c.bulkhead.Acquire(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ErrTimeout{Operation: "waiting for a market connection slot"}
		}
		return nil, err
	}
	defer c.bulkhead.Release()

	start := time.Now()
	result, err := c.cb.Execute(func() (any, error) {
		return c.roundTrip(ctx, method, target, body, spec.Headers)
	})
	c.metrics.RecordUpstream(endpointLabel(spec.Endpoint), time.Since(start))

	if err != nil {
		if resilience.IsBreakerOpen(err) {
			err = &domain.ErrCircuitOpen{Service: "market"}
		}
		c.metrics.IncrUpstreamError(errorKind(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result.(json.RawMessage), nil
}

// roundTrip is the bounded retry loop: at most maxAttempts sends, with a
// token refresh only between the first and second.
func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte, headers http.Header) (json.RawMessage, error) {
	var lastErr *domain.APIError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return nil, err
		}

		status, respBody, err := c.send(ctx, method, target, body, headers, token)
		if err != nil {
			return nil, err
		}

		if status >= 200 && status < 300 {
			if len(bytes.TrimSpace(respBody)) == 0 {
				return json.RawMessage("null"), nil
			}
			if !json.Valid(respBody) {
				return nil, &domain.ErrExternalService{Service: "market", Err: fmt.Errorf("%s %s: response is not valid JSON", method, target)}
			}
			return json.RawMessage(respBody), nil
		}

		lastErr = &domain.APIError{
			Status:     status,
			StatusText: http.StatusText(status),
			Body:       string(respBody),
		}

		if status != http.StatusUnauthorized || attempt == maxAttempts {
			break
		}

		c.logger.Warn("market: unauthorized, refreshing token",
			zap.String("method", method),
			zap.String("url", target),
		)
		c.metrics.IncrUnauthorizedRetry()
		if _, err := c.tokens.AcquireToken(ctx); err != nil {
			return nil, fmt.Errorf("refresh token after 401: %w", err)
		}
	}

	c.logger.Warn("market: non-2xx response",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", lastErr.Status),
		zap.String("body", truncate(lastErr.Body, 512)),
	)
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, headers http.Header, token string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return 0, nil, &domain.ConfigError{Field: "MARKET_BASE_URL", Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ClientName)
	req.Header.Set("X-Client-Name", ClientName)
	for k, vs := range headers {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("market: request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err),
		)
		return 0, nil, &domain.NetworkError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
	if err != nil {
		return 0, nil, &domain.NetworkError{Op: method, URL: target, Err: err}
	}

	c.logger.Debug("market: response",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, respBody, nil
}

var numericSegment = regexp.MustCompile(`/\d+`)

// endpointLabel collapses item IDs so metric labels stay bounded.
func endpointLabel(endpoint string) string {
	return numericSegment.ReplaceAllString(endpoint, "/{id}")
}

func errorKind(err error) string {
	var (
		netErr  *domain.NetworkError
		authErr *domain.AuthError
		cbErr   *domain.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &cbErr):
		return observability.ErrKindCircuit
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return observability.ErrKindTimeout
		}
		return observability.ErrKindNetwork
	case errors.As(err, &authErr):
		return observability.ErrKindAuth
	}
	return observability.ErrKindAPI
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
