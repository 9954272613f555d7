// Package client holds outbound HTTP clients for services other than the
// marketplace itself.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/resilience"
)

var tracer = otel.Tracer("client")

// HeaderDeliveryID carries the relay's per-delivery identifier downstream.
const HeaderDeliveryID = "X-Relay-Delivery-ID"

// CallbackForwarder posts verified payment callbacks to the downstream
// order service.
type CallbackForwarder struct {
	httpClient *http.Client
	targetURL  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewCallbackForwarder creates a new CallbackForwarder.
func NewCallbackForwarder(httpClient *http.Client, targetURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *CallbackForwarder {
	return &CallbackForwarder{
		httpClient: httpClient,
		targetURL:  targetURL,
		cb:         cb,
		cfg:        cfg,
		logger:     logger.Named("forwarder"),
	}
}

// Forward delivers the callback body and its allow-listed headers with
// retry, circuit breaker, and tracing. A 4xx answer is not retried.
func (f *CallbackForwarder) Forward(ctx context.Context, cb *domain.PaymentCallback, deliveryID string) error {
	ctx, span := tracer.Start(ctx, "CallbackForwarder.Forward")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.external_id", cb.ExternalID()),
		attribute.String("relay.delivery_id", deliveryID),
	)

	_, err := f.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, f.cfg, func() error {
			return f.post(ctx, cb, deliveryID)
		})
	})
	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return &domain.ErrCircuitOpen{Service: "relay-forward"}
		}
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "relay-forward", Err: err}
	}
	return nil
}

func (f *CallbackForwarder) post(ctx context.Context, cb *domain.PaymentCallback, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.targetURL, bytes.NewReader(cb.Body))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range domain.PaymentHeaders {
		if v := cb.Headers[h]; v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set(HeaderDeliveryID, deliveryID)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: http.MethodPost, URL: f.targetURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		f.logger.Debug("callback delivered",
			zap.String("delivery_id", deliveryID),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	// The status decides the outcome; a broken error body only loses detail.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		f.logger.Warn("reading forward target error body",
			zap.String("delivery_id", deliveryID),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resilience.Permanent(&domain.APIError{Status: resp.StatusCode, Body: string(body)})
	default:
		f.logger.Warn("forward target returned non-2xx",
			zap.String("delivery_id", deliveryID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("forward target returned status %d", resp.StatusCode)
	}
}
