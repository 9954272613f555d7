package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/observability"
	"github.com/accmarket/market-bfa-go/internal/port"
)

// PaymentRelay verifies virtual-account payment callbacks and forwards them
// downstream at most once per external ID within the dedupe window.
type PaymentRelay struct {
	secret    []byte
	forwarder port.PaymentForwarder
	// seen maps external ID to delivered. false marks a delivery in flight.
	seen    port.Cache[bool]
	metrics *observability.Metrics
	logger  *zap.Logger
	newID   func() string
}

// NewPaymentRelay creates the relay. forwarder may be nil, in which case
// verified callbacks are acknowledged and only logged.
func NewPaymentRelay(
	secret string,
	forwarder port.PaymentForwarder,
	seen port.Cache[bool],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PaymentRelay {
	return &PaymentRelay{
		secret:    []byte(secret),
		forwarder: forwarder,
		seen:      seen,
		metrics:   metrics,
		logger:    logger.Named("payment_relay"),
		newID:     uuid.NewString,
	}
}

// Handle verifies one callback and forwards it. Errors are typed so the
// handler can map them to SNAP response codes.
func (p *PaymentRelay) Handle(ctx context.Context, cb *domain.PaymentCallback) (*domain.PaymentAck, error) {
	ctx, span := tracer.Start(ctx, "PaymentRelay.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("payment.external_id", cb.ExternalID()))

	if len(p.secret) == 0 {
		return nil, &domain.ConfigError{Field: "WINPAY_CALLBACK_SECRET"}
	}

	for _, h := range domain.PaymentHeaders {
		if strings.TrimSpace(cb.Headers[h]) == "" {
			p.metrics.IncrRelay("rejected")
			return nil, &domain.ErrValidation{Field: h, Message: "header is required"}
		}
	}

	expected, err := Sign(p.secret, http.MethodPost, cb.Path, cb.Body, cb.Headers[domain.HeaderTimestamp])
	if err != nil {
		p.metrics.IncrRelay("rejected")
		return nil, &domain.ErrValidation{Field: "body", Message: "must be valid JSON"}
	}
	if !hmac.Equal([]byte(expected), []byte(cb.Headers[domain.HeaderSignature])) {
		p.metrics.IncrRelay("rejected")
		p.logger.Warn("invalid callback signature",
			zap.String("external_id", cb.ExternalID()),
			zap.String("partner_id", cb.Headers[domain.HeaderPartnerID]),
		)
		return nil, &domain.ErrUnauthorized{Message: "invalid signature"}
	}

	// A copy arriving while the first is still being forwarded is not acked
	// as successful: that forward may yet fail and release the key.
	extID := cb.ExternalID()
	if !p.seen.SetIfAbsent(ctx, extID, false) {
		if delivered, ok := p.seen.Get(ctx, extID); !ok || !delivered {
			p.metrics.IncrRelay("in_flight")
			p.logger.Info("callback already in flight", zap.String("external_id", extID))
			return nil, &domain.ErrInFlight{Key: extID}
		}
		p.metrics.IncrRelay("duplicate")
		p.logger.Info("duplicate callback acknowledged", zap.String("external_id", extID))
		return &domain.PaymentAck{
			ResponseCode:    domain.AckSuccess,
			ResponseMessage: "Successful",
		}, nil
	}

	deliveryID := p.newID()
	if p.forwarder == nil {
		p.logger.Warn("no forward URL configured; callback acknowledged without delivery",
			zap.String("external_id", extID),
			zap.String("delivery_id", deliveryID),
		)
	} else if err := p.forwarder.Forward(ctx, cb, deliveryID); err != nil {
		// Let the gateway's redelivery go through.
		p.seen.Delete(ctx, extID)
		p.metrics.IncrRelay("failed")
		p.logger.Error("callback forwarding failed",
			zap.String("external_id", extID),
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return nil, err
	}

	p.seen.Set(ctx, extID, true)
	p.metrics.IncrRelay("forwarded")
	p.logger.Info("callback forwarded",
		zap.String("external_id", extID),
		zap.String("delivery_id", deliveryID),
	)
	return &domain.PaymentAck{
		ResponseCode:    domain.AckSuccess,
		ResponseMessage: "Successful",
		DeliveryID:      deliveryID,
	}, nil
}

// Sign computes the callback signature:
// base64(HMAC-SHA512(secret, METHOD:path:hex(sha256(compact(body))):timestamp)).
func Sign(secret []byte, method, path string, body []byte, timestamp string) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", fmt.Errorf("compact body: %w", err)
	}
	digest := sha256.Sum256(compact.Bytes())

	payload := strings.Join([]string{
		strings.ToUpper(method),
		path,
		strings.ToLower(hex.EncodeToString(digest[:])),
		timestamp,
	}, ":")

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
