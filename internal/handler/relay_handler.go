package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentCallbackPath is where the gateway posts transfer-va payments.
const PaymentCallbackPath = "/api/winpay/v1.0/transfer-va/payment"

const maxCallbackBytes = 1 << 20

// ============================================================
// Payment callback relay
// POST /api/winpay/v1.0/transfer-va/payment
// ============================================================

func paymentCallbackHandler(relay *service.PaymentRelay, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST "+PaymentCallbackPath)
		defer span.End()

		if relay == nil {
			writeAckError(w, &domain.ConfigError{Field: "WINPAY_CALLBACK_SECRET"}, logger)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			writeAckError(w, &domain.ErrValidation{Field: "body", Message: "unreadable or too large"}, logger)
			return
		}

		// Only allow-listed headers travel past this point.
		headers := make(map[string]string, len(domain.PaymentHeaders))
		for _, h := range domain.PaymentHeaders {
			headers[h] = r.Header.Get(h)
		}
		cb := &domain.PaymentCallback{Path: r.URL.Path, Body: body, Headers: headers}
		span.SetAttributes(attribute.String("payment.external_id", cb.ExternalID()))

		ack, err := relay.Handle(ctx, cb)
		if err != nil {
			writeAckError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

// writeAckError answers the gateway in its own response-code format.
func writeAckError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var rateLimited *domain.ErrRateLimited
	var inFlight *domain.ErrInFlight

	switch {
	case errors.As(err, &validation):
		logger.Debug("relay: bad request", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, domain.PaymentAck{
			ResponseCode:    domain.AckBadRequest,
			ResponseMessage: "Invalid Mandatory Field " + validation.Field,
		})
	case errors.As(err, &unauthorized):
		writeJSON(w, http.StatusUnauthorized, domain.PaymentAck{
			ResponseCode:    domain.AckUnauthorized,
			ResponseMessage: "Unauthorized. " + unauthorized.Error(),
		})
	case errors.As(err, &inFlight):
		writeJSON(w, http.StatusConflict, domain.PaymentAck{
			ResponseCode:    domain.AckConflict,
			ResponseMessage: "Conflict",
		})
	case errors.As(err, &rateLimited):
		writeJSON(w, http.StatusTooManyRequests, domain.PaymentAck{
			ResponseCode:    domain.AckTooMany,
			ResponseMessage: "Too Many Requests",
		})
	default:
		logger.Error("relay: callback not delivered", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, domain.PaymentAck{
			ResponseCode:    domain.AckServerError,
			ResponseMessage: "General Error",
		})
	}
}

// relayHealthHandler is the gateway-facing liveness probe.
func relayHealthHandler(relay *service.PaymentRelay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"configured": relay != nil,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}
