package domain

// ============================================================
// Payment callback relay
// ============================================================

// Headers the relay accepts from the payment gateway. Anything else is
// dropped before forwarding.
const (
	HeaderTimestamp  = "X-Timestamp"
	HeaderPartnerID  = "X-Partner-ID"
	HeaderSignature  = "X-Signature"
	HeaderExternalID = "X-External-ID"
	HeaderChannelID  = "Channel-ID"
)

// PaymentHeaders is the allow-list, in forwarding order.
var PaymentHeaders = []string{
	HeaderTimestamp,
	HeaderPartnerID,
	HeaderSignature,
	HeaderExternalID,
	HeaderChannelID,
}

// PaymentCallback is one inbound virtual-account payment notification.
type PaymentCallback struct {
	Path    string
	Body    []byte
	Headers map[string]string
}

// ExternalID is the gateway's idempotency key.
func (p *PaymentCallback) ExternalID() string {
	return p.Headers[HeaderExternalID]
}

// PaymentAck is the SNAP-style acknowledgement returned to the gateway.
type PaymentAck struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	DeliveryID      string `json:"deliveryId,omitempty"`
}

// Acknowledgement codes for the transfer-va payment service (service code 25).
const (
	AckSuccess      = "2002500"
	AckBadRequest   = "4002500"
	AckUnauthorized = "4012500"
	AckConflict     = "4092500"
	AckTooMany      = "4292500"
	AckServerError  = "5002500"
)
