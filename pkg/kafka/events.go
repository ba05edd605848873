package kafka

import "time"

// Payment lifecycle event types.
const (
	EventPaymentCreated   = "payment.created"
	EventPaymentDetected  = "payment.detected"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentForwarded = "payment.forwarded"
	EventPaymentExpired   = "payment.expired"
	EventPaymentFailed    = "payment.failed"
)

// PaymentEvent is the wire format for payment lifecycle events.
type PaymentEvent struct {
	EventType      string    `json:"event_type"`
	PaymentID      string    `json:"payment_id"`
	OwnerID        string    `json:"owner_id"`
	Asset          string    `json:"asset"`
	Status         string    `json:"status"`
	ExpectedAmount int64     `json:"expected_amount"`
	ReceivedAmount int64     `json:"received_amount"`
	Confirmations  int64     `json:"confirmations"`
	CreditsAmount  int64     `json:"credits_amount,omitempty"`
	TxID           string    `json:"tx_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
