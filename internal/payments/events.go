package payments

import (
	"time"

	"creditgate/pkg/kafka"
	"creditgate/pkg/logging"
)

// EventPublisher is the subset of the Kafka producer the engine needs.
type EventPublisher interface {
	PublishPaymentEvent(event *kafka.PaymentEvent) error
}

// Events emits payment lifecycle events best-effort. A nil publisher
// disables emission entirely; publish failures are logged and ignored so
// event delivery can never block reconciliation.
type Events struct {
	publisher EventPublisher
	logger    logging.Logger
}

// NewEvents creates an event emitter. publisher may be nil.
func NewEvents(publisher EventPublisher, logger logging.Logger) *Events {
	return &Events{publisher: publisher, logger: logger}
}

// Emit publishes one lifecycle event for the payment.
func (e *Events) Emit(eventType string, p *Payment, txID string) {
	if e == nil || e.publisher == nil {
		return
	}

	event := &kafka.PaymentEvent{
		EventType:      eventType,
		PaymentID:      p.ID,
		OwnerID:        p.OwnerID,
		Asset:          p.Asset,
		Status:         string(p.Status),
		ExpectedAmount: p.ExpectedAmount,
		ReceivedAmount: p.ReceivedAmount,
		Confirmations:  p.Confirmations,
		CreditsAmount:  p.CreditsAmount,
		TxID:           txID,
		Timestamp:      time.Now().UTC(),
	}

	if err := e.publisher.PublishPaymentEvent(event); err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"payment_id": p.ID,
			"event_type": eventType,
		}).Warn("Failed to publish payment event")
	}
}
