package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// PaymentTransition is the audit event emitted on every applied payment
// status change.
type PaymentTransition struct {
	PaymentID  uuid.UUID `json:"paymentId"`
	IntentID   string    `json:"intentId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	Amount     int       `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher writes payment lifecycle events to Kafka. A Publisher built
// without a writer is a no-op, so the broker stays optional.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, transition PaymentTransition) error {
	if p.writer == nil {
		return nil
	}

	value, err := json.Marshal(transition)
	if err != nil {
		return err
	}

	// keyed by intent id so per-intent ordering is preserved
	msg := kafka.Message{
		Key:   []byte(transition.IntentID),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Published payment transition",
		"paymentId", transition.PaymentID, "toStatus", transition.ToStatus)
	return nil
}
