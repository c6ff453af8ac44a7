package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicCustomerEvents  = "crm.customer.events"
	TopicDeadLetterQueue = "crm.dlq" // Dead Letter Queue для сообщений, исчерпавших retry
)

// Kafka headers
const (
	HeaderEventID       = "x-event-id"
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
)

// ChangeEnvelope — сообщение об изменении клиента или заказа в топике событий.
type ChangeEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — сообщение, которое не удалось опубликовать в основной топик.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// ParseChangeEnvelope разбирает сообщение из топика событий.
func ParseChangeEnvelope(message *sarama.ConsumerMessage) (*ChangeEnvelope, error) {
	var envelope ChangeEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change envelope: %w", err)
	}
	return &envelope, nil
}

// ParseDeadLetter разбирает сообщение из DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.OutboxID == "" {
		return nil, fmt.Errorf("dead letter without outbox_id")
	}
	return &letter, nil
}
