package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicCustomerEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish отправляет сообщение, обёрнутое в ChangeEnvelope. Ключ — id клиента,
// поэтому события одного клиента попадают в одну партицию по порядку.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	envelope := ChangeEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt.UTC(),
		PublishedAt:   p.now().UTC(),
	}
	return p.producer.PublishEvent(p.topic, partitionKey(msg), envelope, map[string]string{
		HeaderEventID:   msg.ID,
		HeaderEventType: msg.EventType,
	})
}

// DeadLetterPublisher отправляет в DLQ сообщения, исчерпавшие retry.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
	source   string
	now      func() time.Time
}

// NewDeadLetterPublisher создаёт паблишер DLQ для сообщений из sourceTopic.
func NewDeadLetterPublisher(producer *Producer, topic, sourceTopic string) *DeadLetterPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	if sourceTopic == "" {
		sourceTopic = TopicCustomerEvents
	}
	return &DeadLetterPublisher{producer: producer, topic: topic, source: sourceTopic, now: time.Now}
}

// PublishDeadLetter отправляет сообщение в DLQ вместе с причиной отказа.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	letter := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		DLQPublishedAt: p.now().UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return p.producer.PublishEvent(p.topic, partitionKey(msg), letter, map[string]string{
		HeaderEventID:       msg.ID,
		HeaderOriginalTopic: p.source,
	})
}

func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
