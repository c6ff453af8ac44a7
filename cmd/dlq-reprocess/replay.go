package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/messaging/kafka"
)

type replayStats struct {
	processed int
	replayed  int
	filtered  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.filtered += other.filtered
	s.skipped += other.skipped
}

// replayMessage — восстановленное событие, готовое к публикации.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayPublisher) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// offsetWindow возвращает [start, end) для чтения партиции.
func offsetWindow(client offsetClient, cfg config, partition int32, limit int) (int64, int64, error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}
	return start, newest, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayPublisher,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, err := offsetWindow(client, cfg, partition, limit)
	if err != nil {
		return stats, err
	}
	if end <= start {
		return stats, nil
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case <-idle.C:
			return stats, nil
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(cfg.idleTimeout)

			if err := handleMessage(cfg, producer, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func handleMessage(cfg config, producer replayPublisher, msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.processed++
	entry := log.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	letter, err := kafka.ParseDeadLetter(msg)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}
	if !cfg.accepts(letter) {
		stats.filtered++
		return nil
	}

	replay, err := buildReplay(letter, msg, cfg.targetTopic, time.Now().UTC())
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip dlq message without replayable payload")
		return nil
	}

	if !cfg.execute {
		entry.WithFields(log.Fields{
			"target_topic":  replay.topic,
			"key":           replay.key,
			"event_type":    letter.EventType,
			"publish_error": letter.PublishError,
		}).Info("dlq replay candidate")
		stats.replayed++
		return nil
	}

	if err := producer.PublishRaw(replay.topic, replay.key, replay.value, replay.headers); err != nil {
		return fmt.Errorf("publish replay of %s: %w", letter.OutboxID, err)
	}
	stats.replayed++
	return nil
}

// buildReplay восстанавливает ChangeEnvelope из письма DLQ. Топик берётся
// из флага, затем из заголовка x-original-topic, затем топик событий по умолчанию.
func buildReplay(letter *kafka.DeadLetter, msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayMessage, error) {
	if len(letter.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("dead letter %s has no payload", letter.OutboxID)
	}

	var change struct {
		At time.Time `json:"at"`
	}
	if err := json.Unmarshal(letter.Payload, &change); err != nil {
		return replayMessage{}, fmt.Errorf("decode change payload: %w", err)
	}
	occurredAt := change.At
	if occurredAt.IsZero() {
		occurredAt = letter.DLQPublishedAt
	}

	encoded, err := json.Marshal(kafka.ChangeEnvelope{
		ID:            letter.OutboxID,
		AggregateType: letter.AggregateType,
		AggregateID:   letter.AggregateID,
		EventType:     letter.EventType,
		Payload:       letter.Payload,
		OccurredAt:    occurredAt.UTC(),
		PublishedAt:   now,
	})
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode change envelope: %w", err)
	}

	topic := targetTopic
	if topic == "" {
		topic = headerValue(msg, kafka.HeaderOriginalTopic)
	}
	if topic == "" {
		topic = kafka.TopicCustomerEvents
	}

	key := letter.AggregateID
	if key == "" {
		key = letter.OutboxID
	}

	retries, _ := strconv.Atoi(headerValue(msg, kafka.HeaderRetryCount))
	return replayMessage{
		topic: topic,
		key:   key,
		value: encoded,
		headers: map[string]string{
			kafka.HeaderEventID:    letter.OutboxID,
			kafka.HeaderEventType:  letter.EventType,
			kafka.HeaderRetryCount: strconv.Itoa(retries + 1),
		},
	}, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
