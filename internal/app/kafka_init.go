package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
	"github.com/vladislavdragonenkov/crm/internal/service/outbox"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startOutboxWorker запускает публикацию событий изменений из outbox.
// Возвращает cancel и канал, закрывающийся после остановки воркера.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	producer *kafka.Producer,
	outboxMetrics *metrics.OutboxMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	worker := outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic)),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	logger.WithFields(log.Fields{
		"topic":     cfg.KafkaTopic,
		"dlq_topic": cfg.KafkaDLQTopic,
	}).Info("outbox worker started")
	return cancel, done
}

// startOutboxCleanup запускает удаление обработанных сообщений outbox старше retention.
// Работает и без producer: отклонённые сообщения тоже нужно чистить.
func startOutboxCleanup(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	outboxMetrics *metrics.OutboxMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	worker := outbox.NewCleanupWorker(
		repo,
		outbox.WithCleanupLogger(logger.WithField("component", "outbox-cleanup-worker")),
		outbox.WithCleanupMetrics(outboxMetrics),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		outbox.WithRetention(cfg.OutboxRetention),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	logger.WithFields(log.Fields{
		"retention": cfg.OutboxRetention,
		"interval":  cfg.OutboxCleanupInterval,
	}).Info("outbox cleanup worker started")
	return cancel, done
}

// backgroundWorker — запущенная горутина воркера и способ её остановить.
type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   <-chan struct{}
}

// shutdownWorkers останавливает воркеры и ждёт завершения их текущих циклов.
func shutdownWorkers(workers []backgroundWorker, logger *log.Entry) {
	for _, w := range workers {
		if w.cancel == nil {
			continue
		}
		w.cancel()
		if w.done == nil {
			continue
		}
		<-w.done
		logger.WithField("worker", w.name).Info("worker stopped")
	}
}
