package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
	"github.com/vladislavdragonenkov/crm/internal/httpapi"
	"github.com/vladislavdragonenkov/crm/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
	"github.com/vladislavdragonenkov/crm/internal/service/customer"
	"github.com/vladislavdragonenkov/crm/internal/version"
)

const outboxMaxPendingAge = 5 * time.Minute

// Run поднимает хранилище, REST API, сервер метрик и, если задан Kafka, outbox worker.
// Блокируется до отмены ctx или падения API-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	storeMetrics := metrics.NewStoreMetrics()
	deps, err := initRuntimeDependencies(ctx, cfg, logger, storeMetrics)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	svc := customer.NewService(deps.customers, deps.orders, storeMetrics, logger.WithField("layer", "service"))
	router := httpapi.NewRouter(svc, logger.WithField("layer", "http"), metrics.NewHTTPMetrics())

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}

	var (
		kafkaProducer *kafka.Producer
		workers       []backgroundWorker
	)
	if cfg.OutboxEnabled() {
		outboxMetrics := metrics.NewOutboxMetrics()
		// Без producer события остаются pending в outbox до следующего запуска.
		kafkaProducer, _ = initKafkaProducer(cfg.KafkaBrokers, logger)
		if kafkaProducer != nil {
			cancel, done := startOutboxWorker(ctx, cfg, deps.outboxRepo, kafkaProducer, outboxMetrics, logger)
			workers = append(workers, backgroundWorker{name: "outbox", cancel: cancel, done: done})
		}
		cancel, done := startOutboxCleanup(ctx, cfg, deps.outboxRepo, outboxMetrics, logger)
		workers = append(workers, backgroundWorker{name: "outbox-cleanup", cancel: cancel, done: done})
		if cfg.OutboxMaxPending > 0 {
			healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, outboxMaxPendingAge, cfg.OutboxMaxPending))
		}
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv, errCh, err := startAPIServer(cfg.HTTPAddr, router, logger)
	if err != nil {
		shutdownWorkers(workers, logger)
		closeKafka(kafkaProducer, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем REST API")
		shutdownHTTP(apiSrv, logger)
		shutdownWorkers(workers, logger)
		closeKafka(kafkaProducer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownWorkers(workers, logger)
		closeKafka(kafkaProducer, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
