package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
	"github.com/vladislavdragonenkov/crm/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestStartOutboxCleanup_PurgesProcessed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutboxRetention = time.Nanosecond
	cfg.OutboxCleanupInterval = 5 * time.Millisecond

	store := memory.NewStore(memory.WithOutbox())
	repo := memory.NewOutboxRepository(store)
	if _, err := memory.NewCustomerRepository(store).Save(context.Background(), domain.NewCustomer("ann", "lee")); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	pending, err := repo.PullPending(context.Background(), 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending message, got %d, %v", len(pending), err)
	}
	if err := repo.MarkSent(context.Background(), pending[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	logger := log.WithField("test", "outbox-cleanup")
	cancel, done := startOutboxCleanup(context.Background(), cfg,
		repo, metrics.NewOutboxMetricsWithRegisterer(prometheus.NewRegistry()), logger)
	defer shutdownWorkers([]backgroundWorker{{name: "outbox-cleanup", cancel: cancel, done: done}}, logger)

	deadline := time.Now().Add(time.Second)
	for {
		err := repo.MarkSent(context.Background(), pending[0].ID)
		if errors.Is(err, domain.ErrOutboxMessageNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent message was not purged, last mark result: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"), nil)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	if deps.customers == nil || deps.orders == nil || deps.outboxRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownHelpers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	shutdownWorkers([]backgroundWorker{
		{name: "outbox", cancel: func() { cancelCalled = true }, done: done},
		{name: "no-done", cancel: func() {}},
		{name: "not-started"},
	}, logger)
	if !cancelCalled {
		t.Fatal("expected outbox cancel func to be called")
	}

	shutdownWorkers(nil, logger)

	closeKafka(nil, logger)

	var deps *runtimeDependencies
	deps.close(logger)
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" broker1:9092, ,broker2:9092 ")
	if len(got) != 2 || got[0] != "broker1:9092" || got[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if splitBrokers("  ") != nil {
		t.Fatal("expected no brokers for blank value")
	}
}

func TestCloseKafkaProducer_NonNil(t *testing.T) {
	producer, err := kafka.NewProducer([]string{"localhost:9092"})
	if err != nil {
		t.Skipf("kafka is not available for integration test: %v", err)
	}
	closeKafka(producer, log.WithField("test", "kafka-close"))
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("CRM_POSTGRES_TEST_DSN"))
}
