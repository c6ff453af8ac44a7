package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"), nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.customers == nil || deps.orders == nil || deps.outboxRepo == nil {
		t.Fatalf("memory repositories must be initialized: %+v", deps)
	}
	if deps.storageChecker != nil {
		t.Fatal("memory storage does not need a checker")
	}
}

func TestInitRuntimeDependencies_MemoryOutboxFollowsKafka(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, brokers := range []string{"", "localhost:9092"} {
		deps, err := initRuntimeDependencies(ctx, Config{StorageDriver: StorageDriverMemory, KafkaBrokers: brokers}, nil, nil)
		if err != nil {
			t.Fatalf("init failed: %v", err)
		}
		if _, err := deps.customers.Save(ctx, domain.NewCustomer("Dave", "Matthews")); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		stats, err := deps.outboxRepo.Stats(ctx)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		want := 0
		if brokers != "" {
			want = 1
		}
		if stats.PendingCount != want {
			t.Fatalf("brokers=%q: expected %d pending, got %d", brokers, want, stats.PendingCount)
		}
	}
}

func TestInitRuntimeDependencies_SQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var observed []domain.Change
	observer := domain.ChangeObserverFunc(func(changes []domain.Change) {
		observed = append(observed, changes...)
	})

	deps, err := initRuntimeDependencies(ctx, Config{
		StorageDriver: StorageDriverSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "crm.db"),
	}, log.WithField("test", "sqlite-storage"), observer)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(sqlite) failed: %v", err)
	}
	defer deps.close(log.WithField("test", "sqlite-storage"))

	c := domain.NewCustomer("Dave", "Matthews")
	c.AddOrder(domain.NewOrder(decimal.RequireFromString("15.75")))
	if _, err := deps.customers.Save(ctx, c); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(observed) != 2 {
		t.Fatalf("expected 2 observed changes, got %d", len(observed))
	}

	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for sqlite")
	}
	if check := deps.storageChecker.Check(ctx); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"), nil)
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "mongodb",
	}, log.WithField("test", "unsupported-driver"), nil)
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
