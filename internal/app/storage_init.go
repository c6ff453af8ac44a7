package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
	"github.com/vladislavdragonenkov/crm/internal/storage/postgres"
	"github.com/vladislavdragonenkov/crm/internal/storage/sqlite"
	"github.com/vladislavdragonenkov/crm/internal/storage/sqlstore"
)

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	customers  domain.CustomerRepository
	orders     domain.OrderRepository
	outboxRepo domain.OutboxRepository
	// storageChecker равен nil для in-memory хранилища.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище, выбранное в cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry, observer domain.ChangeObserver) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	switch driver {
	case "", StorageDriverMemory:
		opts := []memory.Option{memory.WithChangeObserver(observer)}
		if cfg.OutboxEnabled() {
			opts = append(opts, memory.WithOutbox())
		}
		store := memory.NewStore(opts...)
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			customers:  memory.NewCustomerRepository(store),
			orders:     memory.NewOrderRepository(store),
			outboxRepo: memory.NewOutboxRepository(store),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, dsn, sqlOptions(cfg, observer)...)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return &runtimeDependencies{
			customers:      store.Customers(),
			orders:         store.Orders(),
			outboxRepo:     store.Outbox(),
			storageChecker: healthcheck.NewPingChecker(StorageDriverPostgres, store),
			closeFn:        store.Close,
		}, nil

	case StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, sqlOptions(cfg, observer)...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite storage")
		return &runtimeDependencies{
			customers:      store.Customers(),
			orders:         store.Orders(),
			outboxRepo:     store.Outbox(),
			storageChecker: healthcheck.NewPingChecker(StorageDriverSQLite, store),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func sqlOptions(cfg Config, observer domain.ChangeObserver) []sqlstore.Option {
	opts := []sqlstore.Option{sqlstore.WithChangeObserver(observer)}
	if cfg.OutboxEnabled() {
		opts = append(opts, sqlstore.WithOutbox())
	}
	return opts
}
