package app

import "time"

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SQLitePath          string

	// KafkaBrokers — список через запятую; пустое значение отключает outbox и публикацию.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, после которого /healthz отвечает degraded; 0 отключает проверку.
	OutboxMaxPending int
	// OutboxRetention — сколько хранятся отправленные и отклонённые сообщения.
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	LogLevel string
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		SQLitePath:            "crm.db",
		KafkaTopic:            "crm.customer.events",
		KafkaDLQTopic:         "crm.dlq",
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		OutboxMaxPending:      1000,
		OutboxRetention:       24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		LogLevel:              "info",
	}
}

// OutboxEnabled сообщает, нужно ли писать изменения в outbox.
func (c Config) OutboxEnabled() bool {
	return c.KafkaBrokers != ""
}
