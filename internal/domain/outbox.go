package domain

import (
	"context"
	"errors"
	"time"
)

// ErrOutboxMessageNotFound возвращается при попытке отметить неизвестное сообщение.
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// OutboxMessage — событие об изменении, записанное в той же транзакции,
// что и само изменение.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository выдаёт накопленные события на публикацию.
type OutboxRepository interface {
	// PullPending возвращает до limit сообщений со статусом pending, старые первыми.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// PurgeProcessed удаляет до limit отправленных или отклонённых сообщений,
	// обновлённых раньше before. Pending-сообщения не трогает.
	PurgeProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}
