package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

// Время в outbox_messages хранится в микросекундах Unix, чтобы схема
// одинаково читалась всеми диалектами.

func enqueueChanges(ctx context.Context, c conn, changes []domain.Change) error {
	msgs, err := cascade.OutboxMessages(changes)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		created := msg.CreatedAt.UTC().UnixMicro()
		if _, err := c.exec(ctx, `
			INSERT INTO outbox_messages (
				id, aggregate_type, aggregate_id, event_type, payload,
				status, attempt_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
			msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, created, created,
		); err != nil {
			return c.fail("enqueue outbox message", err)
		}
	}
	return nil
}

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт SQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, r.store.opTimeout)
	defer cancel()
	c := conn{r: r.store.db, d: r.store.dialect}

	rows, err := c.query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT ?`, limit)
	if err != nil {
		return nil, c.fail("pull pending outbox messages", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			created int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&created,
		); err != nil {
			return nil, c.fail("scan outbox message", err)
		}
		msg.CreatedAt = time.UnixMicro(created).UTC()
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("iterate outbox rows", err)
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.store.opTimeout)
	defer cancel()
	c := conn{r: r.store.db, d: r.store.dialect}

	var (
		stats  domain.OutboxStats
		oldest sql.NullInt64
	)
	if err := c.queryRow(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, c.fail("outbox stats query failed", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = time.UnixMicro(oldest.Int64).UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "sent")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "failed")
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, r.store.opTimeout)
	defer cancel()
	c := conn{r: r.store.db, d: r.store.dialect}

	res, err := c.exec(ctx, `
		UPDATE outbox_messages
		SET status = ?,
		    attempt_count = attempt_count + 1,
		    updated_at = ?
		WHERE id = ?`,
		status, time.Now().UTC().UnixMicro(), id,
	)
	if err != nil {
		return c.fail("mark outbox message as "+status, err)
	}
	return expectAffected(res, domain.ErrOutboxMessageNotFound)
}

func (r *outboxRepository) PurgeProcessed(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.store.opTimeout)
	defer cancel()
	c := conn{r: r.store.db, d: r.store.dialect}

	res, err := c.exec(ctx, `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status <> 'pending' AND updated_at < ?
			ORDER BY seq
			LIMIT ?
		)`,
		before.UTC().UnixMicro(), limit,
	)
	if err != nil {
		return 0, c.fail("purge processed outbox messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, c.fail("purge processed outbox messages", err)
	}
	return int(n), nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
