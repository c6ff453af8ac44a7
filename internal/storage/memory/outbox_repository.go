package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	updatedAt  time.Time
}

// outboxLog — журнал сообщений в порядке записи. Защищён мьютексом Store.
type outboxLog struct {
	order   []string
	records map[string]*outboxRecord
}

func newOutboxLog() *outboxLog {
	return &outboxLog{records: make(map[string]*outboxRecord)}
}

func (l *outboxLog) append(msgs []domain.OutboxMessage) {
	for _, msg := range msgs {
		l.order = append(l.order, msg.ID)
		l.records[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			updatedAt: msg.CreatedAt,
		}
	}
}

// outboxRepositoryInMemory читает outbox, который наполняют операции Store.
type outboxRepositoryInMemory struct {
	store *Store
}

// NewOutboxRepository возвращает outbox-репозиторий поверх store.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: store}
}

func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.store.outbox.order {
		rec := r.store.outbox.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var stats domain.OutboxStats
	for _, id := range r.store.outbox.order {
		rec := r.store.outbox.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) markStatus(id, status string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.outbox.records[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

func (r *outboxRepositoryInMemory) PurgeProcessed(_ context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	journal := r.store.outbox
	kept := journal.order[:0]
	purged := 0
	for _, id := range journal.order {
		rec := journal.records[id]
		if purged < limit && rec.status != outboxStatusPending && rec.updatedAt.Before(before) {
			delete(journal.records, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	journal.order = kept
	return purged, nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
