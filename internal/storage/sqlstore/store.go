package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

const defaultOpTimeout = 5 * time.Second

// Store объединяет подключение, диалект и общие настройки репозиториев.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	observer  domain.ChangeObserver
	outbox    bool
	opTimeout time.Duration
}

// Option настраивает Store.
type Option func(*Store)

// WithChangeObserver подключает наблюдателя за зафиксированными изменениями.
func WithChangeObserver(obs domain.ChangeObserver) Option {
	return func(s *Store) {
		s.observer = obs
	}
}

// WithOutbox включает запись изменений в outbox_messages в той же транзакции.
func WithOutbox() Option {
	return func(s *Store) {
		s.outbox = true
	}
}

// WithOpTimeout задаёт таймаут одной операции репозитория.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// New создаёт Store поверх уже открытого подключения.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:        db,
		dialect:   dialect,
		opTimeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect возвращает диалект хранилища.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// runner — общее подмножество *sql.DB и *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn выполняет запросы с плейсхолдерами `?` через диалект.
type conn struct {
	r runner
	d Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.r.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.r.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.r.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) lockSuffix() string {
	if l, ok := c.d.(RowLocker); ok {
		return l.LockSuffix()
	}
	return ""
}

// fail оборачивает ошибку СУБД, переводя нарушения ограничений в доменные.
func (c conn) fail(op string, err error) error {
	return fmt.Errorf("%s: %w", op, c.d.TranslateError(err))
}

// write выполняет fn в транзакции. Идентификаторы переносятся на сущности
// и наблюдатель уведомляется только после успешного коммита.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, c conn, sess *cascade.Session) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	c := conn{r: tx, d: s.dialect}
	sess := cascade.NewSession()
	if err = fn(ctx, c, sess); err != nil {
		return err
	}
	if s.outbox {
		if err = enqueueChanges(ctx, c, sess.Changes()); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return c.fail("commit tx", err)
	}

	if err = sess.Commit(); err != nil {
		return err
	}
	if s.observer != nil && len(sess.Changes()) > 0 {
		s.observer.ObserveChanges(sess.Changes())
	}
	return nil
}

// readTxOptions: все запросы чтения видят один снимок. В PostgreSQL это
// REPEATABLE READ, в SQLite любая транзакция уже изолирована снимком.
var readTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// read выполняет fn в транзакции только для чтения, чтобы клиент и его связи
// читались из одного снимка.
func (s *Store) read(ctx context.Context, fn func(ctx context.Context, c conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, readTxOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(ctx, conn{r: tx, d: s.dialect})
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}
