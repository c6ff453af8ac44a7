package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/sqlstore"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
)

// Dialect — особенности PostgreSQL для sqlstore.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

// LockSuffix блокирует строку клиента на время транзакции записи.
func (Dialect) LockSuffix() string { return " FOR UPDATE" }

func (Dialect) TranslateError(err error) error {
	pgErr, ok := constraintViolation(err)
	if !ok {
		return err
	}
	field := pgErr.ColumnName
	if field == "" {
		field = pgErr.ConstraintName
	}
	return &domain.ConstraintError{Entity: pgErr.TableName, Field: field, Err: err}
}

func constraintViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgForeignKeyViolation, pgNotNullViolation, pgCheckViolation:
		return pgErr, true
	default:
		return nil, false
	}
}

var (
	_ sqlstore.Dialect   = Dialect{}
	_ sqlstore.RowLocker = Dialect{}
)
