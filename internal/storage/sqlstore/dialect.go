// Package sqlstore реализует репозитории клиентов и заказов поверх database/sql.
// Различия между СУБД (плейсхолдеры, коды ошибок) вынесены в Dialect.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect описывает особенности конкретной СУБД.
type Dialect interface {
	// Name возвращает короткое имя СУБД для логов и ошибок.
	Name() string
	// Rebind переписывает плейсхолдеры `?` в синтаксис СУБД.
	Rebind(query string) string
	// TranslateError превращает нарушения ограничений в domain.ConstraintError,
	// остальные ошибки возвращает без изменений.
	TranslateError(err error) error
}

// RowLocker — необязательное расширение Dialect для СУБД с построчными
// блокировками. Без него запись полагается на сериализацию самой СУБД.
type RowLocker interface {
	// LockSuffix возвращает окончание SELECT, блокирующее выбранные строки.
	LockSuffix() string
}

// RebindDollar заменяет `?` на `$1`, `$2`, ... вне строковых литералов.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// placeholders возвращает "?, ?, ?" для n аргументов.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
