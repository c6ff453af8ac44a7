package sqlstore

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const customerColumns = `SELECT id, first_name, last_name FROM customers`

// maxInArgs ограничивает число параметров в одном IN (...): у SQLite и
// PostgreSQL есть предел на количество bind-переменных в запросе.
const maxInArgs = 500

type customerRow struct {
	id        int64
	firstName string
	lastName  string
}

// loadCustomers выбирает клиентов по условию и собирает их с заказами и друзьями.
func loadCustomers(ctx context.Context, c conn, where string, args ...any) ([]*domain.Customer, error) {
	query := customerColumns
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, c.fail("select customers", err)
	}
	var found []customerRow
	for rows.Next() {
		var r customerRow
		if err := rows.Scan(&r.id, &r.firstName, &r.lastName); err != nil {
			rows.Close()
			return nil, c.fail("scan customer", err)
		}
		found = append(found, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, c.fail("iterate customers", err)
	}

	out := make([]*domain.Customer, 0, len(found))
	if len(found) == 0 {
		return out, nil
	}

	byID := make(map[int64]*domain.Customer, len(found))
	ids := make([]int64, 0, len(found))
	for _, r := range found {
		customer := domain.RestoreCustomer(r.id, r.firstName, r.lastName)
		byID[r.id] = customer
		ids = append(ids, r.id)
		out = append(out, customer)
	}

	for _, batch := range chunkIDs(ids, maxInArgs) {
		if err := attachOrders(ctx, c, batch, byID); err != nil {
			return nil, err
		}
		if err := attachFriends(ctx, c, batch, byID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// chunkIDs режет ids на части не длиннее size, сохраняя порядок.
func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 || len(ids) <= size {
		return [][]int64{ids}
	}
	out := make([][]int64, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	return append(out, ids)
}

func attachOrders(ctx context.Context, c conn, ids []int64, byID map[int64]*domain.Customer) error {
	rows, err := c.query(ctx,
		`SELECT id, customer_id, amount FROM orders WHERE customer_id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		int64Args(ids)...,
	)
	if err != nil {
		return c.fail("select orders", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, customerID int64
			amount         decimal.Decimal
		)
		if err := rows.Scan(&id, &customerID, &amount); err != nil {
			return c.fail("scan order", err)
		}
		owner := byID[customerID]
		owner.AddOrder(domain.RestoreOrder(id, owner, amount))
	}
	if err := rows.Err(); err != nil {
		return c.fail("iterate orders", err)
	}
	return nil
}

func attachFriends(ctx context.Context, c conn, ids []int64, byID map[int64]*domain.Customer) error {
	rows, err := c.query(ctx, `
		SELECT cf.customer_id, f.id, f.first_name, f.last_name
		FROM customer_friends cf
		JOIN customers f ON f.id = cf.friend_id
		WHERE cf.customer_id IN (`+placeholders(len(ids))+`)
		ORDER BY cf.customer_id, f.id`,
		int64Args(ids)...,
	)
	if err != nil {
		return c.fail("select friends", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			customerID int64
			f          customerRow
		)
		if err := rows.Scan(&customerID, &f.id, &f.firstName, &f.lastName); err != nil {
			return c.fail("scan friend", err)
		}
		owner := byID[customerID]
		if f.id == customerID {
			owner.AddFriend(owner)
			continue
		}
		owner.AddFriend(domain.RestoreCustomer(f.id, f.firstName, f.lastName))
	}
	if err := rows.Err(); err != nil {
		return c.fail("iterate friends", err)
	}
	return nil
}

// loadOrders выбирает заказы с неполной ссылкой на клиента.
func loadOrders(ctx context.Context, c conn, where string, args ...any) ([]*domain.Order, error) {
	query := `
		SELECT o.id, o.amount, c.id, c.first_name, c.last_name
		FROM orders o
		JOIN customers c ON c.id = o.customer_id`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY o.id"

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, c.fail("select orders", err)
	}
	defer rows.Close()

	out := make([]*domain.Order, 0)
	for rows.Next() {
		var (
			id     int64
			amount decimal.Decimal
			owner  customerRow
		)
		if err := rows.Scan(&id, &amount, &owner.id, &owner.firstName, &owner.lastName); err != nil {
			return nil, c.fail("scan order", err)
		}
		customer := domain.RestoreCustomer(owner.id, owner.firstName, owner.lastName)
		out = append(out, domain.RestoreOrder(id, customer, amount))
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("iterate orders", err)
	}
	return out, nil
}

func count(ctx context.Context, c conn, table string) (int, error) {
	var n int
	if err := c.queryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, c.fail("count "+table, err)
	}
	return n, nil
}

func sortedKeys(m map[int64]decimal.Decimal) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
