package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

func saveCustomer(ctx context.Context, c conn, sess *cascade.Session, customer *domain.Customer) error {
	orders, err := sess.Validate(customer)
	if err != nil {
		return err
	}

	id := sess.CustomerID(customer)
	if id == 0 {
		if err := c.queryRow(ctx,
			`INSERT INTO customers (first_name, last_name) VALUES (?, ?) RETURNING id`,
			customer.FirstName, customer.LastName,
		).Scan(&id); err != nil {
			return c.fail("insert customer", err)
		}
		sess.AssignCustomer(customer, id)
	} else {
		res, err := c.exec(ctx,
			`UPDATE customers SET first_name = ?, last_name = ? WHERE id = ?`,
			customer.FirstName, customer.LastName, id,
		)
		if err != nil {
			return c.fail("update customer", err)
		}
		if err := expectAffected(res, domain.CustomerNotFound(id)); err != nil {
			return err
		}
	}

	if err := replaceFriends(ctx, c, sess, customer, id); err != nil {
		return err
	}
	sess.Record(domain.ChangeCustomerSaved, id, 0, decimal.Zero)

	kept := make([]int64, 0, len(orders))
	for _, o := range orders {
		oid, err := upsertOrder(ctx, c, sess, o, id)
		if err != nil {
			return err
		}
		kept = append(kept, oid)
	}

	current, err := orderAmountsOf(ctx, c, id)
	if err != nil {
		return err
	}
	previous := make([]int64, 0, len(current))
	for oid := range current {
		previous = append(previous, oid)
	}
	for _, oid := range cascade.Orphans(previous, kept) {
		if _, err := c.exec(ctx, `DELETE FROM orders WHERE id = ?`, oid); err != nil {
			return c.fail("delete orphan order", err)
		}
		sess.Record(domain.ChangeOrderOrphanRemoved, id, oid, current[oid])
	}
	return nil
}

func replaceFriends(ctx context.Context, c conn, sess *cascade.Session, customer *domain.Customer, id int64) error {
	friendIDs, err := sess.FriendIDs(customer)
	if err != nil {
		return err
	}
	for _, fid := range friendIDs {
		if fid == id {
			continue
		}
		ok, err := customerExists(ctx, c, fid)
		if err != nil {
			return err
		}
		if !ok {
			return domain.CustomerNotFound(fid)
		}
	}

	if _, err := c.exec(ctx, `DELETE FROM customer_friends WHERE customer_id = ?`, id); err != nil {
		return c.fail("clear friends", err)
	}
	for _, fid := range friendIDs {
		if _, err := c.exec(ctx,
			`INSERT INTO customer_friends (customer_id, friend_id) VALUES (?, ?)`, id, fid,
		); err != nil {
			return c.fail("insert friend", err)
		}
	}
	return nil
}

func upsertOrder(ctx context.Context, c conn, sess *cascade.Session, o *domain.Order, customerID int64) (int64, error) {
	oid := sess.OrderID(o)
	if oid == 0 {
		if err := c.queryRow(ctx,
			`INSERT INTO orders (customer_id, amount) VALUES (?, ?) RETURNING id`,
			customerID, o.Amount(),
		).Scan(&oid); err != nil {
			return 0, c.fail("insert order", err)
		}
		sess.AssignOrder(o, oid)
	} else {
		res, err := c.exec(ctx,
			`UPDATE orders SET customer_id = ?, amount = ? WHERE id = ?`,
			customerID, o.Amount(), oid,
		)
		if err != nil {
			return 0, c.fail("update order", err)
		}
		if err := expectAffected(res, domain.OrderNotFound(oid)); err != nil {
			return 0, err
		}
	}
	sess.Record(domain.ChangeOrderSaved, customerID, oid, o.Amount())
	return oid, nil
}

func deleteCustomer(ctx context.Context, c conn, sess *cascade.Session, customer *domain.Customer) error {
	if customer == nil {
		return domain.CustomerNotFound(0)
	}
	id := customer.ID()
	ok, err := customerExists(ctx, c, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.CustomerNotFound(id)
	}

	amounts, err := orderAmountsOf(ctx, c, id)
	if err != nil {
		return err
	}
	if _, err := c.exec(ctx, `DELETE FROM orders WHERE customer_id = ?`, id); err != nil {
		return c.fail("delete customer orders", err)
	}
	for _, oid := range sortedKeys(amounts) {
		sess.Record(domain.ChangeOrderCascadeDeleted, id, oid, amounts[oid])
	}

	if _, err := c.exec(ctx,
		`DELETE FROM customer_friends WHERE customer_id = ? OR friend_id = ?`, id, id,
	); err != nil {
		return c.fail("delete friend links", err)
	}
	if _, err := c.exec(ctx, `DELETE FROM customers WHERE id = ?`, id); err != nil {
		return c.fail("delete customer", err)
	}
	sess.Record(domain.ChangeCustomerDeleted, id, 0, decimal.Zero)
	return nil
}

func saveOrder(ctx context.Context, c conn, sess *cascade.Session, o *domain.Order) error {
	if o == nil || o.Customer() == nil {
		return domain.NewConstraintError("order", "customer", domain.ErrOrderCustomerRequired)
	}
	if !o.HasAmount() {
		return domain.NewConstraintError("order", "amount", domain.ErrAmountRequired)
	}
	cid := o.Customer().ID()
	if cid == 0 {
		return domain.NewConstraintError("order", "customer", domain.ErrTransientReference)
	}
	// Строка владельца блокируется: параллельный Update не должен удалить заказ как сироту.
	if err := lockCustomer(ctx, c, cid); err != nil {
		return err
	}
	_, err := upsertOrder(ctx, c, sess, o, cid)
	return err
}

// lockCustomer проверяет, что клиент существует, и там, где СУБД это
// поддерживает, блокирует его строку до конца транзакции.
func lockCustomer(ctx context.Context, c conn, id int64) error {
	var one int
	err := c.queryRow(ctx, `SELECT 1 FROM customers WHERE id = ?`+c.lockSuffix(), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CustomerNotFound(id)
	}
	if err != nil {
		return c.fail("lock customer", err)
	}
	return nil
}

func customerExists(ctx context.Context, c conn, id int64) (bool, error) {
	var one int
	err := c.queryRow(ctx, `SELECT 1 FROM customers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, c.fail("select customer", err)
	}
	return true, nil
}

// orderAmountsOf возвращает суммы заказов клиента по их id.
func orderAmountsOf(ctx context.Context, c conn, customerID int64) (map[int64]decimal.Decimal, error) {
	rows, err := c.query(ctx, `SELECT id, amount FROM orders WHERE customer_id = ?`, customerID)
	if err != nil {
		return nil, c.fail("select customer orders", err)
	}
	defer rows.Close()

	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			id     int64
			amount decimal.Decimal
		)
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, c.fail("scan order", err)
		}
		out[id] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("iterate orders", err)
	}
	return out, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
