package domain

import "fmt"

// Customer — корень агрегата: владеет своими заказами и хранит
// направленные ссылки на друзей.
type Customer struct {
	id        int64
	FirstName string
	LastName  string

	orders  []*Order
	friends []*Customer
}

// NewCustomer создаёт несохранённого клиента; идентификатор выдаётся хранилищем.
func NewCustomer(firstName, lastName string) *Customer {
	return &Customer{FirstName: firstName, LastName: lastName}
}

// RestoreCustomer восстанавливает сохранённого клиента без связей.
// Используется хранилищами при чтении.
func RestoreCustomer(id int64, firstName, lastName string) *Customer {
	return &Customer{id: id, FirstName: firstName, LastName: lastName}
}

// ID возвращает идентификатор; 0 означает, что клиент ещё не сохранён.
func (c *Customer) ID() int64 { return c.id }

// IsPersisted сообщает, выдан ли клиенту идентификатор.
func (c *Customer) IsPersisted() bool { return c.id != 0 }

// AssignID фиксирует идентификатор после первого сохранения.
func (c *Customer) AssignID(id int64) error {
	if c.id != 0 && c.id != id {
		return NewConstraintError("customer", "id", ErrIdentifierImmutable)
	}
	c.id = id
	return nil
}

// Orders возвращает копию множества заказов.
func (c *Customer) Orders() []*Order {
	out := make([]*Order, len(c.orders))
	copy(out, c.orders)
	return out
}

// Friends возвращает копию множества друзей.
func (c *Customer) Friends() []*Customer {
	out := make([]*Customer, len(c.friends))
	copy(out, c.friends)
	return out
}

// AddOrder привязывает заказ к клиенту с обеих сторон.
// Прежний владелец заказа (если был) не изменяется.
func (c *Customer) AddOrder(o *Order) {
	if o == nil {
		return
	}
	o.setCustomer(c)
	if c.orderIndex(o) >= 0 {
		return
	}
	c.orders = append(c.orders, o)
}

// RemoveOrder отвязывает заказ. При следующем сохранении клиента
// заказ будет удалён как сирота.
func (c *Customer) RemoveOrder(o *Order) bool {
	if o == nil {
		return false
	}
	o.setCustomer(nil)
	idx := c.orderIndex(o)
	if idx < 0 {
		return false
	}
	c.orders = append(c.orders[:idx], c.orders[idx+1:]...)
	return true
}

// ClearOrders отвязывает все заказы клиента.
func (c *Customer) ClearOrders() {
	for _, o := range c.orders {
		if o.customer == c {
			o.setCustomer(nil)
		}
	}
	c.orders = nil
}

// AddFriend добавляет направленную связь c → friend.
// Обратная связь не создаётся.
func (c *Customer) AddFriend(friend *Customer) {
	if friend == nil || c.HasFriend(friend) {
		return
	}
	c.friends = append(c.friends, friend)
}

// RemoveFriend удаляет связь c → friend.
func (c *Customer) RemoveFriend(friend *Customer) bool {
	if friend == nil {
		return false
	}
	for i, f := range c.friends {
		if sameCustomer(f, friend) {
			c.friends = append(c.friends[:i], c.friends[i+1:]...)
			return true
		}
	}
	return false
}

// HasFriend проверяет наличие связи c → friend.
func (c *Customer) HasFriend(friend *Customer) bool {
	for _, f := range c.friends {
		if sameCustomer(f, friend) {
			return true
		}
	}
	return false
}

// CascadeOrders проверяет заказы перед каскадным сохранением и возвращает
// их копию. Заказ без клиента нарушает ограничение NOT NULL. Владелец
// заказов не меняется: это делает Adopt после фиксации записи.
func (c *Customer) CascadeOrders() ([]*Order, error) {
	out := make([]*Order, 0, len(c.orders))
	for _, o := range c.orders {
		if o.customer == nil {
			return nil, NewConstraintError("order", "customer", ErrOrderCustomerRequired)
		}
		if o.amount == nil {
			return nil, NewConstraintError("order", "amount", ErrAmountRequired)
		}
		out = append(out, o)
	}
	return out, nil
}

// Adopt делает c владельцем заказа без изменения множеств заказов.
func (c *Customer) Adopt(o *Order) {
	if o != nil {
		o.setCustomer(c)
	}
}

func (c *Customer) String() string {
	return fmt.Sprintf("Customer[id=%d, firstName='%s', lastName='%s']", c.id, c.FirstName, c.LastName)
}

func (c *Customer) orderIndex(o *Order) int {
	for i, existing := range c.orders {
		if existing == o || (existing.id != 0 && existing.id == o.id) {
			return i
		}
	}
	return -1
}

// sameCustomer сравнивает по указателю, а для сохранённых — по идентификатору.
func sameCustomer(a, b *Customer) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.id != 0 && a.id == b.id
}
