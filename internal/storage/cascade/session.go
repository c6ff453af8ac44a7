// Package cascade содержит общую для хранилищ логику каскадного сохранения:
// выдачу идентификаторов в рамках транзакции, разрешение ссылок на друзей
// и вычисление заказов-сирот.
package cascade

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

var errNilCustomer = errors.New("customer is nil")

// Session живёт одну операцию записи. Выданные идентификаторы переносятся
// на сущности только в Commit, поэтому откат транзакции не оставляет
// у вызывающего «висячих» id.
type Session struct {
	customers map[*domain.Customer]int64
	orders    map[*domain.Order]int64
	owners    map[*domain.Order]*domain.Customer
	changes   []domain.Change
	now       time.Time
}

// NewSession начинает новую операцию записи.
func NewSession() *Session {
	return &Session{
		customers: make(map[*domain.Customer]int64),
		orders:    make(map[*domain.Order]int64),
		owners:    make(map[*domain.Order]*domain.Customer),
		now:       time.Now().UTC(),
	}
}

// CustomerID возвращает сохранённый или выданный в этой сессии id; 0 — нет id.
func (s *Session) CustomerID(c *domain.Customer) int64 {
	if c == nil {
		return 0
	}
	if c.IsPersisted() {
		return c.ID()
	}
	return s.customers[c]
}

// OrderID возвращает сохранённый или выданный в этой сессии id; 0 — нет id.
func (s *Session) OrderID(o *domain.Order) int64 {
	if o == nil {
		return 0
	}
	if o.IsPersisted() {
		return o.ID()
	}
	return s.orders[o]
}

// AssignCustomer запоминает id, выданный новому клиенту.
func (s *Session) AssignCustomer(c *domain.Customer, id int64) {
	if !c.IsPersisted() {
		s.customers[c] = id
	}
}

// AssignOrder запоминает id, выданный новому заказу.
func (s *Session) AssignOrder(o *domain.Order, id int64) {
	if !o.IsPersisted() {
		s.orders[o] = id
	}
}

// Validate проверяет клиента до первых изменений в хранилище и запоминает,
// что его заказы переходят к нему. Владелец меняется только в Commit.
func (s *Session) Validate(c *domain.Customer) ([]*domain.Order, error) {
	if c == nil {
		return nil, domain.NewConstraintError("customer", "", errNilCustomer)
	}
	orders, err := c.CascadeOrders()
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		s.owners[o] = c
	}
	return orders, nil
}

// FriendIDs разрешает друзей клиента в идентификаторы без повторов.
// Вызывается после того, как клиенту выдан id, чтобы работала ссылка на себя.
func (s *Session) FriendIDs(c *domain.Customer) ([]int64, error) {
	friends := c.Friends()
	ids := make([]int64, 0, len(friends))
	seen := make(map[int64]struct{}, len(friends))
	for _, f := range friends {
		id := s.CustomerID(f)
		if id == 0 {
			return nil, domain.NewConstraintError("customer", "friends", domain.ErrTransientReference)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Record добавляет изменение для наблюдателей.
func (s *Session) Record(kind domain.ChangeKind, customerID, orderID int64, amount decimal.Decimal) {
	s.changes = append(s.changes, domain.Change{
		Kind:       kind,
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     amount,
		At:         s.now,
	})
}

// Changes возвращает накопленные изменения.
func (s *Session) Changes() []domain.Change {
	return s.changes
}

// Commit переносит выданные идентификаторы и владельцев заказов на сущности.
func (s *Session) Commit() error {
	for o, c := range s.owners {
		c.Adopt(o)
	}
	for c, id := range s.customers {
		if err := c.AssignID(id); err != nil {
			return err
		}
	}
	for o, id := range s.orders {
		if err := o.AssignID(id); err != nil {
			return err
		}
	}
	return nil
}

// Orphans возвращает отсортированные id из previous, которых нет в kept.
func Orphans(previous, kept []int64) []int64 {
	keep := make(map[int64]struct{}, len(kept))
	for _, id := range kept {
		keep[id] = struct{}{}
	}
	out := make([]int64, 0)
	for _, id := range previous {
		if _, ok := keep[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
