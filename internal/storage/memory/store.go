package memory

import (
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

type customerRecord struct {
	id        int64
	firstName string
	lastName  string
	friendIDs []int64
}

type orderRecord struct {
	id         int64
	customerID int64
	amount     decimal.Decimal
}

// tables — состояние хранилища. Записи хранятся по значению, слайсы
// friendIDs только заменяются, поэтому поверхностной копии достаточно.
type tables struct {
	nextCustomerID int64
	nextOrderID    int64
	customers      map[int64]customerRecord
	orders         map[int64]orderRecord
}

func (t tables) clone() tables {
	return tables{
		nextCustomerID: t.nextCustomerID,
		nextOrderID:    t.nextOrderID,
		customers:      maps.Clone(t.customers),
		orders:         maps.Clone(t.orders),
	}
}

// Store — in-memory хранилище клиентов и заказов для локальной разработки и тестов.
// Каждая запись выполняется над копией таблиц под одной блокировкой и
// подменяет состояние только целиком.
type Store struct {
	mu       sync.RWMutex
	data     tables
	observer domain.ChangeObserver

	outboxEnabled bool
	outbox        *outboxLog
}

// Option настраивает Store.
type Option func(*Store)

// WithChangeObserver подключает наблюдателя за зафиксированными изменениями.
func WithChangeObserver(obs domain.ChangeObserver) Option {
	return func(s *Store) {
		s.observer = obs
	}
}

// WithOutbox включает запись изменений в outbox вместе с каждой операцией.
func WithOutbox() Option {
	return func(s *Store) {
		s.outboxEnabled = true
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: tables{
			customers: make(map[int64]customerRecord),
			orders:    make(map[int64]orderRecord),
		},
		outbox: newOutboxLog(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// write выполняет fn атомарно: при ошибке состояние и сущности вызывающего не меняются.
func (s *Store) write(fn func(t *tables, sess *cascade.Session) error) error {
	sess := cascade.NewSession()

	s.mu.Lock()
	draft := s.data.clone()
	if err := fn(&draft, sess); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.outboxEnabled {
		msgs, err := cascade.OutboxMessages(sess.Changes())
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.outbox.append(msgs)
	}
	s.data = draft
	s.mu.Unlock()

	if err := sess.Commit(); err != nil {
		return err
	}
	if s.observer != nil && len(sess.Changes()) > 0 {
		s.observer.ObserveChanges(sess.Changes())
	}
	return nil
}

func (s *Store) read(fn func(t *tables)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.data)
}

func (t *tables) saveCustomer(sess *cascade.Session, c *domain.Customer) error {
	orders, err := sess.Validate(c)
	if err != nil {
		return err
	}

	id := sess.CustomerID(c)
	var rec customerRecord
	if id == 0 {
		t.nextCustomerID++
		id = t.nextCustomerID
		sess.AssignCustomer(c, id)
		rec = customerRecord{id: id}
	} else {
		existing, ok := t.customers[id]
		if !ok {
			return domain.CustomerNotFound(id)
		}
		rec = existing
	}

	friendIDs, err := sess.FriendIDs(c)
	if err != nil {
		return err
	}
	for _, fid := range friendIDs {
		if fid == id {
			continue
		}
		if _, ok := t.customers[fid]; !ok {
			return domain.CustomerNotFound(fid)
		}
	}

	rec.firstName = c.FirstName
	rec.lastName = c.LastName
	rec.friendIDs = friendIDs
	t.customers[id] = rec
	sess.Record(domain.ChangeCustomerSaved, id, 0, decimal.Zero)

	kept := make([]int64, 0, len(orders))
	for _, o := range orders {
		oid := sess.OrderID(o)
		if oid == 0 {
			t.nextOrderID++
			oid = t.nextOrderID
			sess.AssignOrder(o, oid)
		} else if _, ok := t.orders[oid]; !ok {
			return domain.OrderNotFound(oid)
		}
		t.orders[oid] = orderRecord{id: oid, customerID: id, amount: o.Amount()}
		kept = append(kept, oid)
		sess.Record(domain.ChangeOrderSaved, id, oid, o.Amount())
	}

	for _, oid := range cascade.Orphans(t.orderIDsOf(id), kept) {
		removed := t.orders[oid]
		delete(t.orders, oid)
		sess.Record(domain.ChangeOrderOrphanRemoved, id, oid, removed.amount)
	}
	return nil
}

func (t *tables) deleteCustomer(sess *cascade.Session, c *domain.Customer) error {
	if c == nil {
		return domain.CustomerNotFound(0)
	}
	id := c.ID()
	if _, ok := t.customers[id]; !ok {
		return domain.CustomerNotFound(id)
	}

	for _, oid := range t.orderIDsOf(id) {
		removed := t.orders[oid]
		delete(t.orders, oid)
		sess.Record(domain.ChangeOrderCascadeDeleted, id, oid, removed.amount)
	}
	delete(t.customers, id)

	// Связи дружбы не каскадируются, но ссылки на удалённого клиента снимаются.
	for cid, rec := range t.customers {
		if !containsID(rec.friendIDs, id) {
			continue
		}
		rec.friendIDs = withoutID(rec.friendIDs, id)
		t.customers[cid] = rec
	}
	sess.Record(domain.ChangeCustomerDeleted, id, 0, decimal.Zero)
	return nil
}

func (t *tables) saveOrder(sess *cascade.Session, o *domain.Order) error {
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
	if _, ok := t.customers[cid]; !ok {
		return domain.CustomerNotFound(cid)
	}

	oid := sess.OrderID(o)
	if oid == 0 {
		t.nextOrderID++
		oid = t.nextOrderID
		sess.AssignOrder(o, oid)
	} else if _, ok := t.orders[oid]; !ok {
		return domain.OrderNotFound(oid)
	}
	t.orders[oid] = orderRecord{id: oid, customerID: cid, amount: o.Amount()}
	sess.Record(domain.ChangeOrderSaved, cid, oid, o.Amount())
	return nil
}

// orderIDsOf возвращает отсортированные id заказов клиента.
func (t *tables) orderIDsOf(customerID int64) []int64 {
	ids := make([]int64, 0)
	for id, rec := range t.orders {
		if rec.customerID == customerID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// selectCustomers возвращает записи, удовлетворяющие предикату, в порядке id.
func (t *tables) selectCustomers(pred func(customerRecord) bool) []customerRecord {
	out := make([]customerRecord, 0)
	for _, rec := range t.customers {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// selectOrders возвращает записи, удовлетворяющие предикату, в порядке id.
func (t *tables) selectOrders(pred func(orderRecord) bool) []orderRecord {
	out := make([]orderRecord, 0)
	for _, rec := range t.orders {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// hydrateCustomer собирает клиента с заказами и неполными ссылками на друзей.
func (t *tables) hydrateCustomer(rec customerRecord) *domain.Customer {
	c := domain.RestoreCustomer(rec.id, rec.firstName, rec.lastName)
	for _, oid := range t.orderIDsOf(rec.id) {
		o := t.orders[oid]
		c.AddOrder(domain.RestoreOrder(o.id, c, o.amount))
	}
	for _, fid := range rec.friendIDs {
		if fid == rec.id {
			c.AddFriend(c)
			continue
		}
		if f, ok := t.customers[fid]; ok {
			c.AddFriend(domain.RestoreCustomer(f.id, f.firstName, f.lastName))
		}
	}
	return c
}

func (t *tables) hydrateOrder(rec orderRecord) *domain.Order {
	var owner *domain.Customer
	if c, ok := t.customers[rec.customerID]; ok {
		owner = domain.RestoreCustomer(c.id, c.firstName, c.lastName)
	}
	return domain.RestoreOrder(rec.id, owner, rec.amount)
}

func allCustomers(customerRecord) bool { return true }

func allOrders(orderRecord) bool { return true }

func byLastName(lastName string) func(customerRecord) bool {
	return func(rec customerRecord) bool { return rec.lastName == lastName }
}

func friendsContain(friendID int64) func(customerRecord) bool {
	return func(rec customerRecord) bool { return containsID(rec.friendIDs, friendID) }
}

func byCustomer(customerID int64) func(orderRecord) bool {
	return func(rec orderRecord) bool { return rec.customerID == customerID }
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func withoutID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
