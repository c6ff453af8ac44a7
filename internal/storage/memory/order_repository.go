package memory

import (
	"context"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

// orderRepositoryInMemory — OrderRepository поверх общего Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает репозиторий заказов, разделяющий состояние со store.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

func (r *orderRepositoryInMemory) Save(_ context.Context, order *domain.Order) (*domain.Order, error) {
	err := r.store.write(func(t *tables, sess *cascade.Session) error {
		return t.saveOrder(sess, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepositoryInMemory) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	var found *domain.Order
	r.store.read(func(t *tables) {
		if rec, ok := t.orders[id]; ok {
			found = t.hydrateOrder(rec)
		}
	})
	if found == nil {
		return nil, domain.OrderNotFound(id)
	}
	return found, nil
}

func (r *orderRepositoryInMemory) FindAll(_ context.Context) ([]*domain.Order, error) {
	return r.find(allOrders), nil
}

func (r *orderRepositoryInMemory) FindByCustomer(_ context.Context, customer *domain.Customer) ([]*domain.Order, error) {
	if customer == nil || !customer.IsPersisted() {
		return []*domain.Order{}, nil
	}
	return r.find(byCustomer(customer.ID())), nil
}

func (r *orderRepositoryInMemory) Count(_ context.Context) (int, error) {
	var n int
	r.store.read(func(t *tables) {
		n = len(t.orders)
	})
	return n, nil
}

func (r *orderRepositoryInMemory) find(pred func(orderRecord) bool) []*domain.Order {
	var out []*domain.Order
	r.store.read(func(t *tables) {
		recs := t.selectOrders(pred)
		out = make([]*domain.Order, 0, len(recs))
		for _, rec := range recs {
			out = append(out, t.hydrateOrder(rec))
		}
	})
	return out
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
