package sqlstore

import (
	"context"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт SQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	err := r.store.write(ctx, func(ctx context.Context, c conn, sess *cascade.Session) error {
		return saveOrder(ctx, c, sess, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	found, err := r.find(ctx, "o.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.OrderNotFound(id)
	}
	return found[0], nil
}

func (r *orderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	return r.find(ctx, "")
}

func (r *orderRepository) FindByCustomer(ctx context.Context, customer *domain.Customer) ([]*domain.Order, error) {
	if customer == nil || !customer.IsPersisted() {
		return []*domain.Order{}, nil
	}
	return r.find(ctx, "o.customer_id = ?", customer.ID())
}

func (r *orderRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.read(ctx, func(ctx context.Context, c conn) error {
		var err error
		n, err = count(ctx, c, "orders")
		return err
	})
	return n, err
}

func (r *orderRepository) find(ctx context.Context, where string, args ...any) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.store.read(ctx, func(ctx context.Context, c conn) error {
		var err error
		out, err = loadOrders(ctx, c, where, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
