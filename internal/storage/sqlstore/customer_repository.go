package sqlstore

import (
	"context"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

type customerRepository struct {
	store *Store
}

// NewCustomerRepository создаёт SQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{store: store}
}

func (r *customerRepository) Save(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	err := r.store.write(ctx, func(ctx context.Context, c conn, sess *cascade.Session) error {
		return saveCustomer(ctx, c, sess, customer)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (r *customerRepository) SaveAll(ctx context.Context, customers []*domain.Customer) ([]*domain.Customer, error) {
	err := r.store.write(ctx, func(ctx context.Context, c conn, sess *cascade.Session) error {
		for _, customer := range customers {
			if err := saveCustomer(ctx, c, sess, customer); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *customerRepository) Update(ctx context.Context, id int64, fn func(*domain.Customer) error) (*domain.Customer, error) {
	var updated *domain.Customer
	err := r.store.write(ctx, func(ctx context.Context, c conn, sess *cascade.Session) error {
		if err := lockCustomer(ctx, c, id); err != nil {
			return err
		}
		found, err := loadCustomers(ctx, c, "id = ?", id)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return domain.CustomerNotFound(id)
		}
		if err := fn(found[0]); err != nil {
			return err
		}
		updated = found[0]
		return saveCustomer(ctx, c, sess, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *customerRepository) Delete(ctx context.Context, customer *domain.Customer) error {
	return r.store.write(ctx, func(ctx context.Context, c conn, sess *cascade.Session) error {
		return deleteCustomer(ctx, c, sess, customer)
	})
}

func (r *customerRepository) FindByID(ctx context.Context, id int64) (*domain.Customer, error) {
	found, err := r.find(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.CustomerNotFound(id)
	}
	return found[0], nil
}

func (r *customerRepository) FindAll(ctx context.Context) ([]*domain.Customer, error) {
	return r.find(ctx, "")
}

func (r *customerRepository) FindByLastName(ctx context.Context, lastName string) ([]*domain.Customer, error) {
	return r.find(ctx, "last_name = ?", lastName)
}

func (r *customerRepository) FindByFriendsContains(ctx context.Context, friend *domain.Customer) ([]*domain.Customer, error) {
	if friend == nil || !friend.IsPersisted() {
		return []*domain.Customer{}, nil
	}
	return r.find(ctx, "id IN (SELECT customer_id FROM customer_friends WHERE friend_id = ?)", friend.ID())
}

func (r *customerRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.read(ctx, func(ctx context.Context, c conn) error {
		var err error
		n, err = count(ctx, c, "customers")
		return err
	})
	return n, err
}

func (r *customerRepository) find(ctx context.Context, where string, args ...any) ([]*domain.Customer, error) {
	var out []*domain.Customer
	err := r.store.read(ctx, func(ctx context.Context, c conn) error {
		var err error
		out, err = loadCustomers(ctx, c, where, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
