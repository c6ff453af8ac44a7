package memory

import (
	"context"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/cascade"
)

// customerRepositoryInMemory — CustomerRepository поверх общего Store.
type customerRepositoryInMemory struct {
	store *Store
}

// NewCustomerRepository возвращает репозиторий клиентов, разделяющий состояние со store.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepositoryInMemory{store: store}
}

func (r *customerRepositoryInMemory) Save(_ context.Context, customer *domain.Customer) (*domain.Customer, error) {
	err := r.store.write(func(t *tables, sess *cascade.Session) error {
		return t.saveCustomer(sess, customer)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) SaveAll(_ context.Context, customers []*domain.Customer) ([]*domain.Customer, error) {
	err := r.store.write(func(t *tables, sess *cascade.Session) error {
		for _, c := range customers {
			if err := t.saveCustomer(sess, c); err != nil {
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

func (r *customerRepositoryInMemory) Update(_ context.Context, id int64, fn func(*domain.Customer) error) (*domain.Customer, error) {
	var updated *domain.Customer
	err := r.store.write(func(t *tables, sess *cascade.Session) error {
		rec, ok := t.customers[id]
		if !ok {
			return domain.CustomerNotFound(id)
		}
		customer := t.hydrateCustomer(rec)
		if err := fn(customer); err != nil {
			return err
		}
		updated = customer
		return t.saveCustomer(sess, customer)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *customerRepositoryInMemory) Delete(_ context.Context, customer *domain.Customer) error {
	return r.store.write(func(t *tables, sess *cascade.Session) error {
		return t.deleteCustomer(sess, customer)
	})
}

func (r *customerRepositoryInMemory) FindByID(_ context.Context, id int64) (*domain.Customer, error) {
	var found *domain.Customer
	r.store.read(func(t *tables) {
		if rec, ok := t.customers[id]; ok {
			found = t.hydrateCustomer(rec)
		}
	})
	if found == nil {
		return nil, domain.CustomerNotFound(id)
	}
	return found, nil
}

func (r *customerRepositoryInMemory) FindAll(_ context.Context) ([]*domain.Customer, error) {
	return r.find(allCustomers), nil
}

func (r *customerRepositoryInMemory) FindByLastName(_ context.Context, lastName string) ([]*domain.Customer, error) {
	return r.find(byLastName(lastName)), nil
}

func (r *customerRepositoryInMemory) FindByFriendsContains(_ context.Context, friend *domain.Customer) ([]*domain.Customer, error) {
	if friend == nil || !friend.IsPersisted() {
		return []*domain.Customer{}, nil
	}
	return r.find(friendsContain(friend.ID())), nil
}

func (r *customerRepositoryInMemory) Count(_ context.Context) (int, error) {
	var n int
	r.store.read(func(t *tables) {
		n = len(t.customers)
	})
	return n, nil
}

func (r *customerRepositoryInMemory) find(pred func(customerRecord) bool) []*domain.Customer {
	var out []*domain.Customer
	r.store.read(func(t *tables) {
		recs := t.selectCustomers(pred)
		out = make([]*domain.Customer, 0, len(recs))
		for _, rec := range recs {
			out = append(out, t.hydrateCustomer(rec))
		}
	})
	return out
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
