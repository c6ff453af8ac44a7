package customer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

type recordedOperation struct {
	name string
	err  error
}

type stubRecorder struct {
	mu  sync.Mutex
	ops []recordedOperation
}

func (r *stubRecorder) ObserveOperation(operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOperation{name: operation, err: err})
}

func (r *stubRecorder) last() recordedOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[len(r.ops)-1]
}

func newTestService(t *testing.T) (*Service, *stubRecorder) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	store := memory.NewStore()
	recorder := &stubRecorder{}
	svc := NewService(
		memory.NewCustomerRepository(store),
		memory.NewOrderRepository(store),
		recorder,
		logger.WithField("component", "customer-service-test"),
	)
	return svc, recorder
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestService_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	svc, recorder := newTestService(t)

	c, err := svc.Register(ctx, " Dave ", "Matthews")
	require.NoError(t, err)
	require.True(t, c.IsPersisted())
	assert.Equal(t, "Dave", c.FirstName)

	got, err := svc.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, "Matthews", got.LastName)
	assert.Equal(t, "get", recorder.last().name)
	assert.NoError(t, recorder.last().err)
}

func TestService_RegisterRequiresNames(t *testing.T) {
	svc, recorder := newTestService(t)

	_, err := svc.Register(context.Background(), "Dave", "  ")
	require.Error(t, err)
	assert.True(t, domain.IsConstraint(err))
	assert.ErrorIs(t, err, domain.ErrNameRequired)

	last := recorder.last()
	assert.Equal(t, "register", last.name)
	assert.ErrorIs(t, last.err, domain.ErrNameRequired)
}

func TestService_OrdersLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.Register(ctx, "Carter", "Beauford")
	require.NoError(t, err)

	first, err := svc.AddOrder(ctx, c.ID(), amount("15.75"))
	require.NoError(t, err)
	second, err := svc.AddOrder(ctx, c.ID(), amount("3.10"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())

	orders, err := svc.Orders(ctx, c.ID())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].Amount().Equal(amount("15.75")))

	require.NoError(t, svc.RemoveOrder(ctx, c.ID(), first.ID()))
	_, err = svc.GetOrder(ctx, first.ID())
	assert.True(t, domain.IsNotFound(err))

	n, err := svc.CountOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, svc.ClearOrders(ctx, c.ID()))
	all, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_RemoveOrderOfAnotherCustomer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Register(ctx, "Boyd", "Tinsley")
	require.NoError(t, err)
	b, err := svc.Register(ctx, "Stefan", "Lessard")
	require.NoError(t, err)
	o, err := svc.AddOrder(ctx, a.ID(), amount("1"))
	require.NoError(t, err)

	err = svc.RemoveOrder(ctx, b.ID(), o.ID())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = svc.GetOrder(ctx, o.ID())
	assert.NoError(t, err)
}

func TestService_DeleteCascadesOrders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.Register(ctx, "LeRoi", "Moore")
	require.NoError(t, err)
	_, err = svc.AddOrder(ctx, c.ID(), amount("9.99"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, c.ID()))

	n, err := svc.CountOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = svc.Delete(ctx, c.ID())
	assert.True(t, domain.IsNotFound(err))
}

func TestService_Friends(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Register(ctx, "Dave", "Matthews")
	require.NoError(t, err)
	b, err := svc.Register(ctx, "Tim", "Reynolds")
	require.NoError(t, err)

	require.NoError(t, svc.AddFriend(ctx, a.ID(), b.ID()))
	require.NoError(t, svc.AddFriend(ctx, a.ID(), b.ID()))

	friendedBy, err := svc.FriendedBy(ctx, b.ID())
	require.NoError(t, err)
	require.Len(t, friendedBy, 1)
	assert.Equal(t, a.ID(), friendedBy[0].ID())

	// связь направленная
	friendedBy, err = svc.FriendedBy(ctx, a.ID())
	require.NoError(t, err)
	assert.Empty(t, friendedBy)

	require.NoError(t, svc.RemoveFriend(ctx, a.ID(), b.ID()))
	require.NoError(t, svc.RemoveFriend(ctx, a.ID(), b.ID()))
	friendedBy, err = svc.FriendedBy(ctx, b.ID())
	require.NoError(t, err)
	assert.Empty(t, friendedBy)
}

func TestService_SelfFriend(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Register(ctx, "Dave", "Matthews")
	require.NoError(t, err)
	require.NoError(t, svc.AddFriend(ctx, a.ID(), a.ID()))

	got, err := svc.Get(ctx, a.ID())
	require.NoError(t, err)
	require.Len(t, got.Friends(), 1)
	assert.Equal(t, a.ID(), got.Friends()[0].ID())
}

func TestService_AddFriendUnknown(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.Register(ctx, "Dave", "Matthews")
	require.NoError(t, err)

	err = svc.AddFriend(ctx, a.ID(), 999)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestService_AddOrderUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AddOrder(ctx, 404, amount("1"))
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	_, err = svc.AddOrder(ctx, 0, amount("1"))
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	n, err := svc.CountOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Параллельные AddOrder и изменения друзей одного клиента не должны
// терять подтверждённые заказы.
func TestService_ConcurrentMutationsKeepAcknowledgedOrders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.Register(ctx, "Jeff", "Coffin")
	require.NoError(t, err)
	friend, err := svc.Register(ctx, "Rashawn", "Ross")
	require.NoError(t, err)

	const writers = 200
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acked    = make(map[int64]struct{}, writers)
		failures []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o, err := svc.AddOrder(ctx, c.ID(), amount("1.25"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			acked[o.ID()] = struct{}{}
		}()
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = svc.AddFriend(ctx, c.ID(), friend.ID())
			} else {
				err = svc.RemoveFriend(ctx, c.ID(), friend.ID())
			}
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Len(t, acked, writers)

	orders, err := svc.Orders(ctx, c.ID())
	require.NoError(t, err)
	require.Len(t, orders, writers)
	for _, o := range orders {
		_, ok := acked[o.ID()]
		assert.True(t, ok, "unexpected order %d", o.ID())
	}
}

func TestService_UpdateErrorLeavesCustomerUntouched(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.Register(ctx, "Butch", "Taylor")
	require.NoError(t, err)
	o, err := svc.AddOrder(ctx, c.ID(), amount("7"))
	require.NoError(t, err)

	err = svc.RemoveOrder(ctx, c.ID(), o.ID()+100)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	err = svc.ClearOrders(ctx, 999)
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	orders, err := svc.Orders(ctx, c.ID())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID(), orders[0].ID())
}

func TestService_ListAndSearch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "Dave", "Matthews")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Carter", "Beauford")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Anna", "Matthews")
	require.NoError(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := svc.FindByLastName(ctx, "Matthews")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type failingCustomers struct {
	domain.CustomerRepository
	err error
}

func (f failingCustomers) Save(context.Context, *domain.Customer) (*domain.Customer, error) {
	return nil, f.err
}

func TestService_SaveErrorIsRecorded(t *testing.T) {
	store := memory.NewStore()
	boom := errors.New("disk full")
	recorder := &stubRecorder{}
	svc := NewService(
		failingCustomers{CustomerRepository: memory.NewCustomerRepository(store), err: boom},
		memory.NewOrderRepository(store),
		recorder,
		nil,
	)

	_, err := svc.Register(context.Background(), "Dave", "Matthews")
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, recorder.last().err, boom)
}
