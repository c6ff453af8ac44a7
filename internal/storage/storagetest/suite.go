// Package storagetest содержит общий набор проверок каскадов, orphan removal
// и дружбы, который обязана проходить каждая реализация хранилища.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// Factory создаёт пустое хранилище для одного теста.
type Factory func(t *testing.T, observer domain.ChangeObserver) (domain.CustomerRepository, domain.OrderRepository)

// Run прогоняет набор проверок на хранилище, которое создаёт factory.
func Run(t *testing.T, factory Factory) {
	suite.Run(t, &RelationshipSuite{factory: factory})
}

// RelationshipSuite проверяет наблюдаемое поведение хранилища.
type RelationshipSuite struct {
	suite.Suite
	factory Factory

	ctx       context.Context
	customers domain.CustomerRepository
	orders    domain.OrderRepository
	recorder  *changeRecorder
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *changeRecorder) ObserveChanges(changes []domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

func (r *changeRecorder) kinds(kind domain.ChangeKind) []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Change
	for _, c := range r.changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (s *RelationshipSuite) SetupTest() {
	s.ctx = context.Background()
	s.recorder = &changeRecorder{}
	s.customers, s.orders = s.factory(s.T(), s.recorder)
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func lastNames(customers []*domain.Customer) []string {
	out := make([]string, 0, len(customers))
	for _, c := range customers {
		out = append(out, c.LastName)
	}
	return out
}

func (s *RelationshipSuite) saveCustomerWithOrders(amounts ...string) *domain.Customer {
	customer := domain.NewCustomer("first", "last")
	for _, a := range amounts {
		customer.AddOrder(domain.NewOrder(amount(a)))
	}
	saved, err := s.customers.Save(s.ctx, customer)
	s.Require().NoError(err)
	return saved
}

func (s *RelationshipSuite) TestFindOrderByCustomer() {
	customer := s.saveCustomerWithOrders("15.75")
	s.Require().True(customer.IsPersisted())
	s.Require().True(customer.Orders()[0].IsPersisted())

	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.True(found[0].Amount().Equal(amount("15.75")), "amount %s", found[0].Amount())
	s.Equal(customer.ID(), found[0].Customer().ID())
}

func (s *RelationshipSuite) TestRoundTripByLastName() {
	s.saveCustomerWithOrders("15.75")

	found, err := s.customers.FindByLastName(s.ctx, "last")
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("first", found[0].FirstName)
	s.Require().Len(found[0].Orders(), 1)
	s.True(found[0].Orders()[0].Amount().Equal(amount("15.75")))
	s.Same(found[0], found[0].Orders()[0].Customer())
}

func (s *RelationshipSuite) TestOrphanRemovalAll() {
	customer := s.saveCustomerWithOrders("15.75")

	customer.ClearOrders()
	_, err := s.customers.Save(s.ctx, customer)
	s.Require().NoError(err)

	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Empty(found)

	count, err := s.orders.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
	s.Len(s.recorder.kinds(domain.ChangeOrderOrphanRemoved), 1)
}

func (s *RelationshipSuite) TestOrphanRemovalOne() {
	customer := s.saveCustomerWithOrders("15.75", "45.22")

	removed := customer.Orders()[0]
	s.Require().True(customer.RemoveOrder(removed))
	s.Nil(removed.Customer())
	_, err := s.customers.Save(s.ctx, customer)
	s.Require().NoError(err)

	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.NotEqual(removed.ID(), found[0].ID())
	s.True(found[0].Amount().Equal(amount("45.22")))

	orphans := s.recorder.kinds(domain.ChangeOrderOrphanRemoved)
	s.Require().Len(orphans, 1)
	s.Equal(removed.ID(), orphans[0].OrderID)
}

func (s *RelationshipSuite) TestDeleteCascade() {
	customer := s.saveCustomerWithOrders("15.75", "45.22")
	orderIDs := []int64{customer.Orders()[0].ID(), customer.Orders()[1].ID()}

	s.Require().NoError(s.customers.Delete(s.ctx, customer))

	all, err := s.orders.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)

	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Empty(found)

	for _, id := range orderIDs {
		_, err := s.orders.FindByID(s.ctx, id)
		s.True(domain.IsNotFound(err), "order %d must be gone, got %v", id, err)
	}
	s.Len(s.recorder.kinds(domain.ChangeOrderCascadeDeleted), 2)
	s.Len(s.recorder.kinds(domain.ChangeCustomerDeleted), 1)
}

func (s *RelationshipSuite) TestDeleteTwiceIsNotFound() {
	customer := s.saveCustomerWithOrders("15.75")
	s.Require().NoError(s.customers.Delete(s.ctx, customer))

	err := s.customers.Delete(s.ctx, customer)
	s.Require().Error(err)
	s.True(domain.IsNotFound(err))
	s.True(errors.Is(err, domain.ErrCustomerNotFound))
}

func (s *RelationshipSuite) TestDeleteUnsavedIsNotFound() {
	err := s.customers.Delete(s.ctx, domain.NewCustomer("first", "last"))
	s.True(domain.IsNotFound(err), "got %v", err)
}

func (s *RelationshipSuite) TestFindCustomerByFriends() {
	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{
		domain.NewCustomer("first1", "last1"),
		domain.NewCustomer("first2", "last2"),
		domain.NewCustomer("first3", "last3"),
	})
	s.Require().NoError(err)

	customer1 := s.firstByLastName("last1")
	customer3 := s.firstByLastName("last3")
	customer1.AddFriend(customer3)
	_, err = s.customers.Save(s.ctx, customer1)
	s.Require().NoError(err)

	friendsOf3, err := s.customers.FindByFriendsContains(s.ctx, customer3)
	s.Require().NoError(err)
	s.Equal([]string{"last1"}, lastNames(friendsOf3))

	friendsOf1, err := s.customers.FindByFriendsContains(s.ctx, customer1)
	s.Require().NoError(err)
	s.Empty(friendsOf1)
}

func (s *RelationshipSuite) TestFindCustomerByReciprocalFriends() {
	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{
		domain.NewCustomer("first1", "last1"),
		domain.NewCustomer("first2", "last2"),
		domain.NewCustomer("first3", "last3"),
	})
	s.Require().NoError(err)

	customer1 := s.firstByLastName("last1")
	customer3 := s.firstByLastName("last3")
	customer1.AddFriend(customer3)
	customer3.AddFriend(customer1)
	_, err = s.customers.Save(s.ctx, customer1)
	s.Require().NoError(err)
	_, err = s.customers.Save(s.ctx, customer3)
	s.Require().NoError(err)

	friendsOf1, err := s.customers.FindByFriendsContains(s.ctx, customer1)
	s.Require().NoError(err)
	s.Equal([]string{"last3"}, lastNames(friendsOf1))

	friendsOf3, err := s.customers.FindByFriendsContains(s.ctx, customer3)
	s.Require().NoError(err)
	s.Equal([]string{"last1"}, lastNames(friendsOf3))
}

func (s *RelationshipSuite) TestSelfFriendship() {
	customer := domain.NewCustomer("narcissus", "self")
	customer.AddFriend(customer)
	_, err := s.customers.Save(s.ctx, customer)
	s.Require().NoError(err)

	found, err := s.customers.FindByFriendsContains(s.ctx, customer)
	s.Require().NoError(err)
	s.Equal([]string{"self"}, lastNames(found))
}

func (s *RelationshipSuite) TestRemoveFriend() {
	a := domain.NewCustomer("a", "a")
	b := domain.NewCustomer("b", "b")
	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{a, b})
	s.Require().NoError(err)

	a.AddFriend(b)
	_, err = s.customers.Save(s.ctx, a)
	s.Require().NoError(err)
	s.Require().True(a.RemoveFriend(b))
	_, err = s.customers.Save(s.ctx, a)
	s.Require().NoError(err)

	found, err := s.customers.FindByFriendsContains(s.ctx, b)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *RelationshipSuite) TestDeleteDoesNotCascadeToFriends() {
	a := domain.NewCustomer("a", "a")
	b := domain.NewCustomer("b", "b")
	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{a, b})
	s.Require().NoError(err)
	a.AddFriend(b)
	b.AddFriend(a)
	_, err = s.customers.SaveAll(s.ctx, []*domain.Customer{a, b})
	s.Require().NoError(err)

	s.Require().NoError(s.customers.Delete(s.ctx, a))

	survivor, err := s.customers.FindByID(s.ctx, b.ID())
	s.Require().NoError(err)
	s.Empty(survivor.Friends())

	count, err := s.customers.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *RelationshipSuite) TestUnsavedFriendIsRejected() {
	a := domain.NewCustomer("a", "a")
	a.AddFriend(domain.NewCustomer("b", "b"))

	_, err := s.customers.Save(s.ctx, a)
	s.Require().Error(err)
	s.True(domain.IsConstraint(err))
	s.True(errors.Is(err, domain.ErrTransientReference))
	s.False(a.IsPersisted())

	count, err := s.customers.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *RelationshipSuite) TestSaveAllResolvesEarlierBatchMembers() {
	a := domain.NewCustomer("a", "a")
	b := domain.NewCustomer("b", "b")
	b.AddFriend(a)

	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{a, b})
	s.Require().NoError(err)

	found, err := s.customers.FindByFriendsContains(s.ctx, a)
	s.Require().NoError(err)
	s.Equal([]string{"b"}, lastNames(found))
}

func (s *RelationshipSuite) TestSaveAllIsAllOrNothing() {
	ok := domain.NewCustomer("ok", "ok")
	ok.AddOrder(domain.NewOrder(amount("1.00")))
	bad := domain.NewCustomer("bad", "bad")
	bad.AddFriend(domain.NewCustomer("ghost", "ghost"))

	_, err := s.customers.SaveAll(s.ctx, []*domain.Customer{ok, bad})
	s.Require().Error(err)
	s.False(ok.IsPersisted())
	s.False(ok.Orders()[0].IsPersisted())

	customers, err := s.customers.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(customers)
	orders, err := s.orders.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(orders)
	s.Empty(s.recorder.kinds(domain.ChangeCustomerSaved))
}

func (s *RelationshipSuite) TestDetachedOrderInSetViolatesConstraint() {
	owner := domain.NewCustomer("owner", "owner")
	order := domain.NewOrder(amount("15.75"))
	owner.AddOrder(order)

	other := domain.NewCustomer("other", "other")
	other.AddOrder(order)
	other.RemoveOrder(order)
	s.Require().Nil(order.Customer())

	_, err := s.customers.Save(s.ctx, owner)
	s.Require().Error(err)
	s.True(domain.IsConstraint(err))
	s.True(errors.Is(err, domain.ErrOrderCustomerRequired))
	s.False(owner.IsPersisted())

	count, err := s.customers.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *RelationshipSuite) TestStandaloneOrderSave() {
	_, err := s.orders.Save(s.ctx, domain.NewOrder(amount("3.50")))
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrOrderCustomerRequired))

	customer := domain.NewCustomer("first", "last")
	pending := domain.NewOrder(amount("3.50"))
	customer.AddOrder(pending)
	_, err = s.orders.Save(s.ctx, pending)
	s.True(errors.Is(err, domain.ErrTransientReference), "got %v", err)

	customer.ClearOrders()
	_, err = s.customers.Save(s.ctx, customer)
	s.Require().NoError(err)

	order := domain.NewOrder(amount("3.50"))
	customer.AddOrder(order)
	saved, err := s.orders.Save(s.ctx, order)
	s.Require().NoError(err)
	s.True(saved.IsPersisted())

	found, err := s.orders.FindByID(s.ctx, saved.ID())
	s.Require().NoError(err)
	s.Equal(customer.ID(), found.Customer().ID())
	s.True(found.Amount().Equal(amount("3.50")))
}

func (s *RelationshipSuite) TestOrderForDeletedCustomerIsNotFound() {
	customer := s.saveCustomerWithOrders()
	s.Require().NoError(s.customers.Delete(s.ctx, customer))

	order := domain.NewOrder(amount("9.99"))
	customer.AddOrder(order)
	_, err := s.orders.Save(s.ctx, order)
	s.True(domain.IsNotFound(err), "got %v", err)
}

func (s *RelationshipSuite) TestFetchedCustomerKeepsOrdersOnResave() {
	customer := s.saveCustomerWithOrders("15.75")

	fetched, err := s.customers.FindByID(s.ctx, customer.ID())
	s.Require().NoError(err)
	fetched.LastName = "renamed"
	fetched.AddOrder(domain.NewOrder(amount("45.22")))
	_, err = s.customers.Save(s.ctx, fetched)
	s.Require().NoError(err)

	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Len(found, 2)

	renamed, err := s.customers.FindByLastName(s.ctx, "renamed")
	s.Require().NoError(err)
	s.Require().Len(renamed, 1)
	s.Equal(customer.ID(), renamed[0].ID())
}

func (s *RelationshipSuite) TestFindByIDNotFound() {
	_, err := s.customers.FindByID(s.ctx, 4242)
	s.True(errors.Is(err, domain.ErrCustomerNotFound))

	_, err = s.orders.FindByID(s.ctx, 4242)
	s.True(errors.Is(err, domain.ErrOrderNotFound))
}

func (s *RelationshipSuite) TestUnsavedReferencesQueryEmpty() {
	s.saveCustomerWithOrders("1.00")

	orders, err := s.orders.FindByCustomer(s.ctx, domain.NewCustomer("x", "y"))
	s.Require().NoError(err)
	s.Empty(orders)

	friends, err := s.customers.FindByFriendsContains(s.ctx, domain.NewCustomer("x", "y"))
	s.Require().NoError(err)
	s.Empty(friends)
}

func (s *RelationshipSuite) TestUpdateRemovesOrderAsOrphan() {
	customer := s.saveCustomerWithOrders("1.00", "2.00")
	dropped := customer.Orders()[0].ID()

	updated, err := s.customers.Update(s.ctx, customer.ID(), func(c *domain.Customer) error {
		for _, o := range c.Orders() {
			if o.ID() == dropped {
				c.RemoveOrder(o)
			}
		}
		c.LastName = "updated"
		return nil
	})
	s.Require().NoError(err)
	s.Len(updated.Orders(), 1)

	_, err = s.orders.FindByID(s.ctx, dropped)
	s.True(domain.IsNotFound(err), "got %v", err)
	s.Len(s.recorder.kinds(domain.ChangeOrderOrphanRemoved), 1)
	s.Equal(customer.ID(), s.firstByLastName("updated").ID())
}

func (s *RelationshipSuite) TestUpdateCallbackErrorRollsBack() {
	customer := s.saveCustomerWithOrders("1.00")
	boom := errors.New("rejected")

	_, err := s.customers.Update(s.ctx, customer.ID(), func(c *domain.Customer) error {
		c.ClearOrders()
		c.LastName = "changed"
		return boom
	})
	s.Require().ErrorIs(err, boom)

	found, err := s.customers.FindByID(s.ctx, customer.ID())
	s.Require().NoError(err)
	s.Equal("last", found.LastName)
	s.Len(found.Orders(), 1)
}

func (s *RelationshipSuite) TestUpdateUnknownIsNotFound() {
	called := false
	_, err := s.customers.Update(s.ctx, 4242, func(*domain.Customer) error {
		called = true
		return nil
	})
	s.True(errors.Is(err, domain.ErrCustomerNotFound), "got %v", err)
	s.False(called)
}

// Заказы, записанные параллельно с Update клиента, не удаляются как сироты.
func (s *RelationshipSuite) TestConcurrentOrderSavesSurviveUpdates() {
	customer := s.saveCustomerWithOrders()

	const writers = 40
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		acked int
		errs  []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			order := domain.NewOrder(amount("2.50"))
			domain.RestoreCustomer(customer.ID(), "", "").AddOrder(order)
			_, err := s.orders.Save(s.ctx, order)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			acked++
		}()
		go func(i int) {
			defer wg.Done()
			_, err := s.customers.Update(s.ctx, customer.ID(), func(c *domain.Customer) error {
				if i%2 == 0 {
					c.AddFriend(c)
				} else {
					c.RemoveFriend(c)
				}
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	s.Require().Empty(errs)
	s.Equal(writers, acked)
	found, err := s.orders.FindByCustomer(s.ctx, customer)
	s.Require().NoError(err)
	s.Len(found, writers)
	s.Empty(s.recorder.kinds(domain.ChangeOrderOrphanRemoved))
}

// Неудачное сохранение не переводит заказ к новому владельцу.
func (s *RelationshipSuite) TestFailedSaveKeepsOrderOwner() {
	owner := domain.NewCustomer("owner", "owner")
	other := domain.NewCustomer("other", "other")
	order := domain.NewOrder(amount("4.00"))
	owner.AddOrder(order)
	other.AddOrder(order)
	owner.AddFriend(domain.NewCustomer("ghost", "ghost"))

	_, err := s.customers.Save(s.ctx, owner)
	s.Require().Error(err)
	s.Same(other, order.Customer())

	owner.RemoveFriend(owner.Friends()[0])
	_, err = s.customers.Save(s.ctx, owner)
	s.Require().NoError(err)
	s.Same(owner, order.Customer())
}

func (s *RelationshipSuite) firstByLastName(lastName string) *domain.Customer {
	found, err := s.customers.FindByLastName(s.ctx, lastName)
	s.Require().NoError(err)
	s.Require().NotEmpty(found)
	return found[0]
}
