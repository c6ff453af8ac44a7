// Package customer реализует сценарии работы с клиентами поверх хранилища:
// изменение клиента доменным методом выполняется внутри атомарного
// CustomerRepository.Update, новые заказы пишутся через OrderRepository.
package customer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// OperationRecorder получает длительность и результат каждой операции.
// Реализуется metrics.StoreMetrics.
type OperationRecorder interface {
	ObserveOperation(operation string, duration time.Duration, err error)
}

// errUnchanged прерывает Update без записи, когда менять нечего.
var errUnchanged = errors.New("customer unchanged")

func ignoreUnchanged(err error) error {
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, time.Duration, error) {}

// Service — use-case слой CRM.
type Service struct {
	customers domain.CustomerRepository
	orders    domain.OrderRepository
	recorder  OperationRecorder
	logger    *log.Entry
}

// NewService конструирует сервис с зависимостями.
func NewService(
	customers domain.CustomerRepository,
	orders domain.OrderRepository,
	recorder OperationRecorder,
	logger *log.Entry,
) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = log.New().WithField("component", "customer-service")
	}
	return &Service{
		customers: customers,
		orders:    orders,
		recorder:  recorder,
		logger:    logger,
	}
}

// track засекает операцию; возвращённую функцию вызывают через defer,
// чтобы записать итоговую ошибку.
func (s *Service) track(operation string, err *error) func() {
	start := time.Now()
	return func() {
		s.recorder.ObserveOperation(operation, time.Since(start), *err)
	}
}

// Register создаёт нового клиента.
func (s *Service) Register(ctx context.Context, firstName, lastName string) (c *domain.Customer, err error) {
	defer s.track("register", &err)()

	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, domain.NewConstraintError("customer", "name", domain.ErrNameRequired)
	}

	c, err = s.customers.Save(ctx, domain.NewCustomer(firstName, lastName))
	if err != nil {
		s.logger.WithError(err).WithField("last_name", lastName).Warn("failed to register customer")
		return nil, err
	}
	s.logger.WithField("customer_id", c.ID()).Info("customer registered")
	return c, nil
}

// Get возвращает клиента с заказами и друзьями.
func (s *Service) Get(ctx context.Context, id int64) (c *domain.Customer, err error) {
	defer s.track("get", &err)()
	return s.customers.FindByID(ctx, id)
}

// FindByLastName возвращает клиентов с указанной фамилией.
func (s *Service) FindByLastName(ctx context.Context, lastName string) (out []*domain.Customer, err error) {
	defer s.track("find_by_last_name", &err)()
	return s.customers.FindByLastName(ctx, lastName)
}

// List возвращает всех клиентов.
func (s *Service) List(ctx context.Context) (out []*domain.Customer, err error) {
	defer s.track("list", &err)()
	return s.customers.FindAll(ctx)
}

// Count возвращает число клиентов.
func (s *Service) Count(ctx context.Context) (n int, err error) {
	defer s.track("count", &err)()
	return s.customers.Count(ctx)
}

// Delete удаляет клиента вместе с заказами.
func (s *Service) Delete(ctx context.Context, id int64) (err error) {
	defer s.track("delete", &err)()

	c, err := s.customers.FindByID(ctx, id)
	if err != nil {
		return err
	}
	orders := len(c.Orders())
	if err = s.customers.Delete(ctx, c); err != nil {
		s.logger.WithError(err).WithField("customer_id", id).Warn("failed to delete customer")
		return err
	}
	s.logger.WithFields(log.Fields{
		"customer_id": id,
		"orders":      orders,
	}).Info("customer deleted")
	return nil
}

// AddOrder сохраняет новый заказ клиента отдельной записью, не переписывая
// остальные его заказы.
func (s *Service) AddOrder(ctx context.Context, customerID int64, amount decimal.Decimal) (o *domain.Order, err error) {
	defer s.track("add_order", &err)()

	if customerID == 0 {
		return nil, domain.CustomerNotFound(customerID)
	}
	o = domain.NewOrder(amount)
	domain.RestoreCustomer(customerID, "", "").AddOrder(o)
	if _, err = s.orders.Save(ctx, o); err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Warn("failed to add order")
		return nil, err
	}
	s.logger.WithFields(log.Fields{
		"customer_id": customerID,
		"order_id":    o.ID(),
		"amount":      amount.String(),
	}).Info("order added")
	return o, nil
}

// RemoveOrder отвязывает заказ от клиента; сохранение удаляет его как сироту.
func (s *Service) RemoveOrder(ctx context.Context, customerID, orderID int64) (err error) {
	defer s.track("remove_order", &err)()

	_, err = s.customers.Update(ctx, customerID, func(c *domain.Customer) error {
		for _, o := range c.Orders() {
			if o.ID() == orderID {
				c.RemoveOrder(o)
				return nil
			}
		}
		return domain.OrderNotFound(orderID)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"customer_id": customerID,
			"order_id":    orderID,
		}).Warn("failed to remove order")
		return err
	}
	return nil
}

// ClearOrders отвязывает все заказы клиента.
func (s *Service) ClearOrders(ctx context.Context, customerID int64) (err error) {
	defer s.track("clear_orders", &err)()

	var removed int
	_, err = s.customers.Update(ctx, customerID, func(c *domain.Customer) error {
		removed = len(c.Orders())
		c.ClearOrders()
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Warn("failed to clear orders")
		return err
	}
	s.logger.WithFields(log.Fields{
		"customer_id": customerID,
		"removed":     removed,
	}).Info("orders cleared")
	return nil
}

// Orders возвращает заказы клиента.
func (s *Service) Orders(ctx context.Context, customerID int64) (out []*domain.Order, err error) {
	defer s.track("orders", &err)()

	c, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.orders.FindByCustomer(ctx, c)
}

// AddFriend добавляет направленную связь customerID → friendID.
func (s *Service) AddFriend(ctx context.Context, customerID, friendID int64) (err error) {
	defer s.track("add_friend", &err)()

	_, err = s.customers.Update(ctx, customerID, func(c *domain.Customer) error {
		friend := c
		if friendID != customerID {
			friend = domain.RestoreCustomer(friendID, "", "")
		}
		if c.HasFriend(friend) {
			return errUnchanged
		}
		c.AddFriend(friend)
		return nil
	})
	if err = ignoreUnchanged(err); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"customer_id": customerID,
			"friend_id":   friendID,
		}).Warn("failed to add friend")
		return err
	}
	return nil
}

// RemoveFriend удаляет связь customerID → friendID. Отсутствующая связь не ошибка.
func (s *Service) RemoveFriend(ctx context.Context, customerID, friendID int64) (err error) {
	defer s.track("remove_friend", &err)()

	_, err = s.customers.Update(ctx, customerID, func(c *domain.Customer) error {
		if !c.RemoveFriend(domain.RestoreCustomer(friendID, "", "")) {
			return errUnchanged
		}
		return nil
	})
	if err = ignoreUnchanged(err); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"customer_id": customerID,
			"friend_id":   friendID,
		}).Warn("failed to remove friend")
		return err
	}
	return nil
}

// FriendedBy возвращает клиентов, добавивших friendID в друзья.
func (s *Service) FriendedBy(ctx context.Context, friendID int64) (out []*domain.Customer, err error) {
	defer s.track("friended_by", &err)()

	friend, err := s.customers.FindByID(ctx, friendID)
	if err != nil {
		return nil, err
	}
	return s.customers.FindByFriendsContains(ctx, friend)
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) (out []*domain.Order, err error) {
	defer s.track("list_orders", &err)()
	return s.orders.FindAll(ctx)
}

// CountOrders возвращает число заказов.
func (s *Service) CountOrders(ctx context.Context) (n int, err error) {
	defer s.track("count_orders", &err)()
	return s.orders.Count(ctx)
}

// GetOrder возвращает заказ по id.
func (s *Service) GetOrder(ctx context.Context, id int64) (o *domain.Order, err error) {
	defer s.track("get_order", &err)()
	return s.orders.FindByID(ctx, id)
}
