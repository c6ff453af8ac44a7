package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/httpapi"
	"github.com/vladislavdragonenkov/crm/internal/service/customer"
	"github.com/vladislavdragonenkov/crm/internal/service/outbox"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
	"github.com/vladislavdragonenkov/crm/internal/storage/postgres"
	"github.com/vladislavdragonenkov/crm/internal/storage/sqlite"
	"github.com/vladislavdragonenkov/crm/internal/storage/sqlstore"
)

type backend struct {
	customers domain.CustomerRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
}

type backendFactory func(t *testing.T) backend

// CustomerLifecycleTestSuite прогоняет API → сервис → хранилище → outbox на одном бэкенде.
type CustomerLifecycleTestSuite struct {
	suite.Suite
	open backendFactory

	server    *httptest.Server
	backend   backend
	publisher *recordingPublisher
	worker    *outbox.Worker
}

func (s *CustomerLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	s.backend = s.open(s.T())
	svc := customer.NewService(s.backend.customers, s.backend.orders, nil, logger)
	s.server = httptest.NewServer(httpapi.NewRouter(svc, logger, nil))

	s.publisher = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.backend.outbox, s.publisher,
		outbox.WithLogger(logger),
		outbox.WithBatchSize(50),
		outbox.WithRetryBaseDelay(time.Millisecond),
	)
}

func (s *CustomerLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *CustomerLifecycleTestSuite) TestRegisterOrdersAndCascadeDelete() {
	ann := s.registerCustomer("Ann", "Lee")
	o1 := s.addOrder(ann, "10.00")
	o2 := s.addOrder(ann, "5.25")

	var orders []orderView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d/orders", ann), nil, http.StatusOK, &orders)
	s.Require().Len(orders, 2)
	s.Equal(o1, orders[0].ID)
	s.Equal("5.25", orders[1].Amount)

	var count countView
	s.doJSON(http.MethodGet, "/api/orders/count", nil, http.StatusOK, &count)
	s.Equal(2, count.Count)

	s.doJSON(http.MethodDelete, fmt.Sprintf("/api/customers/%d", ann), nil, http.StatusNoContent, nil)
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/orders/%d", o2), nil, http.StatusNotFound, nil)
	s.doJSON(http.MethodGet, "/api/orders/count", nil, http.StatusOK, &count)
	s.Zero(count.Count)

	s.Equal([]string{
		"customer.saved",
		"customer.saved", "order.saved",
		"customer.saved", "order.saved", "order.saved",
		"order.cascade_deleted", "order.cascade_deleted", "customer.deleted",
	}, s.drainOutbox())
}

func (s *CustomerLifecycleTestSuite) TestOrphanRemovalThroughAPI() {
	bob := s.registerCustomer("Bob", "Stone")
	keep := s.addOrder(bob, "1.00")
	drop := s.addOrder(bob, "2.00")
	s.drainOutbox()

	s.doJSON(http.MethodDelete, fmt.Sprintf("/api/customers/%d/orders/%d", bob, drop), nil, http.StatusNoContent, nil)
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/orders/%d", drop), nil, http.StatusNotFound, nil)
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/orders/%d", keep), nil, http.StatusOK, nil)
	s.Contains(s.drainOutbox(), "order.orphan_removed")

	s.doJSON(http.MethodDelete, fmt.Sprintf("/api/customers/%d/orders", bob), nil, http.StatusNoContent, nil)
	var orders []orderView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d/orders", bob), nil, http.StatusOK, &orders)
	s.Empty(orders)

	var got customerView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d", bob), nil, http.StatusOK, &got)
	s.Equal("Bob", got.FirstName)
}

func (s *CustomerLifecycleTestSuite) TestFriendshipIsDirectedAndSurvivesFriendDeletion() {
	ann := s.registerCustomer("Ann", "Lee")
	bob := s.registerCustomer("Bob", "Lee")

	s.doJSON(http.MethodPut, fmt.Sprintf("/api/customers/%d/friends/%d", ann, bob), nil, http.StatusNoContent, nil)
	s.doJSON(http.MethodPut, fmt.Sprintf("/api/customers/%d/friends/%d", ann, ann), nil, http.StatusNoContent, nil)

	var fans []customerView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d/friended-by", bob), nil, http.StatusOK, &fans)
	s.Require().Len(fans, 1)
	s.Equal(ann, fans[0].ID)

	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d/friended-by", ann), nil, http.StatusOK, &fans)
	s.Require().Len(fans, 1, "self-friendship is kept")

	var bobView customerView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d", bob), nil, http.StatusOK, &bobView)
	s.Empty(bobView.Friends, "friendship is one-way")

	s.doJSON(http.MethodDelete, fmt.Sprintf("/api/customers/%d", bob), nil, http.StatusNoContent, nil)

	var annView customerView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d", ann), nil, http.StatusOK, &annView)
	s.Require().Len(annView.Friends, 1)
	s.Equal(ann, annView.Friends[0].ID)

	var byName []customerView
	s.doJSON(http.MethodGet, "/api/customers?lastName=Lee", nil, http.StatusOK, &byName)
	s.Len(byName, 1)
}

func (s *CustomerLifecycleTestSuite) TestValidationErrors() {
	s.doJSON(http.MethodPost, "/api/customers", map[string]string{"firstName": " ", "lastName": "x"}, http.StatusUnprocessableEntity, nil)
	s.doJSON(http.MethodPost, "/api/customers", map[string]string{"first": "x"}, http.StatusBadRequest, nil)
	s.doJSON(http.MethodGet, "/api/customers/999", nil, http.StatusNotFound, nil)

	ann := s.registerCustomer("Ann", "Lee")
	s.doJSON(http.MethodPost, fmt.Sprintf("/api/customers/%d/orders", ann), map[string]any{}, http.StatusBadRequest, nil)
	s.doJSON(http.MethodPut, fmt.Sprintf("/api/customers/%d/friends/999", ann), nil, http.StatusNotFound, nil)

	var count countView
	s.doJSON(http.MethodGet, "/api/customers/count", nil, http.StatusOK, &count)
	s.Equal(1, count.Count)
	s.Equal([]string{"customer.saved"}, s.drainOutbox(), "failed writes leave no events")
}

func (s *CustomerLifecycleTestSuite) TestConcurrentOrders() {
	ann := s.registerCustomer("Ann", "Lee")

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{"amount": "1.00"})
			resp, err := http.Post(s.server.URL+fmt.Sprintf("/api/customers/%d/orders", ann), "application/json", bytes.NewReader(body))
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	// Конкурентные сохранения одного агрегата: итог — от 1 до workers заказов,
	// но хранилище должно остаться согласованным.
	var orders []orderView
	s.doJSON(http.MethodGet, fmt.Sprintf("/api/customers/%d/orders", ann), nil, http.StatusOK, &orders)
	var count countView
	s.doJSON(http.MethodGet, "/api/orders/count", nil, http.StatusOK, &count)
	s.Equal(len(orders), count.Count)
	s.GreaterOrEqual(count.Count, 1)
	s.LessOrEqual(count.Count, workers)
}

// drainOutbox публикует всё накопленное и возвращает типы событий по порядку.
func (s *CustomerLifecycleTestSuite) drainOutbox() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for s.worker.ProcessOnce(ctx) > 0 {
	}
	return s.publisher.take()
}

func (s *CustomerLifecycleTestSuite) registerCustomer(first, last string) int64 {
	var c customerView
	s.doJSON(http.MethodPost, "/api/customers", map[string]string{"firstName": first, "lastName": last}, http.StatusCreated, &c)
	s.Require().Positive(c.ID)
	return c.ID
}

func (s *CustomerLifecycleTestSuite) addOrder(customerID int64, amount string) int64 {
	var o orderView
	s.doJSON(http.MethodPost, fmt.Sprintf("/api/customers/%d/orders", customerID), map[string]string{"amount": amount}, http.StatusCreated, &o)
	s.Require().Positive(o.ID)
	s.Require().Equal(customerID, o.CustomerID)
	return o.ID
}

func (s *CustomerLifecycleTestSuite) doJSON(method, path string, body any, wantStatus int, out any) {
	s.T().Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().Equal(wantStatus, resp.StatusCode, "%s %s: %s", method, path, strings.TrimSpace(string(payload)))
	if out != nil {
		s.Require().NoError(json.Unmarshal(payload, out))
	}
}

type orderView struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customerId"`
	Amount     string `json:"amount"`
}

type customerView struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Friends   []struct {
		ID int64 `json:"id"`
	} `json:"friends"`
}

type countView struct {
	Count int `json:"count"`
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg.EventType)
	return nil
}

func (p *recordingPublisher) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

func TestCustomerLifecycle_Memory(t *testing.T) {
	suite.Run(t, &CustomerLifecycleTestSuite{open: func(*testing.T) backend {
		store := memory.NewStore(memory.WithOutbox())
		return backend{
			customers: memory.NewCustomerRepository(store),
			orders:    memory.NewOrderRepository(store),
			outbox:    memory.NewOutboxRepository(store),
		}
	}})
}

func TestCustomerLifecycle_SQLite(t *testing.T) {
	suite.Run(t, &CustomerLifecycleTestSuite{open: func(t *testing.T) backend {
		store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "crm.db"), sqlstore.WithOutbox())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return backend{customers: store.Customers(), orders: store.Orders(), outbox: store.Outbox()}
	}})
}

func TestCustomerLifecycle_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CRM_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CRM_POSTGRES_TEST_DSN is not set")
	}
	suite.Run(t, &CustomerLifecycleTestSuite{open: func(t *testing.T) backend {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := postgres.Open(ctx, dsn, sqlstore.WithOutbox())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		require.NoError(t, store.EnsureSchema(ctx))
		_, err = store.DB().ExecContext(ctx,
			`TRUNCATE TABLE outbox_messages, customer_friends, orders, customers RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return backend{customers: store.Customers(), orders: store.Orders(), outbox: store.Outbox()}
	}})
}
