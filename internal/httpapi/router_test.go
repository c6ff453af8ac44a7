package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/crm/internal/service/customer"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

type observedRequest struct {
	route  string
	method string
	status int
}

type stubObserver struct {
	mu       sync.Mutex
	requests []observedRequest
}

func (o *stubObserver) ObserveRequest(route, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, observedRequest{route: route, method: method, status: status})
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func newAPI(t *testing.T) (*apiClient, *stubObserver) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("component", "http-api-test")

	store := memory.NewStore()
	svc := customer.NewService(memory.NewCustomerRepository(store), memory.NewOrderRepository(store), nil, entry)
	observer := &stubObserver{}
	return &apiClient{t: t, handler: NewRouter(svc, entry, observer)}, observer
}

func (c *apiClient) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) createCustomer(first, last string) customerResponse {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/customers", fmt.Sprintf(`{"firstName":%q,"lastName":%q}`, first, last))
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp customerResponse
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_CreateAndGetCustomer(t *testing.T) {
	api, _ := newAPI(t)

	created := api.createCustomer("Dave", "Matthews")
	assert.NotZero(t, created.ID)
	assert.Empty(t, created.Orders)

	rec := api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[customerResponse](t, rec)
	assert.Equal(t, "Dave", got.FirstName)
	assert.Equal(t, "Matthews", got.LastName)
}

func TestAPI_OrderAmountsKeepPrecision(t *testing.T) {
	api, _ := newAPI(t)
	c := api.createCustomer("Dave", "Matthews")

	rec := api.do(http.MethodPost, fmt.Sprintf("/api/customers/%d/orders", c.ID), `{"amount":"15.75"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amount":"15.75"`)

	order := decode[orderResponse](t, rec)
	assert.Equal(t, c.ID, order.CustomerID)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", order.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15.75", decode[orderResponse](t, rec).Amount.String())
}

func TestAPI_OrphanRemovalAndClear(t *testing.T) {
	api, _ := newAPI(t)
	c := api.createCustomer("Dave", "Matthews")
	base := fmt.Sprintf("/api/customers/%d/orders", c.ID)

	first := decode[orderResponse](t, api.do(http.MethodPost, base, `{"amount":"1.00"}`))
	api.do(http.MethodPost, base, `{"amount":"2.00"}`)

	rec := api.do(http.MethodDelete, fmt.Sprintf("%s/%d", base, first.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	orders := decode[[]orderResponse](t, api.do(http.MethodGet, base, ""))
	require.Len(t, orders, 1)
	assert.Equal(t, "2", orders[0].Amount.String())

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, base, "").Code)
	count := decode[countResponse](t, api.do(http.MethodGet, "/api/orders/count", ""))
	assert.Zero(t, count.Count)
}

func TestAPI_DeleteCustomerCascades(t *testing.T) {
	api, _ := newAPI(t)
	c := api.createCustomer("Dave", "Matthews")
	api.do(http.MethodPost, fmt.Sprintf("/api/customers/%d/orders", c.ID), `{"amount":"10"}`)

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, fmt.Sprintf("/api/customers/%d", c.ID), "").Code)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d", c.ID), "").Code)
	assert.Empty(t, decode[[]orderResponse](t, api.do(http.MethodGet, "/api/orders", "")))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, fmt.Sprintf("/api/customers/%d", c.ID), "").Code)
}

func TestAPI_Friends(t *testing.T) {
	api, _ := newAPI(t)
	a := api.createCustomer("Dave", "Matthews")
	b := api.createCustomer("Tim", "Reynolds")

	rec := api.do(http.MethodPut, fmt.Sprintf("/api/customers/%d/friends/%d", a.ID, b.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	friendedBy := decode[[]customerResponse](t, api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/friended-by", b.ID), ""))
	require.Len(t, friendedBy, 1)
	assert.Equal(t, a.ID, friendedBy[0].ID)
	require.Len(t, friendedBy[0].Friends, 1)
	assert.Equal(t, "Tim", friendedBy[0].Friends[0].FirstName)

	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/customers/%d/friends/%d", a.ID, b.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, decode[[]customerResponse](t, api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/friended-by", b.ID), "")))

	rec = api.do(http.MethodPut, fmt.Sprintf("/api/customers/%d/friends/%d", a.ID, 999), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListByLastNameAndCount(t *testing.T) {
	api, _ := newAPI(t)
	api.createCustomer("Dave", "Matthews")
	api.createCustomer("Carter", "Beauford")
	api.createCustomer("Anna", "Matthews")

	assert.Len(t, decode[[]customerResponse](t, api.do(http.MethodGet, "/api/customers", "")), 3)
	assert.Len(t, decode[[]customerResponse](t, api.do(http.MethodGet, "/api/customers?lastName=Matthews", "")), 2)
	assert.Equal(t, 3, decode[countResponse](t, api.do(http.MethodGet, "/api/customers/count", "")).Count)
}

func TestAPI_Errors(t *testing.T) {
	api, _ := newAPI(t)
	c := api.createCustomer("Dave", "Matthews")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "missing names", method: http.MethodPost, path: "/api/customers", body: `{"firstName":"Dave"}`, status: http.StatusUnprocessableEntity},
		{name: "malformed body", method: http.MethodPost, path: "/api/customers", body: `{`, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/customers", body: `{"name":"x"}`, status: http.StatusBadRequest},
		{name: "invalid id", method: http.MethodGet, path: "/api/customers/abc", status: http.StatusBadRequest},
		{name: "unknown customer", method: http.MethodGet, path: "/api/customers/4242", status: http.StatusNotFound},
		{name: "unknown order", method: http.MethodGet, path: "/api/orders/4242", status: http.StatusNotFound},
		{name: "missing amount", method: http.MethodPost, path: fmt.Sprintf("/api/customers/%d/orders", c.ID), body: `{}`, status: http.StatusBadRequest},
		{name: "invalid amount", method: http.MethodPost, path: fmt.Sprintf("/api/customers/%d/orders", c.ID), body: `{"amount":"abc"}`, status: http.StatusBadRequest},
		{name: "order of other customer", method: http.MethodDelete, path: fmt.Sprintf("/api/customers/%d/orders/77", c.ID), status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestAPI_MetricsUseRoutePattern(t *testing.T) {
	api, observer := newAPI(t)
	c := api.createCustomer("Dave", "Matthews")
	api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d", c.ID), "")

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.requests, 2)
	got := observer.requests[1]
	assert.Contains(t, got.route, "/api/customers/{id}")
	assert.NotContains(t, got.route, fmt.Sprint(c.ID))
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, http.StatusCreated, observer.requests[0].status)
}
