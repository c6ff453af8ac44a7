package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type customerDTO struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type orderDTO struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
}

// statusError — ответ API с неожиданным кодом.
type statusError struct {
	method string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.method, e.status, e.body)
}

// apiClient вызывает REST API CRM и пишет каждый вызов в collector.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

func newAPIClient(cfg config, col *collector) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	transport.MaxConnsPerHost = cfg.connections

	return &apiClient{
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		http:    &http.Client{Transport: transport},
		timeout: cfg.timeout,
		col:     col,
	}
}

// call выполняет запрос и декодирует тело в out, если оно ожидается.
func (c *apiClient) call(method, name, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", name, err)
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), 0, false)
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.col.record(name, time.Since(start), resp.StatusCode, resp.StatusCode == want && readErr == nil)
	if readErr != nil {
		return fmt.Errorf("%s: read response: %w", name, readErr)
	}
	if resp.StatusCode != want {
		return &statusError{method: name, status: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", name, err)
		}
	}
	return nil
}

func (c *apiClient) registerCustomer(firstName, lastName string) (customerDTO, error) {
	var out customerDTO
	err := c.call(http.MethodPost, "RegisterCustomer", "/api/customers",
		map[string]string{"firstName": firstName, "lastName": lastName}, http.StatusCreated, &out)
	if err == nil && out.ID <= 0 {
		err = errors.New("RegisterCustomer: response returned empty customer id")
	}
	return out, err
}

func (c *apiClient) addOrder(customerID int64, amount decimal.Decimal) (orderDTO, error) {
	var out orderDTO
	err := c.call(http.MethodPost, "AddOrder", fmt.Sprintf("/api/customers/%d/orders", customerID),
		map[string]decimal.Decimal{"amount": amount}, http.StatusCreated, &out)
	if err == nil && out.ID <= 0 {
		err = errors.New("AddOrder: response returned empty order id")
	}
	return out, err
}

func (c *apiClient) customerOrders(customerID int64) ([]orderDTO, error) {
	var out []orderDTO
	err := c.call(http.MethodGet, "CustomerOrders", fmt.Sprintf("/api/customers/%d/orders", customerID), nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) addFriend(customerID, friendID int64) error {
	return c.call(http.MethodPut, "AddFriend", fmt.Sprintf("/api/customers/%d/friends/%d", customerID, friendID), nil, http.StatusNoContent, nil)
}

func (c *apiClient) friendedBy(customerID int64) ([]customerDTO, error) {
	var out []customerDTO
	err := c.call(http.MethodGet, "FriendedBy", fmt.Sprintf("/api/customers/%d/friended-by", customerID), nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) deleteCustomer(customerID int64) error {
	return c.call(http.MethodDelete, "DeleteCustomer", fmt.Sprintf("/api/customers/%d", customerID), nil, http.StatusNoContent, nil)
}

// runScenario прогоняет один сценарий режима cfg.mode и пишет итог как "scenario".
func runScenario(client *apiClient, cfg config, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		status := http.StatusOK
		var (
			se *statusError
			ue *url.Error
		)
		switch {
		case errors.As(err, &se):
			status = se.status
		case errors.As(err, &ue):
			status = 0
		case err != nil:
			status = statusCheckFailed
		}
		client.col.record(scenarioMethod, time.Since(start), status, err == nil)
	}()

	lastName := fmt.Sprintf("%s-%s", cfg.customerTag, runID)
	customer, err := client.registerCustomer(fmt.Sprintf("user-%d", index), lastName)
	if err != nil {
		return err
	}
	if cfg.mode == modeRegister {
		return nil
	}

	for i := 0; i < cfg.ordersPerCustomer; i++ {
		if _, err := client.addOrder(customer.ID, cfg.amount); err != nil {
			return err
		}
	}
	orders, err := client.customerOrders(customer.ID)
	if err != nil {
		return err
	}
	if len(orders) != cfg.ordersPerCustomer {
		return fmt.Errorf("customer %d: expected %d orders, got %d", customer.ID, cfg.ordersPerCustomer, len(orders))
	}

	if cfg.mode == modeSocial {
		friend, err := client.registerCustomer(fmt.Sprintf("friend-%d", index), lastName)
		if err != nil {
			return err
		}
		if err := client.addFriend(customer.ID, friend.ID); err != nil {
			return err
		}
		fans, err := client.friendedBy(friend.ID)
		if err != nil {
			return err
		}
		if len(fans) != 1 || fans[0].ID != customer.ID {
			return fmt.Errorf("friend %d: expected to be friended by %d", friend.ID, customer.ID)
		}
		if shouldCleanup(index, cfg.cleanupRate) {
			if err := client.deleteCustomer(friend.ID); err != nil {
				return err
			}
		}
	}

	if shouldCleanup(index, cfg.cleanupRate) {
		return client.deleteCustomer(customer.ID)
	}
	return nil
}

func shouldCleanup(index, rate int) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	return index%100 < rate
}
