package httpapi

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

type createCustomerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type addOrderRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type friendRef struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type orderResponse struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
}

type customerResponse struct {
	ID        int64           `json:"id"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Orders    []orderResponse `json:"orders"`
	Friends   []friendRef     `json:"friends"`
}

type countResponse struct {
	Count int `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{ID: o.ID(), Amount: o.Amount()}
	if c := o.Customer(); c != nil {
		resp.CustomerID = c.ID()
	}
	return resp
}

func toOrderResponses(orders []*domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toCustomerResponse(c *domain.Customer) customerResponse {
	resp := customerResponse{
		ID:        c.ID(),
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Orders:    toOrderResponses(c.Orders()),
		Friends:   make([]friendRef, 0, len(c.Friends())),
	}
	for _, f := range c.Friends() {
		resp.Friends = append(resp.Friends, friendRef{ID: f.ID(), FirstName: f.FirstName, LastName: f.LastName})
	}
	return resp
}

func toCustomerResponses(customers []*domain.Customer) []customerResponse {
	out := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerResponse(c))
	}
	return out
}
