package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Order — заказ клиента. Сумма хранится в виде точного десятичного числа
// и не меняется после создания.
type Order struct {
	id       int64
	customer *Customer
	amount   *decimal.Decimal
}

// NewOrder создаёт несохранённый заказ на указанную сумму.
func NewOrder(amount decimal.Decimal) *Order {
	return &Order{amount: &amount}
}

// RestoreOrder восстанавливает сохранённый заказ. customer может быть
// неполной ссылкой (только идентификатор и имя).
func RestoreOrder(id int64, customer *Customer, amount decimal.Decimal) *Order {
	return &Order{id: id, customer: customer, amount: &amount}
}

// ID возвращает идентификатор; 0 означает, что заказ ещё не сохранён.
func (o *Order) ID() int64 { return o.id }

// IsPersisted сообщает, выдан ли заказу идентификатор.
func (o *Order) IsPersisted() bool { return o.id != 0 }

// AssignID фиксирует идентификатор после первого сохранения.
func (o *Order) AssignID(id int64) error {
	if o.id != 0 && o.id != id {
		return NewConstraintError("order", "id", ErrIdentifierImmutable)
	}
	o.id = id
	return nil
}

// Customer возвращает владельца заказа или nil для отвязанного заказа.
func (o *Order) Customer() *Customer { return o.customer }

// Amount возвращает сумму заказа.
func (o *Order) Amount() decimal.Decimal {
	if o.amount == nil {
		return decimal.Zero
	}
	return *o.amount
}

// HasAmount сообщает, задана ли сумма заказа.
func (o *Order) HasAmount() bool { return o.amount != nil }

func (o *Order) setCustomer(c *Customer) {
	o.customer = c
}

func (o *Order) String() string {
	var customerID int64
	if o.customer != nil {
		customerID = o.customer.id
	}
	return fmt.Sprintf("Order[id=%d, customer='%d', amount='%s']", o.id, customerID, o.Amount().String())
}
