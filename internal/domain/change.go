package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind описывает тип зафиксированного изменения в хранилище.
type ChangeKind string

const (
	ChangeCustomerSaved       ChangeKind = "customer.saved"
	ChangeCustomerDeleted     ChangeKind = "customer.deleted"
	ChangeOrderSaved          ChangeKind = "order.saved"
	ChangeOrderOrphanRemoved  ChangeKind = "order.orphan_removed"
	ChangeOrderCascadeDeleted ChangeKind = "order.cascade_deleted"
)

// Change — одно изменение, ставшее видимым после коммита операции.
type Change struct {
	Kind       ChangeKind
	CustomerID int64
	// OrderID заполняется только для изменений заказов.
	OrderID int64
	Amount  decimal.Decimal
	At      time.Time
}

// ChangeObserver получает изменения после успешного коммита.
// Наблюдатель не влияет на результат операции.
type ChangeObserver interface {
	ObserveChanges(changes []Change)
}

// ChangeObserverFunc позволяет использовать функцию как ChangeObserver.
type ChangeObserverFunc func(changes []Change)

func (f ChangeObserverFunc) ObserveChanges(changes []Change) { f(changes) }

// Observers рассылает изменения нескольким наблюдателям по порядку.
type Observers []ChangeObserver

func (o Observers) ObserveChanges(changes []Change) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveChanges(changes)
		}
	}
}
