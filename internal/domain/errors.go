package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderCustomerRequired — заказ нельзя сохранить без клиента-владельца.
	ErrOrderCustomerRequired = errors.New("order customer is required")
	// ErrTransientReference — ссылка на ещё не сохранённую сущность.
	ErrTransientReference = errors.New("reference to unsaved entity")
	// ErrIdentifierImmutable — попытка сменить уже выданный идентификатор.
	ErrIdentifierImmutable = errors.New("identifier is immutable once assigned")
	// ErrNameRequired — у клиента должны быть имя и фамилия.
	ErrNameRequired = errors.New("first name and last name are required")
	// ErrAmountRequired — у заказа должна быть сумма.
	ErrAmountRequired = errors.New("order amount is required")
	// ErrCustomerNotFound возвращается, если клиента нет в хранилище.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrOrderNotFound возвращается, если заказа нет в хранилище.
	ErrOrderNotFound = errors.New("order not found")
)

// ConstraintError сигнализирует о нарушении обязательного поля или ссылки.
type ConstraintError struct {
	Entity string
	Field  string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: constraint violation: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("%s.%s: constraint violation: %v", e.Entity, e.Field, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// NotFoundError сигнализирует об обращении к несуществующему идентификатору.
type NotFoundError struct {
	Entity string
	ID     int64
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Entity, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// NewConstraintError собирает ConstraintError вокруг sentinel-ошибки.
func NewConstraintError(entity, field string, err error) error {
	return &ConstraintError{Entity: entity, Field: field, Err: err}
}

// CustomerNotFound возвращает NotFoundError для клиента.
func CustomerNotFound(id int64) error {
	return &NotFoundError{Entity: "customer", ID: id, Err: ErrCustomerNotFound}
}

// OrderNotFound возвращает NotFoundError для заказа.
func OrderNotFound(id int64) error {
	return &NotFoundError{Entity: "order", ID: id, Err: ErrOrderNotFound}
}

// IsConstraint проверяет, является ли ошибка нарушением ограничения.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsNotFound проверяет, ссылается ли ошибка на отсутствующую сущность.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
