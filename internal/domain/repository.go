package domain

import "context"

// CustomerRepository описывает хранилище клиентов. Запись клиента
// каскадно сохраняет его заказы и удаляет отвязанные (orphan removal).
type CustomerRepository interface {
	// Save вставляет или обновляет клиента вместе с его заказами и друзьями.
	// Заказы, ранее принадлежавшие клиенту и отсутствующие в его множестве, удаляются.
	Save(ctx context.Context, customer *Customer) (*Customer, error)
	// SaveAll сохраняет клиентов по порядку в одной транзакции.
	SaveAll(ctx context.Context, customers []*Customer) ([]*Customer, error)
	// Update загружает клиента, применяет к нему fn и сохраняет результат
	// атомарно относительно других записей. Ошибка fn откатывает изменения.
	Update(ctx context.Context, id int64, fn func(*Customer) error) (*Customer, error)
	// Delete удаляет клиента и все его заказы. Друзья не затрагиваются.
	Delete(ctx context.Context, customer *Customer) error
	// FindByID возвращает клиента или NotFoundError.
	FindByID(ctx context.Context, id int64) (*Customer, error)
	FindAll(ctx context.Context) ([]*Customer, error)
	FindByLastName(ctx context.Context, lastName string) ([]*Customer, error)
	// FindByFriendsContains возвращает клиентов, добавивших friend в друзья.
	FindByFriendsContains(ctx context.Context, friend *Customer) ([]*Customer, error)
	Count(ctx context.Context) (int, error)
}

// OrderRepository описывает хранилище заказов.
type OrderRepository interface {
	// Save сохраняет заказ уже сохранённого клиента.
	Save(ctx context.Context, order *Order) (*Order, error)
	// FindByID возвращает заказ или NotFoundError.
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindAll(ctx context.Context) ([]*Order, error)
	FindByCustomer(ctx context.Context, customer *Customer) ([]*Order, error)
	Count(ctx context.Context) (int, error)
}
