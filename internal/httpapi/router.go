// Package httpapi — REST API CRM поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// CustomerService — операции, которые API вызывает у сервисного слоя.
type CustomerService interface {
	Register(ctx context.Context, firstName, lastName string) (*domain.Customer, error)
	Get(ctx context.Context, id int64) (*domain.Customer, error)
	FindByLastName(ctx context.Context, lastName string) ([]*domain.Customer, error)
	List(ctx context.Context) ([]*domain.Customer, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
	AddOrder(ctx context.Context, customerID int64, amount decimal.Decimal) (*domain.Order, error)
	RemoveOrder(ctx context.Context, customerID, orderID int64) error
	ClearOrders(ctx context.Context, customerID int64) error
	Orders(ctx context.Context, customerID int64) ([]*domain.Order, error)
	AddFriend(ctx context.Context, customerID, friendID int64) error
	RemoveFriend(ctx context.Context, customerID, friendID int64) error
	FriendedBy(ctx context.Context, friendID int64) ([]*domain.Customer, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
	CountOrders(ctx context.Context) (int, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
}

// RequestObserver получает метрики завершённых запросов.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, duration time.Duration)
}

// Handler обслуживает /api.
type Handler struct {
	svc    CustomerService
	logger *log.Entry
}

// NewRouter собирает chi-роутер API. observer может быть nil.
func NewRouter(svc CustomerService, logger *log.Entry, observer RequestObserver) http.Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if observer != nil {
		r.Use(instrument(observer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.createCustomer)
			r.Get("/", h.listCustomers)
			r.Get("/count", h.countCustomers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCustomer)
				r.Delete("/", h.deleteCustomer)
				r.Post("/orders", h.addOrder)
				r.Get("/orders", h.customerOrders)
				r.Delete("/orders", h.clearOrders)
				r.Delete("/orders/{orderID}", h.removeOrder)
				r.Put("/friends/{friendID}", h.addFriend)
				r.Delete("/friends/{friendID}", h.removeFriend)
				r.Get("/friended-by", h.friendedBy)
			})
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Get("/count", h.countOrders)
			r.Get("/{id}", h.getOrder)
		})
	})
	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
			}).Debug("http request")
		})
	}
}

// instrument пишет метрики по шаблону маршрута, чтобы id не раздували кардинальность.
func instrument(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}
