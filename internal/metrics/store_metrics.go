// Package metrics содержит Prometheus-метрики хранилища, сервиса и outbox.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// StoreMetrics считает зафиксированные изменения и длительность операций сервиса.
type StoreMetrics struct {
	changes           *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
}

// NewStoreMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegisterer регистрирует метрики в заданном registerer.
func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		changes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "crm_store_changes_total",
			Help: "Total number of committed store changes grouped by kind",
		}, []string{"kind"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "crm_operation_duration_seconds",
			Help:    "Duration of customer service operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
		operationErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "crm_operation_errors_total",
			Help: "Total number of failed customer service operations grouped by reason",
		}, []string{"operation", "reason"}),
	}
}

// ObserveChanges реализует domain.ChangeObserver.
func (m *StoreMetrics) ObserveChanges(changes []domain.Change) {
	for _, ch := range changes {
		m.changes.WithLabelValues(string(ch.Kind)).Inc()
	}
}

// ObserveOperation записывает длительность операции и, при ошибке, её причину.
func (m *StoreMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation, ErrorReason(err)).Inc()
	}
}

// ErrorReason классифицирует ошибку для метки reason.
func ErrorReason(err error) string {
	switch {
	case domain.IsConstraint(err):
		return "constraint"
	case domain.IsNotFound(err):
		return "not_found"
	default:
		return "internal"
	}
}

var _ domain.ChangeObserver = (*StoreMetrics)(nil)
