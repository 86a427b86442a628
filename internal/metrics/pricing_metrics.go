package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PricingMetrics содержит метрики валидаций цен и конкуренции за блокировки.
type PricingMetrics struct {
	// Счётчики валидаций
	validationsTotal  prometheus.Counter
	validationsFailed *prometheus.CounterVec

	// Метрики блокировок
	lockWaitDuration prometheus.Histogram
	lockTimeouts     prometheus.Counter

	// Метрики массового обновления цен
	bulkSweeps      prometheus.Counter
	bulkRowsUpdated prometheus.Counter

	// Гистограмма полной длительности валидации
	validationDuration prometheus.Histogram
}

// Причины провала валидации для label reason.
const (
	ReasonBelowMinimum = "below_minimum"
	ReasonLockTimeout  = "lock_timeout"
	ReasonLockMode     = "lock_mode"
	ReasonStorage      = "storage"
)

// NewPricingMetrics создаёт метрики, зарегистрированные в default registry.
func NewPricingMetrics() *PricingMetrics {
	return newPricingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPricingMetricsWithRegisterer(registerer prometheus.Registerer) *PricingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PricingMetrics{
		validationsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pms_validations_total",
			Help: "Total number of minimum sale price validations",
		}),
		validationsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_validations_failed_total",
			Help: "Total number of failed validations by reason",
		}, []string{"reason"}),
		lockWaitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pms_lock_wait_seconds",
			Help:    "Time spent acquiring exclusive row locks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		lockTimeouts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pms_lock_timeouts_total",
			Help: "Total number of lock acquisition timeouts",
		}),
		bulkSweeps: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pms_bulk_price_sweeps_total",
			Help: "Total number of bulk purchase price sweeps started",
		}),
		bulkRowsUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pms_bulk_rows_updated_total",
			Help: "Total number of product rows rewritten by bulk sweeps",
		}),
		validationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pms_validation_duration_seconds",
			Help:    "Duration of full validation passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordValidation увеличивает счётчик выполненных валидаций.
func (m *PricingMetrics) RecordValidation() {
	m.validationsTotal.Inc()
}

// RecordValidationFailed увеличивает счётчик провалов с причиной.
func (m *PricingMetrics) RecordValidationFailed(reason string) {
	m.validationsFailed.WithLabelValues(reason).Inc()
}

// RecordLockWait записывает длительность ожидания блокировок.
func (m *PricingMetrics) RecordLockWait(duration time.Duration) {
	m.lockWaitDuration.Observe(duration.Seconds())
}

// RecordLockTimeout увеличивает счётчик таймаутов блокировок.
func (m *PricingMetrics) RecordLockTimeout() {
	m.lockTimeouts.Inc()
}

// RecordBulkSweep увеличивает счётчик запущенных массовых обновлений.
func (m *PricingMetrics) RecordBulkSweep() {
	m.bulkSweeps.Inc()
}

// RecordBulkRowUpdated увеличивает счётчик перезаписанных строк.
func (m *PricingMetrics) RecordBulkRowUpdated() {
	m.bulkRowsUpdated.Inc()
}

// RecordValidationDuration записывает полную длительность валидации.
func (m *PricingMetrics) RecordValidationDuration(duration time.Duration) {
	m.validationDuration.Observe(duration.Seconds())
}
