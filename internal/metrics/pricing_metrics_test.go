package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPricingMetrics(t *testing.T) {
	metrics := newPricingMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics.validationsTotal == nil {
		t.Error("validationsTotal counter should not be nil")
	}
	if metrics.validationsFailed == nil {
		t.Error("validationsFailed counter vec should not be nil")
	}
	if metrics.lockWaitDuration == nil {
		t.Error("lockWaitDuration histogram should not be nil")
	}
	if metrics.lockTimeouts == nil {
		t.Error("lockTimeouts counter should not be nil")
	}
	if metrics.bulkRowsUpdated == nil {
		t.Error("bulkRowsUpdated counter should not be nil")
	}
}

func TestRecordValidationCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newPricingMetricsWithRegisterer(registry)

	metrics.RecordValidation()
	metrics.RecordValidation()
	metrics.RecordValidationFailed(ReasonBelowMinimum)
	metrics.RecordLockTimeout()

	if got := counterValue(t, metrics.validationsTotal); got != 2 {
		t.Fatalf("expected 2 validations, got %v", got)
	}
	failed := metrics.validationsFailed.WithLabelValues(ReasonBelowMinimum)
	if got := counterValue(t, failed); got != 1 {
		t.Fatalf("expected 1 failed validation, got %v", got)
	}
	if got := counterValue(t, metrics.lockTimeouts); got != 1 {
		t.Fatalf("expected 1 lock timeout, got %v", got)
	}
}

func TestRecordDurations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newPricingMetricsWithRegisterer(registry)

	metrics.RecordLockWait(15 * time.Millisecond)
	metrics.RecordValidationDuration(40 * time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var lockWaitSamples uint64
	for _, family := range families {
		if family.GetName() == "pms_lock_wait_seconds" {
			for _, metric := range family.GetMetric() {
				lockWaitSamples += metric.GetHistogram().GetSampleCount()
			}
		}
	}
	if lockWaitSamples != 1 {
		t.Fatalf("expected 1 lock wait sample, got %d", lockWaitSamples)
	}
}

func TestReregistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newPricingMetricsWithRegisterer(registry)
	second := newPricingMetricsWithRegisterer(registry)

	first.RecordValidation()
	second.RecordValidation()

	if got := counterValue(t, second.validationsTotal); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
