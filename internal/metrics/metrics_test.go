package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if len(m.Collectors()) != 5 {
		t.Errorf("expected 5 collectors, got %d", len(m.Collectors()))
	}
}

func TestRegisterAndGather(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.IncRejection("duplicate_open")
	m.IncStale()
	m.IncDeltaOverflow(3)
	m.ObserveAggregationDuration(0.25)
	m.IncStoreError("store_transient")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	expected := map[string]bool{
		MetricIngestRejectionsTotal: false,
		MetricIngestStaleTotal:      false,
		MetricDeltaOverflowTotal:    false,
		MetricAggregationDuration:   false,
		MetricStoreErrorsTotal:      false,
	}
	for _, family := range families {
		if _, ok := expected[family.GetName()]; ok {
			expected[family.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}
}
