package testsupport

import (
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// family returns the gathered family for name, or nil when nothing was recorded yet.
func family(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Gather sorts families by name.
	idx, found := slices.BinarySearchFunc(mfs, name, func(mf *dto.MetricFamily, n string) int {
		switch {
		case mf.GetName() < n:
			return -1
		case mf.GetName() > n:
			return 1
		}
		return 0
	})
	if !found {
		return nil
	}
	return mfs[idx]
}

// sampleValue is the counter or gauge value, or the observation count of a histogram.
func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

// GetMetricValue returns the first series of metricName whose labels include labelFilter.
// Missing series read as 0, so deltas work before the first observation.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	mf := family(t, metricName)
	for _, m := range mf.GetMetric() {
		if hasLabels(m, labelFilter) {
			return sampleValue(m)
		}
	}
	return 0
}

// SumMetric adds up every series of metricName whose labels include labelFilter,
// e.g. all adjustment kinds of the gift lines counter.
func SumMetric(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	var total float64
	for _, m := range family(t, metricName).GetMetric() {
		if hasLabels(m, labelFilter) {
			total += sampleValue(m)
		}
	}
	return total
}

// AssertMetricDelta asserts that one series moved by exactly expectedDelta while fn ran.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertSumDelta is AssertMetricDelta over the sum of every matching series.
func AssertSumDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := SumMetric(t, metricName, labels)
	fn()
	after := SumMetric(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v summed delta mismatch", metricName, labels)
}

// AssertHistogramRecorded asserts that a histogram series holds at least one observation.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	count := GetMetricValue(t, metricName, labels)
	assert.Greater(t, count, 0.0, "histogram %s%v should have recorded samples", metricName, labels)
}
