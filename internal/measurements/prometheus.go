package measurements

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracebench/tracebench/internal/model"
)

// PrometheusCollector adapts a Measurements snapshot into the
// prometheus.Collector interface, so the harness can expose its counters
// over /metrics alongside the text StatusMessage/WriteLatencies output.
// This is a side-channel observer only; StatusMessage's text format and
// Report's atomic semantics remain the source of truth.
type PrometheusCollector struct {
	m *Measurements

	count *prometheus.Desc
	sum   *prometheus.Desc
	min   *prometheus.Desc
	max   *prometheus.Desc
}

// NewPrometheusCollector wraps m for registration against a
// prometheus.Registerer.
func NewPrometheusCollector(m *Measurements) *PrometheusCollector {
	const ns = "tracebench"
	labels := []string{"op_kind"}
	return &PrometheusCollector{
		m:     m,
		count: prometheus.NewDesc(ns+"_op_count_total", "Completed operations per kind", labels, nil),
		sum:   prometheus.NewDesc(ns+"_op_latency_nanos_sum", "Summed latency per kind, nanoseconds", labels, nil),
		min:   prometheus.NewDesc(ns+"_op_latency_nanos_min", "Minimum observed latency per kind, nanoseconds", labels, nil),
		max:   prometheus.NewDesc(ns+"_op_latency_nanos_max", "Maximum observed latency per kind, nanoseconds", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.sum
	ch <- c.min
	ch <- c.max
}

// Collect implements prometheus.Collector, snapshotting the underlying
// Measurements' atomics at scrape time.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for i := 0; i < model.NumOpKinds; i++ {
		kind := model.OpKind(i)
		kc := &c.m.kinds[i]
		cnt := kc.count.Load()
		label := kind.String()

		ch <- prometheus.MustNewConstMetric(c.count, prometheus.CounterValue, float64(cnt), label)
		ch <- prometheus.MustNewConstMetric(c.sum, prometheus.CounterValue, float64(kc.sum.Load()), label)
		if cnt > 0 {
			ch <- prometheus.MustNewConstMetric(c.min, prometheus.GaugeValue, float64(kc.min.Load()), label)
			ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(kc.max.Load()), label)
		}
	}
}
