package measurements_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebench/tracebench/internal/measurements"
	"github.com/tracebench/tracebench/internal/model"
)

func TestReportThenCount(t *testing.T) {
	cases := []struct {
		name   string
		kind   model.OpKind
		n      int
		expect uint64
	}{
		{name: "single read", kind: model.KindRead, n: 1, expect: 1},
		{name: "ten inserts", kind: model.KindInsert, n: 10, expect: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := measurements.New(true)
			for i := 0; i < tc.n; i++ {
				m.Report(tc.kind, int64(1000+i))
			}
			assert.Equal(t, tc.expect, m.Count(tc.kind))
		})
	}
}

// R2: Measurements.report then statusMessage yields counts equal to the
// number of report calls for each op-kind; after reset(), all counts are
// zero.
func TestStatusMessageReflectsCounts(t *testing.T) {
	m := measurements.New(true)
	for i := 0; i < 10; i++ {
		m.Report(model.KindRead, 5000)
	}

	msg := m.StatusMessage()
	assert.True(t, strings.HasPrefix(msg, "10 "), "expected total op count prefix, got %q", msg)
	assert.Contains(t, msg, "Read: Count=10")

	m.Reset()
	assert.Equal(t, uint64(0), m.Count(model.KindRead))
	assert.Equal(t, uint64(0), m.GetTotalNumOps())
	assert.True(t, strings.HasPrefix(m.StatusMessage(), "0 "))
}

func TestStatusMessageWriteRollup(t *testing.T) {
	m := measurements.New(false)
	m.Report(model.KindInsert, 1000)
	m.Report(model.KindUpdate, 2000)
	m.Report(model.KindDelete, 3000)
	m.Report(model.KindRead, 4000)

	msg := m.StatusMessage()
	assert.Contains(t, msg, "WRITE: Count=3")
}

func TestMinMaxTrackCorrectly(t *testing.T) {
	m := measurements.New(false)
	m.Report(model.KindScan, 500)
	m.Report(model.KindScan, 100)
	m.Report(model.KindScan, 900)

	msg := m.StatusMessage()
	// min/max are rendered in microseconds (ns / 1000).
	assert.Contains(t, msg, "Min=0.10")
	assert.Contains(t, msg, "Max=0.90")
}

func TestWriteLatenciesDumpsOneFilePerKind(t *testing.T) {
	dir := t.TempDir()
	m := measurements.New(true)
	m.Report(model.KindRead, 111)
	m.Report(model.KindRead, 222)

	paths, err := m.WriteLatencies(dir, 1234)
	require.NoError(t, err)
	assert.Len(t, paths, model.NumOpKinds)

	readFile := filepath.Join(dir, "Read_1234.txt")
	data, err := os.ReadFile(readFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	v0, err := strconv.Atoi(lines[0])
	require.NoError(t, err)
	assert.Equal(t, 111, v0)
}

func TestPercentiles(t *testing.T) {
	m := measurements.New(true)
	for i := int64(1); i <= 100; i++ {
		m.Report(model.KindRead, i)
	}
	p := m.Percentiles(model.KindRead, []int{50, 99})
	require.Len(t, p, 2)
	assert.InDelta(t, 51, p[0], 2)
	assert.InDelta(t, 100, p[1], 2)
}

func TestPercentilesEmptyWithoutVector(t *testing.T) {
	m := measurements.New(false)
	m.Report(model.KindRead, 1)
	assert.Nil(t, m.Percentiles(model.KindRead, []int{50}))
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func metricForLabel(f *dto.MetricFamily, label string) *dto.Metric {
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "op_kind" && lp.GetValue() == label {
				return m
			}
		}
	}
	return nil
}

func TestPrometheusCollectorReportsCountAndSum(t *testing.T) {
	m := measurements.New(false)
	m.Report(model.KindRead, 1000)
	m.Report(model.KindRead, 2000)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(measurements.NewPrometheusCollector(m)))

	countFamily := gatherFamily(t, reg, "tracebench_op_count_total")
	metric := metricForLabel(countFamily, model.KindRead.String())
	require.NotNil(t, metric)
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())

	sumFamily := gatherFamily(t, reg, "tracebench_op_latency_nanos_sum")
	metric = metricForLabel(sumFamily, model.KindRead.String())
	require.NotNil(t, metric)
	assert.Equal(t, float64(3000), metric.GetCounter().GetValue())

	maxFamily := gatherFamily(t, reg, "tracebench_op_latency_nanos_max")
	metric = metricForLabel(maxFamily, model.KindRead.String())
	require.NotNil(t, metric)
	assert.Equal(t, float64(2000), metric.GetGauge().GetValue())
}

func TestPrometheusCollectorSkipsMinMaxForEmptyKind(t *testing.T) {
	m := measurements.New(false)
	m.Report(model.KindRead, 1000)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(measurements.NewPrometheusCollector(m)))

	minFamily := gatherFamily(t, reg, "tracebench_op_latency_nanos_min")
	assert.Nil(t, metricForLabel(minFamily, model.KindScan.String()))
	assert.NotNil(t, metricForLabel(minFamily, model.KindRead.String()))
}
