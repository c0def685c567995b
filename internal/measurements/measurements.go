// Package measurements records one latency sample per completed operation
// and exposes aggregate counters per op-kind (spec.md §4.7), using
// lock-free atomics for the hot path and a single mutex guarding the
// optional full latency vector — mirroring the three-mutex budget called
// out in spec.md §5.
package measurements

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/util"
)

type counters struct {
	count   atomic.Uint64
	sum     atomic.Uint64
	min     atomic.Uint64
	max     atomic.Uint64
	vecLock sync.Mutex
	vec     []int64
}

// Measurements is the process-wide singleton tracking per-op-kind latency
// aggregates. Reset at the start of each experiment and again after the
// warmup window expires (spec.md §3 Lifecycles).
type Measurements struct {
	kinds      [model.NumOpKinds]counters
	keepVector bool
}

// New returns a Measurements instance. When keepVector is true, Report
// additionally appends every latency to a per-kind vector (guarded by a
// short-held mutex) for post-hoc percentile analysis; callers that only
// need the four running aggregates can pass false to bound memory use.
func New(keepVector bool) *Measurements {
	m := &Measurements{keepVector: keepVector}
	m.Reset()
	return m
}

// Report updates op_kind's four atomic counters and, if enabled, appends
// latencyNanos to its vector under a short lock. No lock is held across
// this call's caller (a Driver call) — Report is invoked only after the
// call returns.
func (m *Measurements) Report(kind model.OpKind, latencyNanos int64) {
	c := &m.kinds[kind]
	c.count.Add(1)
	c.sum.Add(uint64(latencyNanos))

	latency := uint64(latencyNanos)
	for {
		prev := c.min.Load()
		if prev <= latency {
			break
		}
		if c.min.CompareAndSwap(prev, latency) {
			break
		}
	}
	for {
		prev := c.max.Load()
		if prev >= latency {
			break
		}
		if c.max.CompareAndSwap(prev, latency) {
			break
		}
	}

	if m.keepVector {
		c.vecLock.Lock()
		c.vec = append(c.vec, latencyNanos)
		c.vecLock.Unlock()
	}
}

// Count returns the number of reported samples for kind.
func (m *Measurements) Count(kind model.OpKind) uint64 {
	return m.kinds[kind].count.Load()
}

// AverageNanos returns the mean latency for kind, or 0 if it has no
// samples.
func (m *Measurements) AverageNanos(kind model.OpKind) float64 {
	c := &m.kinds[kind]
	cnt := c.count.Load()
	if cnt == 0 {
		return 0
	}
	return float64(c.sum.Load()) / float64(cnt)
}

// GetTotalNumOps sums Count across every kind.
func (m *Measurements) GetTotalNumOps() uint64 {
	var total uint64
	for i := range m.kinds {
		total += m.kinds[i].count.Load()
	}
	return total
}

// StatusMessage renders a per-kind "Count / Max / Min / Avg" (all in
// microseconds) summary plus an aggregate "WRITE" roll-up over
// {Insert, Update, Delete}, prefixed by the total op count.
func (m *Measurements) StatusMessage() string {
	var writeCount uint64
	var writeSum, writeMax float64
	writeMin := math.MaxFloat64

	var total uint64
	var sb strings.Builder
	sb.WriteString(" operations;")

	for i := 0; i < model.NumOpKinds; i++ {
		kind := model.OpKind(i)
		c := &m.kinds[i]
		cnt := c.count.Load()
		if cnt == 0 {
			continue
		}
		total += cnt
		maxUs := float64(c.max.Load()) / 1000.0
		minUs := float64(c.min.Load()) / 1000.0
		sumNs := float64(c.sum.Load())
		avgUs := (sumNs / float64(cnt)) / 1000.0

		sb.WriteString(fmt.Sprintf(" [%s: Count=%d Max=%.2f Min=%.2f Avg=%.2f]", kind, cnt, maxUs, minUs, avgUs))

		if kind.IsWrite() {
			writeCount += cnt
			writeSum += sumNs
			if maxUs > writeMax {
				writeMax = maxUs
			}
			if minUs < writeMin {
				writeMin = minUs
			}
		}
	}

	var writeAvg float64
	if writeCount > 0 {
		writeAvg = (writeSum / float64(writeCount)) / 1000.0
	} else {
		writeMin = 0
	}
	sb.WriteString(fmt.Sprintf(" [WRITE: Count=%d Max=%.2f Min=%.2f Avg=%.2f]", writeCount, writeMax, writeMin, writeAvg))

	return fmt.Sprintf("%d%s", total, sb.String())
}

// WriteLatencies dumps each kind's latency vector to
// <outDir>/<Kind>_<epochMillis>.txt, one nanosecond latency per line, and
// returns the written paths. epochMillis is supplied by the caller
// (typically time.Now().UnixMilli()) so a test can pin the filename.
func (m *Measurements) WriteLatencies(outDir string, epochMillis int64) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "measurements: creating output dir %q", outDir)
	}

	var paths []string
	for i := 0; i < model.NumOpKinds; i++ {
		kind := model.OpKind(i)
		c := &m.kinds[i]

		c.vecLock.Lock()
		vec := make([]int64, len(c.vec))
		copy(vec, c.vec)
		c.vecLock.Unlock()

		path := filepath.Join(outDir, fmt.Sprintf("%s_%d.txt", kind, epochMillis))
		if err := writeLatencyFile(path, vec); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeLatencyFile(path string, vec []int64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "measurements: creating %q", path)
	}
	defer f.Close()

	for _, v := range vec {
		if _, err := fmt.Fprintf(f, "%d\n", v); err != nil {
			return errors.Wrapf(err, "measurements: writing %q", path)
		}
	}
	return nil
}

// Reset clears every counter and vector. Called at the start of each
// experiment and once more after the warmup window expires.
func (m *Measurements) Reset() {
	for i := range m.kinds {
		c := &m.kinds[i]
		c.count.Store(0)
		c.sum.Store(0)
		c.min.Store(math.MaxUint64)
		c.max.Store(0)
		c.vecLock.Lock()
		c.vec = c.vec[:0]
		c.vecLock.Unlock()
	}
}

// Percentiles returns the requested percentiles (0-100) of kind's latency
// vector, sorted ascending. Requires the Measurements to have been built
// with keepVector=true; returns nil if no samples were recorded.
func (m *Measurements) Percentiles(kind model.OpKind, percentiles []int) []int64 {
	c := &m.kinds[kind]
	c.vecLock.Lock()
	vec := make([]int64, len(c.vec))
	copy(vec, c.vec)
	c.vecLock.Unlock()

	if len(vec) == 0 {
		return nil
	}
	return util.CalculatePercentiles(vec, percentiles)
}
