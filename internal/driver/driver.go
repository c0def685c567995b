// Package driver defines the backend-agnostic contract the core consumes
// (spec.md §4.6) plus the registry and auto-instrumenting wrapper described
// in §6's "Environment/driver protocol."
package driver

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/model"
)

// Driver is the contract every backend implements. The core never imports
// a concrete backend — only this interface.
type Driver interface {
	Init() error
	Cleanup() error

	// Read returns at most one value for Objects; for Edges, at most one
	// value per matching row.
	Read(table model.Table, key []string) ([]model.TimestampValue, model.Status)

	// Update is only observable if value.Timestamp > the stored timestamp.
	Update(table model.Table, key []string, value model.TimestampValue) model.Status

	// Insert must fail (StatusContentionError or StatusError) if the
	// insertion would violate the edge semantic invariant (I1).
	Insert(table model.Table, key []string, value model.TimestampValue) model.Status

	// Delete is only observable if value.Timestamp > the stored timestamp.
	Delete(table model.Table, key []string, value model.TimestampValue) model.Status

	// Scan is reserved for future use; a driver may legitimately return
	// StatusNotImplemented.
	Scan(table model.Table, key []string, n int) ([]model.TimestampValue, model.Status)

	// Execute dispatches a single Operation and is latency-tagged to the
	// op's Kind by the instrumenting wrapper.
	Execute(op model.Operation) ([]model.TimestampValue, model.Status)

	// ExecuteTransaction runs ops atomically; it may return
	// StatusContentionError on abort.
	ExecuteTransaction(ops model.Transaction, readOnly bool) ([]model.TimestampValue, model.Status)

	// BatchInsert is a non-transactional bulk insert used by the loader.
	BatchInsert(table model.Table, keys [][]string, values []model.TimestampValue) model.Status

	// BatchRead returns up to n keys strictly between floorKey and
	// ceilingKey, in sorted (id1, id2, type) order. An empty result with
	// StatusOK is a valid terminating condition for reload.
	BatchRead(table model.Table, floorKey, ceilingKey []string, n int) ([][]string, model.Status)
}

// Constructor builds a fresh, unwrapped Driver instance from the resolved
// properties file (spec.md §6's "DBFactory.Create(name, props,
// measurements)"). A driver that needs nothing beyond defaults is free to
// ignore props.
type Constructor func(props config.Properties) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a driver constructor under name. Intended to be called
// from a driver package's init().
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Create looks up name in the registry and constructs a fresh, unwrapped
// Driver using props.
func Create(name string, props config.Properties) (Driver, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("driver: no driver registered under name %q", name)
	}
	return ctor(props)
}

// LatencyReporter is the subset of Measurements the wrapper needs. Kept as
// a narrow interface here (rather than importing the measurements package
// directly) so driver has no dependency on how latencies are aggregated.
type LatencyReporter interface {
	Report(kind model.OpKind, latencyNanos int64)
}

// CreateInstrumented builds a Driver by name and wraps it so every
// Execute/ExecuteTransaction call reports its latency to reporter on
// success, exactly as described in spec.md §6: "DBFactory.Create(name,
// props, measurements) returns a wrapped Driver whose operations are timed
// and automatically reported to Measurements."
func CreateInstrumented(name string, props config.Properties, reporter LatencyReporter) (Driver, error) {
	d, err := Create(name, props)
	if err != nil {
		return nil, err
	}
	return &instrumented{inner: d, reporter: reporter}, nil
}

// Names returns every registered driver name, for CLI validation/listing.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

type instrumented struct {
	inner    Driver
	reporter LatencyReporter
}

func (w *instrumented) Init() error    { return w.inner.Init() }
func (w *instrumented) Cleanup() error { return w.inner.Cleanup() }

func (w *instrumented) Read(table model.Table, key []string) ([]model.TimestampValue, model.Status) {
	return w.inner.Read(table, key)
}

func (w *instrumented) Update(table model.Table, key []string, value model.TimestampValue) model.Status {
	return w.inner.Update(table, key, value)
}

func (w *instrumented) Insert(table model.Table, key []string, value model.TimestampValue) model.Status {
	return w.inner.Insert(table, key, value)
}

func (w *instrumented) Delete(table model.Table, key []string, value model.TimestampValue) model.Status {
	return w.inner.Delete(table, key, value)
}

func (w *instrumented) Scan(table model.Table, key []string, n int) ([]model.TimestampValue, model.Status) {
	return w.inner.Scan(table, key, n)
}

func (w *instrumented) BatchInsert(table model.Table, keys [][]string, values []model.TimestampValue) model.Status {
	return w.inner.BatchInsert(table, keys, values)
}

func (w *instrumented) BatchRead(table model.Table, floorKey, ceilingKey []string, n int) ([][]string, model.Status) {
	return w.inner.BatchRead(table, floorKey, ceilingKey, n)
}

func (w *instrumented) Execute(op model.Operation) ([]model.TimestampValue, model.Status) {
	start := time.Now()
	result, status := w.inner.Execute(op)
	elapsed := time.Since(start)
	if status == model.StatusOK {
		w.reporter.Report(op.Kind, elapsed.Nanoseconds())
	}
	return result, status
}

func (w *instrumented) ExecuteTransaction(ops model.Transaction, readOnly bool) ([]model.TimestampValue, model.Status) {
	if len(ops) == 0 {
		return nil, model.StatusError
	}
	start := time.Now()
	result, status := w.inner.ExecuteTransaction(ops, readOnly)
	elapsed := time.Since(start)
	if status != model.StatusOK {
		return result, status
	}
	kind := model.KindWriteTransaction
	if ops[0].Kind.IsReadPolarity() {
		kind = model.KindReadTransaction
	}
	w.reporter.Report(kind, elapsed.Nanoseconds())
	return result, status
}
