// Package workloadspec parses the workload-spec file (spec.md §4.1, §6)
// into named weighted distributions and exposes thread-safe-by-construction
// sampling: callers bring their own *rand.Rand (typically one per worker)
// so no global lock is needed on the hot path.
package workloadspec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"

	"github.com/pkg/errors"
)

// Kind distinguishes how a field's sampled index maps to a value.
type Kind int

const (
	// KindValues fields carry an explicit "values" array of integers
	// (e.g. write_txn_sizes); the sampled index selects from it.
	KindValues Kind = iota
	// KindTypes fields carry an explicit "values" array of string tags
	// (e.g. edge_types); the sampled index selects from it.
	KindTypes
	// KindImplicit fields omit "values"; the sampled index IS the value
	// (e.g. primary_shards, where bucket position is the shard id).
	KindImplicit
)

var valueFields = map[string]bool{
	"write_txn_sizes": true,
	"read_txn_sizes":  true,
}

var typeFields = map[string]bool{
	"edge_types":                true,
	"read_operation_types":      true,
	"write_operation_types":     true,
	"read_txn_operation_types":  true,
	"write_txn_operation_types": true,
	"errors":                    true,
	"txn_errors":                true,
	"operation_predicates":      true,
	"txn_predicates":            true,
	"txn_predicate_counts":      true,
	"read_tiers":                true,
}

var implicitFields = map[string]bool{
	"read_operation_latency":  true,
	"write_operation_latency": true,
	"operations":              true,
	"write_txn_latency":       true,
	"primary_shards":          true,
	"remote_shards":           true,
}

func classify(name string) (Kind, error) {
	switch {
	case valueFields[name]:
		return KindValues, nil
	case typeFields[name]:
		return KindTypes, nil
	case implicitFields[name]:
		return KindImplicit, nil
	default:
		return 0, errors.Errorf("workloadspec: unrecognized field name %q", name)
	}
}

// ConfigKindError is returned by Sample* when a field is missing, or when
// its declared Kind does not match the accessor that was called.
type ConfigKindError struct {
	Field    string
	Expected Kind
	Actual   Kind
	Missing  bool
}

func (e *ConfigKindError) Error() string {
	if e.Missing {
		return fmt.Sprintf("workloadspec: field %q is not present in the workload spec", e.Field)
	}
	return fmt.Sprintf("workloadspec: field %q has kind %v, expected %v", e.Field, e.Actual, e.Expected)
}

type field struct {
	name    string
	kind    Kind
	intVals []int
	strVals []string
	weights []float64
}

// Config is the parsed set of named weighted distributions. Only
// ResizeShardBuckets modifies it; once resizing is done a *Config is safe
// to share across goroutines, since Sample* calls take an explicit
// *rand.Rand and need no internal locking.
type Config struct {
	fields map[string]*field
}

type rawLine struct {
	Name    string            `json:"name"`
	Values  []json.RawMessage `json:"values"`
	Weights []float64         `json:"weights"`
}

// Parse reads one JSON record per line in the shape
// {"name":"NAME","values":[...],"weights":[...]} (values omitted for
// KindImplicit fields) and builds a Config.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{fields: make(map[string]*field)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, errors.Wrapf(err, "workloadspec: malformed record on line %d", lineNo)
		}
		kind, err := classify(raw.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}

		f := &field{name: raw.Name, kind: kind, weights: raw.Weights}
		switch kind {
		case KindValues:
			f.intVals = make([]int, len(raw.Values))
			for i, v := range raw.Values {
				var n int
				if err := json.Unmarshal(v, &n); err != nil {
					return nil, errors.Wrapf(err, "workloadspec: field %q value %d is not an integer", raw.Name, i)
				}
				f.intVals[i] = n
			}
		case KindTypes:
			f.strVals = make([]string, len(raw.Values))
			for i, v := range raw.Values {
				var s string
				if err := json.Unmarshal(v, &s); err != nil {
					return nil, errors.Wrapf(err, "workloadspec: field %q value %d is not a string", raw.Name, i)
				}
				f.strVals[i] = s
			}
		case KindImplicit:
			// values intentionally absent; index IS the value.
		}

		cfg.fields[f.name] = f
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "workloadspec: reading spec file")
	}
	return cfg, nil
}

// ResizeShardBuckets downsamples a shard-bucketed field ("primary_shards" or
// "remote_shards") by proportional coalescing of adjacent buckets when the
// process's NumShards is smaller than the spec file's bucket count. It is a
// no-op if the field already has NumShards buckets or fewer.
func (c *Config) ResizeShardBuckets(fieldName string, numShards int) error {
	f, ok := c.fields[fieldName]
	if !ok {
		return &ConfigKindError{Field: fieldName, Missing: true}
	}
	if f.kind != KindImplicit {
		return &ConfigKindError{Field: fieldName, Expected: KindImplicit, Actual: f.kind}
	}
	if len(f.weights) <= numShards {
		return nil
	}

	old := f.weights
	resized := make([]float64, numShards)
	interval := float64(len(old)) / float64(numShards)
	oldIdx := 0
	for newIdx := 0; newIdx < numShards; newIdx++ {
		var mass float64
		for float64(oldIdx) < interval*float64(newIdx+1) && oldIdx < len(old) {
			mass += old[oldIdx]
			oldIdx++
		}
		resized[newIdx] = mass
	}
	f.weights = resized
	return nil
}

// weightedIndex draws an index in [0, len(weights)) with probability
// proportional to weights[i], equivalent to std::discrete_distribution.
func weightedIndex(rng *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	target := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if target < cum {
			return i
		}
	}
	return len(weights) - 1
}

// SampleInt draws one value from a KindValues or KindImplicit field: for
// KindValues it returns values[i] for the sampled bucket i; for
// KindImplicit it returns i itself (the shard id, or the 0..3 operation
// selector).
func (c *Config) SampleInt(rng *rand.Rand, fieldName string) (int, error) {
	f, ok := c.fields[fieldName]
	if !ok {
		return 0, &ConfigKindError{Field: fieldName, Missing: true}
	}
	switch f.kind {
	case KindValues:
		idx := weightedIndex(rng, f.weights)
		return f.intVals[idx], nil
	case KindImplicit:
		return weightedIndex(rng, f.weights), nil
	default:
		return 0, &ConfigKindError{Field: fieldName, Expected: KindValues, Actual: f.kind}
	}
}

// SampleType draws one string tag from a KindTypes field.
func (c *Config) SampleType(rng *rand.Rand, fieldName string) (string, error) {
	f, ok := c.fields[fieldName]
	if !ok {
		return "", &ConfigKindError{Field: fieldName, Missing: true}
	}
	if f.kind != KindTypes {
		return "", &ConfigKindError{Field: fieldName, Expected: KindTypes, Actual: f.kind}
	}
	idx := weightedIndex(rng, f.weights)
	return f.strVals[idx], nil
}

// Has reports whether fieldName is present in the parsed spec.
func (c *Config) Has(fieldName string) bool {
	_, ok := c.fields[fieldName]
	return ok
}

func (k Kind) String() string {
	switch k {
	case KindValues:
		return "values"
	case KindTypes:
		return "types"
	case KindImplicit:
		return "implicit"
	default:
		return "unknown"
	}
}
