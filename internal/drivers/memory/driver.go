// Package memory is a reference Driver (spec.md §4.6) backed by in-process
// maps rather than a real database. It is grounded on the harness's
// TestDB — originally a pure stdout logging stub — generalized here into an
// actual store so the edge semantic invariant (I1) and timestamp
// monotonicity (I2) are independently testable without a live Postgres
// instance.
package memory

import (
	"sort"
	"sync"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/edgesemantics"
	"github.com/tracebench/tracebench/internal/model"
)

// Name is the registry name this package registers itself under.
const Name = "memory"

func init() {
	driver.Register(Name, func(props config.Properties) (driver.Driver, error) { return New(), nil })
}

type edgeRecord struct {
	id1, id2, typ string
	value         model.TimestampValue
}

// Driver stores edges and objects in plain maps guarded by a single mutex.
// It is safe for concurrent use by multiple worker goroutines.
type Driver struct {
	mu      sync.RWMutex
	edges   map[string]edgeRecord
	objects map[string]model.TimestampValue
}

// New returns an empty Driver. Its data survives Init/Cleanup so a test can
// load through one phase and reload/run through a second against the same
// instance.
func New() *Driver {
	return &Driver{
		edges:   make(map[string]edgeRecord),
		objects: make(map[string]model.TimestampValue),
	}
}

func (d *Driver) Init() error    { return nil }
func (d *Driver) Cleanup() error { return nil }

func edgeMapKey(id1, id2, typ string) string {
	return id1 + "\x00" + id2 + "\x00" + typ
}

func (d *Driver) Read(table model.Table, key []string) ([]model.TimestampValue, model.Status) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if table == model.Objects {
		tv, ok := d.objects[key[0]]
		if !ok {
			return nil, model.StatusNotFound
		}
		return []model.TimestampValue{tv}, model.StatusOK
	}

	rec, ok := d.edges[edgeMapKey(key[0], key[1], key[2])]
	if !ok {
		return nil, model.StatusNotFound
	}
	return []model.TimestampValue{rec.value}, model.StatusOK
}

func (d *Driver) Update(table model.Table, key []string, value model.TimestampValue) model.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if table == model.Objects {
		existing, ok := d.objects[key[0]]
		if !ok {
			return model.StatusNotFound
		}
		if value.Timestamp > existing.Timestamp {
			d.objects[key[0]] = value
		}
		return model.StatusOK
	}

	mapKey := edgeMapKey(key[0], key[1], key[2])
	rec, ok := d.edges[mapKey]
	if !ok {
		return model.StatusNotFound
	}
	if value.Timestamp > rec.value.Timestamp {
		rec.value = value
		d.edges[mapKey] = rec
	}
	return model.StatusOK
}

func (d *Driver) Delete(table model.Table, key []string, value model.TimestampValue) model.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if table == model.Objects {
		existing, ok := d.objects[key[0]]
		if !ok {
			return model.StatusNotFound
		}
		if value.Timestamp > existing.Timestamp {
			delete(d.objects, key[0])
		}
		return model.StatusOK
	}

	mapKey := edgeMapKey(key[0], key[1], key[2])
	rec, ok := d.edges[mapKey]
	if !ok {
		return model.StatusNotFound
	}
	if value.Timestamp > rec.value.Timestamp {
		delete(d.edges, mapKey)
	}
	return model.StatusOK
}

func (d *Driver) Scan(table model.Table, key []string, n int) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}

func (d *Driver) Insert(table model.Table, key []string, value model.TimestampValue) model.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return insertInto(d.edges, d.objects, table, key, value)
}

// insertInto performs the actual insert against the given maps, so both a
// direct Insert call and a transaction's working copy share one
// implementation of the edge semantic invariant (I1).
func insertInto(edges map[string]edgeRecord, objects map[string]model.TimestampValue, table model.Table, key []string, value model.TimestampValue) model.Status {
	if table == model.Objects {
		if _, exists := objects[key[0]]; exists {
			return model.StatusOK
		}
		objects[key[0]] = value
		return model.StatusOK
	}

	candidate := model.Edge{PrimaryKey: key[0], RemoteKey: key[1], Type: model.ParseEdgeType(key[2])}
	mapKey := edgeMapKey(key[0], key[1], key[2])
	if _, exists := edges[mapKey]; exists {
		return model.StatusContentionError
	}
	for _, pattern := range edgesemantics.IncompatibleKeys(candidate) {
		for _, existing := range edges {
			if pattern.Matches(model.Edge{PrimaryKey: existing.id1, RemoteKey: existing.id2, Type: model.ParseEdgeType(existing.typ)}) {
				return model.StatusContentionError
			}
		}
	}
	edges[mapKey] = edgeRecord{id1: key[0], id2: key[1], typ: key[2], value: value}
	return model.StatusOK
}

func (d *Driver) Execute(op model.Operation) ([]model.TimestampValue, model.Status) {
	switch op.Kind {
	case model.KindRead, model.KindScan:
		return d.Read(op.Table, op.Key)
	case model.KindInsert:
		return nil, d.Insert(op.Table, op.Key, op.Value)
	case model.KindUpdate:
		return nil, d.Update(op.Table, op.Key, op.Value)
	case model.KindDelete:
		return nil, d.Delete(op.Table, op.Key, op.Value)
	default:
		return nil, model.StatusNotImplemented
	}
}

// ExecuteTransaction applies every op against a working copy of the store
// and only commits it if every op succeeds, so a later op's conflict (e.g.
// an Insert that would violate I1 against an edge a prior op in the same
// transaction just added) never leaves a partial write behind.
func (d *Driver) ExecuteTransaction(ops model.Transaction, readOnly bool) ([]model.TimestampValue, model.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	edges := make(map[string]edgeRecord, len(d.edges))
	for k, v := range d.edges {
		edges[k] = v
	}
	objects := make(map[string]model.TimestampValue, len(d.objects))
	for k, v := range d.objects {
		objects[k] = v
	}

	var results []model.TimestampValue
	for _, op := range ops {
		switch op.Kind {
		case model.KindRead, model.KindScan:
			if op.Table == model.Objects {
				tv, ok := objects[op.Key[0]]
				if !ok {
					return nil, model.StatusNotFound
				}
				results = append(results, tv)
				continue
			}
			rec, ok := edges[edgeMapKey(op.Key[0], op.Key[1], op.Key[2])]
			if !ok {
				return nil, model.StatusNotFound
			}
			results = append(results, rec.value)

		case model.KindInsert:
			if status := insertInto(edges, objects, op.Table, op.Key, op.Value); status != model.StatusOK {
				return nil, status
			}

		case model.KindUpdate:
			if op.Table == model.Objects {
				existing, ok := objects[op.Key[0]]
				if !ok {
					return nil, model.StatusNotFound
				}
				if op.Value.Timestamp > existing.Timestamp {
					objects[op.Key[0]] = op.Value
				}
				continue
			}
			mapKey := edgeMapKey(op.Key[0], op.Key[1], op.Key[2])
			rec, ok := edges[mapKey]
			if !ok {
				return nil, model.StatusNotFound
			}
			if op.Value.Timestamp > rec.value.Timestamp {
				rec.value = op.Value
				edges[mapKey] = rec
			}

		case model.KindDelete:
			if op.Table == model.Objects {
				existing, ok := objects[op.Key[0]]
				if !ok {
					return nil, model.StatusNotFound
				}
				if op.Value.Timestamp > existing.Timestamp {
					delete(objects, op.Key[0])
				}
				continue
			}
			mapKey := edgeMapKey(op.Key[0], op.Key[1], op.Key[2])
			rec, ok := edges[mapKey]
			if !ok {
				return nil, model.StatusNotFound
			}
			if op.Value.Timestamp > rec.value.Timestamp {
				delete(edges, mapKey)
			}

		default:
			return nil, model.StatusNotImplemented
		}
	}

	d.edges = edges
	d.objects = objects
	return results, model.StatusOK
}

func (d *Driver) BatchInsert(table model.Table, keys [][]string, values []model.TimestampValue) model.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, key := range keys {
		insertInto(d.edges, d.objects, table, key, values[i])
	}
	return model.StatusOK
}

func (d *Driver) BatchRead(table model.Table, floorKey, ceilingKey []string, n int) ([][]string, model.Status) {
	if table == model.Objects {
		return nil, model.StatusNotImplemented
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	triples := make([][3]string, 0, len(d.edges))
	for _, rec := range d.edges {
		triples = append(triples, [3]string{rec.id1, rec.id2, rec.typ})
	}
	sort.Slice(triples, func(i, j int) bool { return lessTriple(triples[i], triples[j]) })

	ceiling := [3]string{ceilingKey[0], ceilingKey[1], ceilingKey[2]}
	hasFloor := len(floorKey) == 3
	var floor [3]string
	if hasFloor {
		floor = [3]string{floorKey[0], floorKey[1], floorKey[2]}
	}

	var out [][]string
	for _, t := range triples {
		if hasFloor && !lessTriple(floor, t) {
			continue
		}
		if !lessTriple(t, ceiling) {
			continue
		}
		out = append(out, []string{t[0], t[1], t[2]})
		if len(out) == n {
			break
		}
	}
	return out, model.StatusOK
}

func lessTriple(a, b [3]string) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
