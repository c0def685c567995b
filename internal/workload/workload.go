// Package workload is the trace generator (spec.md §4.5): it turns a
// parsed workloadspec.Config plus a keypool.KeyPool into single operations
// and transactions, and drives the load phase's row generation.
package workload

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/keypool"
	"github.com/tracebench/tracebench/internal/loader"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/workloadspec"
)

const (
	// KeyPoolFactor multiplies the expected write-txn op count to size the
	// load phase's key generation target (spec.md §4.5).
	KeyPoolFactor = 3
	// ValueSizeBytes is the fixed length of a generated value (spec.md
	// I4), overriding the C++ source's non-normative local 254.
	ValueSizeBytes = 150

	fieldOperations            = "operations"
	fieldPrimaryShards         = "primary_shards"
	fieldRemoteShards          = "remote_shards"
	fieldEdgeTypes             = "edge_types"
	fieldReadOperationTypes    = "read_operation_types"
	fieldReadTxnOperationTypes = "read_txn_operation_types"
	fieldWriteOperationTypes   = "write_operation_types"
	fieldReadTxnSizes          = "read_txn_sizes"
	fieldWriteTxnSizes         = "write_txn_sizes"
)

// operation selector values for the "operations" implicit field, in the
// fixed order spec.md §4.1 names: {read_op, write_op, read_txn, write_txn}.
const (
	selectReadOp = iota
	selectWriteOp
	selectReadTxn
	selectWriteTxn
)

const valueAlphabet = "abcdefghijklmnopqrstuvwxyz"

// Workload generates requests against one KeyPool under one Config. Each
// worker thread owns its own Workload instance: the PRNG and key counter
// are both thread-local, matching spec.md §4.5's determinism contract.
type Workload struct {
	cfg         *workloadspec.Config
	pool        *keypool.KeyPool
	edgeTable   model.Table
	objectTable model.Table
	rng         *rand.Rand
	threadTag   string
	counter     uint32
}

// New builds a Workload bound to cfg and pool. threadTag should be unique
// per worker (e.g. an 8-character slice of a uuid) so two processes never
// generate colliding keys; rng should not be shared with any other
// Workload. The key counter is seeded to a uniform random 32-bit value, as
// spec.md §4.5 requires.
func New(cfg *workloadspec.Config, pool *keypool.KeyPool, edgeTable, objectTable model.Table, threadTag string, rng *rand.Rand) *Workload {
	return &Workload{
		cfg:         cfg,
		pool:        pool,
		edgeTable:   edgeTable,
		objectTable: objectTable,
		rng:         rng,
		threadTag:   threadTag,
		counter:     rng.Uint32(),
	}
}

func (w *Workload) nextCounter() uint32 {
	w.counter++
	return w.counter
}

// generateKey synthesizes an id of the form <shard>:<threadtag>:<counter>:<nanos>
// (I3). The shard is zero-padded to model.MaxShards' digit width so a
// lexicographic comparison of two keys agrees with a numeric comparison of
// their shards — the run phase's reload partitions the Edges table by
// contiguous shard range using exactly this ordering.
func (w *Workload) generateKey(shard model.ShardID) string {
	return fmt.Sprintf("%03d:%s:%d:%d", shard, w.threadTag, w.nextCounter(), time.Now().UnixNano())
}

// randomValue fabricates a ValueSizeBytes-long value drawn uniformly from [a-z] (I4).
func (w *Workload) randomValue() []byte {
	v := make([]byte, ValueSizeBytes)
	for i := range v {
		v[i] = valueAlphabet[w.rng.Intn(len(valueAlphabet))]
	}
	return v
}

func (w *Workload) randomEdgeType() (model.EdgeType, error) {
	tag, err := w.cfg.SampleType(w.rng, fieldEdgeTypes)
	if err != nil {
		return 0, err
	}
	return model.ParseEdgeType(tag), nil
}

func (w *Workload) randomShard(fieldName string) (model.ShardID, error) {
	v, err := w.cfg.SampleInt(w.rng, fieldName)
	if err != nil {
		return 0, err
	}
	return model.ShardID(v), nil
}

func (w *Workload) randomEdge() (model.Edge, error) {
	return w.pool.RandomEdge(w.rng, func() (model.ShardID, error) {
		return w.randomShard(fieldPrimaryShards)
	})
}

// LoadRow draws primary/remote shards and an edge type from Config,
// synthesizes both endpoint keys, stamps a fresh timestamp and a random
// value, and hands the row to l.WriteToBuffers. Returns the number of
// failed flushes the write triggered.
func (w *Workload) LoadRow(l *loader.Loader) (int, error) {
	primaryShard, err := w.randomShard(fieldPrimaryShards)
	if err != nil {
		return 0, err
	}
	remoteShard, err := w.randomShard(fieldRemoteShards)
	if err != nil {
		return 0, err
	}
	edgeType, err := w.randomEdgeType()
	if err != nil {
		return 0, err
	}

	primaryKey := w.generateKey(primaryShard)
	remoteKey := w.generateKey(remoteShard)
	failed := l.WriteToBuffers(primaryShard, primaryKey, remoteKey, edgeType, time.Now().UnixNano(), w.randomValue())
	return failed, nil
}

// NumKeysToGenerate sums numRequests samples of write_txn_sizes, scaled by
// KeyPoolFactor, to size the load phase's generation target.
func (w *Workload) NumKeysToGenerate(numRequests int64) (int64, error) {
	var total int64
	for i := int64(0); i < numRequests; i++ {
		size, err := w.cfg.SampleInt(w.rng, fieldWriteTxnSizes)
		if err != nil {
			return 0, err
		}
		total += int64(size)
	}
	return total * KeyPoolFactor, nil
}

func tagIsEdgeOp(tag string) bool {
	return strings.Contains(tag, "edge")
}

// ReadOp builds a single read: it samples a read-operation tag (from
// read_operation_types or, for a transaction sub-op, read_txn_operation_types),
// draws a random Edge, and produces an edge or object Read depending on
// the tag.
func (w *Workload) ReadOp(isTxnOp bool) (model.Operation, error) {
	field := fieldReadOperationTypes
	if isTxnOp {
		field = fieldReadTxnOperationTypes
	}
	tag, err := w.cfg.SampleType(w.rng, field)
	if err != nil {
		return model.Operation{}, err
	}

	edge, err := w.randomEdge()
	if err != nil {
		return model.Operation{}, err
	}

	if tagIsEdgeOp(tag) {
		return model.Operation{
			Table: w.edgeTable,
			Key:   []string{edge.PrimaryKey, edge.RemoteKey, edge.Type.String()},
			Kind:  model.KindRead,
		}, nil
	}
	return model.Operation{
		Table: w.objectTable,
		Key:   []string{edge.PrimaryKey},
		Kind:  model.KindRead,
	}, nil
}

// WriteOp builds a single write: it samples a write-operation tag from
// write_operation_types and decodes it to {Insert, Update, Delete} by
// suffix; Insert synthesizes a fresh edge, Update/Delete reuse one drawn
// from the pool.
func (w *Workload) WriteOp(isTxnOp bool) (model.Operation, error) {
	tag, err := w.cfg.SampleType(w.rng, fieldWriteOperationTypes)
	if err != nil {
		return model.Operation{}, err
	}

	kind, err := decodeWriteKind(tag)
	if err != nil {
		return model.Operation{}, err
	}

	var edge model.Edge
	if kind == model.KindInsert {
		primaryShard, err := w.randomShard(fieldPrimaryShards)
		if err != nil {
			return model.Operation{}, err
		}
		remoteShard, err := w.randomShard(fieldRemoteShards)
		if err != nil {
			return model.Operation{}, err
		}
		edgeType, err := w.randomEdgeType()
		if err != nil {
			return model.Operation{}, err
		}
		edge = model.Edge{
			PrimaryKey: w.generateKey(primaryShard),
			RemoteKey:  w.generateKey(remoteShard),
			Type:       edgeType,
		}
	} else {
		edge, err = w.randomEdge()
		if err != nil {
			return model.Operation{}, err
		}
	}

	value := model.TimestampValue{Timestamp: time.Now().UnixNano(), Value: w.randomValue()}

	if tagIsEdgeOp(tag) {
		return model.Operation{
			Table: w.edgeTable,
			Key:   []string{edge.PrimaryKey, edge.RemoteKey, edge.Type.String()},
			Kind:  kind,
			Value: value,
		}, nil
	}
	return model.Operation{
		Table: w.objectTable,
		Key:   []string{edge.PrimaryKey},
		Kind:  kind,
		Value: value,
	}, nil
}

func decodeWriteKind(tag string) (model.OpKind, error) {
	switch {
	case strings.HasSuffix(tag, "add"):
		return model.KindInsert, nil
	case strings.HasSuffix(tag, "update"):
		return model.KindUpdate, nil
	case strings.HasSuffix(tag, "delete"):
		return model.KindDelete, nil
	default:
		return 0, errors.Errorf("workload: unrecognized write operation tag %q", tag)
	}
}

// ReadTransaction samples a size from read_txn_sizes and builds that many
// read sub-ops, all tagged as transaction reads.
func (w *Workload) ReadTransaction() (model.Transaction, error) {
	size, err := w.cfg.SampleInt(w.rng, fieldReadTxnSizes)
	if err != nil {
		return nil, err
	}
	txn := make(model.Transaction, size)
	for i := 0; i < size; i++ {
		op, err := w.ReadOp(true)
		if err != nil {
			return nil, err
		}
		txn[i] = op
	}
	return txn, nil
}

// WriteTransaction samples a size from write_txn_sizes and builds that
// many write sub-ops.
func (w *Workload) WriteTransaction() (model.Transaction, error) {
	size, err := w.cfg.SampleInt(w.rng, fieldWriteTxnSizes)
	if err != nil {
		return nil, err
	}
	txn := make(model.Transaction, size)
	for i := 0; i < size; i++ {
		op, err := w.WriteOp(true)
		if err != nil {
			return nil, err
		}
		txn[i] = op
	}
	return txn, nil
}

// NextRequest samples the "operations" field and dispatches to one of
// {ReadOp, WriteOp, ReadTransaction, WriteTransaction} against drv,
// returning the driver's success boolean.
func (w *Workload) NextRequest(drv driver.Driver) (bool, error) {
	selector, err := w.cfg.SampleInt(w.rng, fieldOperations)
	if err != nil {
		return false, err
	}

	switch selector {
	case selectReadOp:
		op, err := w.ReadOp(false)
		if err != nil {
			return false, err
		}
		_, status := drv.Execute(op)
		return status == model.StatusOK, nil
	case selectWriteOp:
		op, err := w.WriteOp(false)
		if err != nil {
			return false, err
		}
		_, status := drv.Execute(op)
		return status == model.StatusOK, nil
	case selectReadTxn:
		txn, err := w.ReadTransaction()
		if err != nil {
			return false, err
		}
		_, status := drv.ExecuteTransaction(txn, true)
		return status == model.StatusOK, nil
	case selectWriteTxn:
		txn, err := w.WriteTransaction()
		if err != nil {
			return false, err
		}
		_, status := drv.ExecuteTransaction(txn, false)
		return status == model.StatusOK, nil
	default:
		return false, errors.Errorf("workload: operations selector %d out of bounds", selector)
	}
}
