// Package model holds the data types shared by every core component:
// edges, operations, statuses and the small value types that flow between
// the workload generator, the loader, and a Driver implementation.
package model

import "fmt"

// ShardID identifies the partition an id belongs to. NumShards is a
// process-wide constant chosen at startup and must stay below 127 so a
// shard id can be bit-packed by a driver if it chooses to.
type ShardID int

// MaxShards is the hard ceiling on NumShards (spec: "strictly less than 127").
const MaxShards = 127

// EdgeType is one of the four mutual-exclusion classes a graph edge can
// carry. EdgeSemantics.IncompatibleKeys is the single place these rules are
// interpreted; nothing else should branch on EdgeType.
type EdgeType int

const (
	Unique EdgeType = iota
	Bidirectional
	UniqueAndBidirectional
	Other
)

func (t EdgeType) String() string {
	switch t {
	case Unique:
		return "unique"
	case Bidirectional:
		return "bidirectional"
	case UniqueAndBidirectional:
		return "unique_and_bidirectional"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("edge_type(%d)", int(t))
	}
}

// ParseEdgeType maps a type tag (as rendered by EdgeType.String, and as
// stored in a workload-spec's edge_types field or read back from a
// Driver's BatchRead) to its EdgeType. Unrecognized tags map to Other.
func ParseEdgeType(s string) EdgeType {
	switch s {
	case Unique.String():
		return Unique
	case Bidirectional.String():
		return Bidirectional
	case UniqueAndBidirectional.String():
		return UniqueAndBidirectional
	default:
		return Other
	}
}

// Edge is a directed relation between two ids, typed by EdgeType.
type Edge struct {
	PrimaryKey string
	RemoteKey  string
	Type       EdgeType
}

// Table names the logical table an Operation addresses.
type Table int

const (
	Edges Table = iota
	Objects
)

func (t Table) String() string {
	switch t {
	case Edges:
		return "edges"
	case Objects:
		return "objects"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// OpKind enumerates the eight latency buckets Measurements tracks. It
// mirrors the operation kind an Operation carries, plus the two
// transaction-level kinds a Driver wrapper infers from the first op in a
// transaction.
type OpKind int

const (
	KindInsert OpKind = iota
	KindRead
	KindUpdate
	KindScan
	KindReadModifyWrite
	KindDelete
	KindReadTransaction
	KindWriteTransaction
	numOpKinds
)

// NumOpKinds is the number of distinct latency buckets Measurements holds.
const NumOpKinds = int(numOpKinds)

func (k OpKind) String() string {
	switch k {
	case KindInsert:
		return "Insert"
	case KindRead:
		return "Read"
	case KindUpdate:
		return "Update"
	case KindScan:
		return "Scan"
	case KindReadModifyWrite:
		return "ReadModifyWrite"
	case KindDelete:
		return "Delete"
	case KindReadTransaction:
		return "ReadTxn"
	case KindWriteTransaction:
		return "WriteTxn"
	default:
		return fmt.Sprintf("op_kind(%d)", int(k))
	}
}

// IsWrite reports whether the kind belongs to the {Insert, Update, Delete}
// aggregate Measurements.StatusMessage rolls up under "WRITE".
func (k OpKind) IsWrite() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// IsReadPolarity reports whether an operation of this kind should be
// treated as read-side when deciding a transaction's latency tag
// (READTRANSACTION vs WRITETRANSACTION).
func (k OpKind) IsReadPolarity() bool {
	return k == KindRead || k == KindScan
}

// Status is the harness-level outcome taxonomy every Driver call returns.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusNotFound
	StatusNotImplemented
	StatusContentionError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case StatusContentionError:
		return "CONTENTION_ERROR"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TimestampValue pairs a wall-clock nanosecond stamp with an opaque value.
// Update/Delete are only observable if their Timestamp strictly exceeds the
// stored one (I2).
type TimestampValue struct {
	Timestamp int64
	Value     []byte
}

// Operation is a single request against a Driver. Key has one element for
// Objects ({id}) and three for Edges ({id1, id2, type}); Value is populated
// for writes and ignored for reads.
type Operation struct {
	Table Table
	Key   []string
	Kind  OpKind
	Value TimestampValue
}

// Transaction is an ordered, non-empty, homogeneous (all-read or
// all-write) sequence of Operations.
type Transaction []Operation

// ExperimentInfo names one run-phase configuration: how many worker
// threads to launch, how many operations each issues in total, and the
// aggregate target throughput across all of them.
type ExperimentInfo struct {
	NumThreads       int
	NumOps           int64
	TargetThroughput float64
}

// ClientThreadInfo is what a rate-paced worker reports when it exits.
type ClientThreadInfo struct {
	CompletedOps int64
	OvertimeOps  int64
	FailedOps    int64
}
