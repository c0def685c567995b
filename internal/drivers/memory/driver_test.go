package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebench/tracebench/internal/drivers/memory"
	"github.com/tracebench/tracebench/internal/model"
)

func edgeKey(id1, id2, typ string) []string { return []string{id1, id2, typ} }

// P1/S2: a unique edge out of id1 forbids any other edge starting at id1.
func TestInsertRejectsIncompatibleUniqueEdge(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	status := d.Insert(model.Edges, edgeKey("a", "b", model.Unique.String()), model.TimestampValue{Timestamp: 1})
	require.Equal(t, model.StatusOK, status)

	status = d.Insert(model.Edges, edgeKey("a", "c", model.Other.String()), model.TimestampValue{Timestamp: 2})
	assert.Equal(t, model.StatusContentionError, status)
}

// Inserting the exact same (id1, id2, type) twice is rejected even
// though the candidate doesn't itself violate any incompatible-key pattern.
func TestInsertRejectsExactDuplicateEdge(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	key := edgeKey("a", "b", model.Other.String())
	require.Equal(t, model.StatusOK, d.Insert(model.Edges, key, model.TimestampValue{Timestamp: 1}))
	assert.Equal(t, model.StatusContentionError, d.Insert(model.Edges, key, model.TimestampValue{Timestamp: 2}))
}

func TestInsertAllowsCompatibleOtherEdges(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	require.Equal(t, model.StatusOK, d.Insert(model.Edges, edgeKey("a", "b", model.Other.String()), model.TimestampValue{Timestamp: 1}))
	assert.Equal(t, model.StatusOK, d.Insert(model.Edges, edgeKey("a", "c", model.Other.String()), model.TimestampValue{Timestamp: 2}))
}

// P2: Update is only observable if the new timestamp strictly exceeds the
// stored one.
func TestUpdateRequiresStrictlyGreaterTimestamp(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())
	key := edgeKey("a", "b", model.Other.String())
	require.Equal(t, model.StatusOK, d.Insert(model.Edges, key, model.TimestampValue{Timestamp: 10, Value: []byte("v1")}))

	status := d.Update(model.Edges, key, model.TimestampValue{Timestamp: 5, Value: []byte("stale")})
	require.Equal(t, model.StatusOK, status)

	values, status := d.Read(model.Edges, key)
	require.Equal(t, model.StatusOK, status)
	assert.Equal(t, "v1", string(values[0].Value))

	status = d.Update(model.Edges, key, model.TimestampValue{Timestamp: 20, Value: []byte("v2")})
	require.Equal(t, model.StatusOK, status)
	values, _ = d.Read(model.Edges, key)
	assert.Equal(t, "v2", string(values[0].Value))
}

func TestDeleteRequiresStrictlyGreaterTimestamp(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())
	key := edgeKey("a", "b", model.Other.String())
	require.Equal(t, model.StatusOK, d.Insert(model.Edges, key, model.TimestampValue{Timestamp: 10}))

	require.Equal(t, model.StatusOK, d.Delete(model.Edges, key, model.TimestampValue{Timestamp: 1}))
	_, status := d.Read(model.Edges, key)
	require.Equal(t, model.StatusOK, status, "stale delete must not remove the row")

	require.Equal(t, model.StatusOK, d.Delete(model.Edges, key, model.TimestampValue{Timestamp: 99}))
	_, status = d.Read(model.Edges, key)
	assert.Equal(t, model.StatusNotFound, status)
}

func TestReadMissingKeyIsNotFound(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())
	_, status := d.Read(model.Objects, []string{"missing"})
	assert.Equal(t, model.StatusNotFound, status)
}

// A transaction whose second insert conflicts with its own first
// insert must leave neither insert visible.
func TestExecuteTransactionRollsBackOnInternalConflict(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	txn := model.Transaction{
		{Table: model.Edges, Kind: model.KindInsert, Key: edgeKey("a", "b", model.Unique.String()), Value: model.TimestampValue{Timestamp: 1}},
		{Table: model.Edges, Kind: model.KindInsert, Key: edgeKey("a", "c", model.Other.String()), Value: model.TimestampValue{Timestamp: 2}},
	}

	_, status := d.ExecuteTransaction(txn, false)
	assert.Equal(t, model.StatusContentionError, status)

	_, status = d.Read(model.Edges, edgeKey("a", "b", model.Unique.String()))
	assert.Equal(t, model.StatusNotFound, status, "first insert must not survive a transaction that later conflicts")
}

func TestExecuteTransactionCommitsAllOnSuccess(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	txn := model.Transaction{
		{Table: model.Objects, Kind: model.KindInsert, Key: []string{"o1"}, Value: model.TimestampValue{Timestamp: 1, Value: []byte("v")}},
		{Table: model.Edges, Kind: model.KindInsert, Key: edgeKey("a", "b", model.Other.String()), Value: model.TimestampValue{Timestamp: 2}},
	}

	_, status := d.ExecuteTransaction(txn, false)
	require.Equal(t, model.StatusOK, status)

	_, status = d.Read(model.Objects, []string{"o1"})
	assert.Equal(t, model.StatusOK, status)
	_, status = d.Read(model.Edges, edgeKey("a", "b", model.Other.String()))
	assert.Equal(t, model.StatusOK, status)
}

func TestBatchReadReturnsSortedKeysStrictlyBetweenBounds(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	for _, id1 := range []string{"a", "b", "c", "d"} {
		require.Equal(t, model.StatusOK, d.Insert(model.Edges, edgeKey(id1, "x", model.Other.String()), model.TimestampValue{Timestamp: 1}))
	}

	keys, status := d.BatchRead(model.Edges, edgeKey("a", "x", model.Other.String()), edgeKey("c", "x", model.Other.String()), 10)
	require.Equal(t, model.StatusOK, status)
	require.Len(t, keys, 1)
	assert.Equal(t, "b", keys[0][0])
}

// B2: an empty interval is a valid terminating condition, not an error.
func TestBatchReadEmptyIntervalReturnsEmptyOK(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())
	require.Equal(t, model.StatusOK, d.Insert(model.Edges, edgeKey("a", "x", model.Other.String()), model.TimestampValue{Timestamp: 1}))

	keys, status := d.BatchRead(model.Edges, edgeKey("z", "x", model.Other.String()), edgeKey("z", "x", model.Other.String()), 10)
	require.Equal(t, model.StatusOK, status)
	assert.Empty(t, keys)
}

func TestBatchInsertAcceptsCompatibleEdgesAndSkipsConflicts(t *testing.T) {
	d := memory.New()
	require.NoError(t, d.Init())

	keys := [][]string{
		edgeKey("a", "b", model.Unique.String()),
		edgeKey("a", "c", model.Other.String()), // conflicts with the unique edge above; silently dropped
	}
	values := []model.TimestampValue{{Timestamp: 1}, {Timestamp: 2}}

	status := d.BatchInsert(model.Edges, keys, values)
	require.Equal(t, model.StatusOK, status)

	_, status = d.Read(model.Edges, keys[0])
	assert.Equal(t, model.StatusOK, status)
	_, status = d.Read(model.Edges, keys[1])
	assert.Equal(t, model.StatusNotFound, status)
}
