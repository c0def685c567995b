package workload_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebench/tracebench/internal/keypool"
	"github.com/tracebench/tracebench/internal/loader"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/workload"
	"github.com/tracebench/tracebench/internal/workloadspec"
)

func specFixture(t *testing.T) *workloadspec.Config {
	t.Helper()
	const spec = `{"name":"operations","weights":[1,1,1,1]}
{"name":"primary_shards","weights":[1,1]}
{"name":"remote_shards","weights":[1,1]}
{"name":"edge_types","values":["unique","bidirectional","unique_and_bidirectional","other"],"weights":[1,1,1,1]}
{"name":"read_operation_types","values":["obj_read","edge_read"],"weights":[1,1]}
{"name":"read_txn_operation_types","values":["obj_read","edge_read"],"weights":[1,1]}
{"name":"write_operation_types","values":["obj_add","edge_add","obj_update","edge_update","obj_delete","edge_delete"],"weights":[1,1,1,1,1,1]}
{"name":"read_txn_sizes","values":[1,2,3],"weights":[1,1,1]}
{"name":"write_txn_sizes","values":[1,2,3],"weights":[1,1,1]}
`
	cfg, err := workloadspec.Parse(strings.NewReader(spec))
	require.NoError(t, err)
	return cfg
}

// fakeDriver always succeeds and records the last op/transaction it saw.
type fakeDriver struct {
	lastOp  model.Operation
	lastTxn model.Transaction
}

func (f *fakeDriver) Init() error    { return nil }
func (f *fakeDriver) Cleanup() error { return nil }
func (f *fakeDriver) Read(model.Table, []string) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusOK
}
func (f *fakeDriver) Update(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusOK
}
func (f *fakeDriver) Insert(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusOK
}
func (f *fakeDriver) Delete(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusOK
}
func (f *fakeDriver) Scan(model.Table, []string, int) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusOK
}
func (f *fakeDriver) Execute(op model.Operation) ([]model.TimestampValue, model.Status) {
	f.lastOp = op
	return nil, model.StatusOK
}
func (f *fakeDriver) ExecuteTransaction(ops model.Transaction, readOnly bool) ([]model.TimestampValue, model.Status) {
	f.lastTxn = ops
	return nil, model.StatusOK
}
func (f *fakeDriver) BatchInsert(model.Table, [][]string, []model.TimestampValue) model.Status {
	return model.StatusOK
}
func (f *fakeDriver) BatchRead(model.Table, []string, []string, int) ([][]string, model.Status) {
	return nil, model.StatusOK
}

func seedPool() *keypool.KeyPool {
	p := keypool.New()
	p.Add(0, model.Edge{PrimaryKey: "0:t:1:1", RemoteKey: "0:t:2:2", Type: model.Other})
	p.Add(1, model.Edge{PrimaryKey: "1:t:3:3", RemoteKey: "1:t:4:4", Type: model.Unique})
	return p
}

func TestLoadRowAddsEdgeToPool(t *testing.T) {
	cfg := specFixture(t)
	l := loader.New(&fakeDriver{}, model.Edges, model.Objects, nil, nil, nil)
	w := workload.New(cfg, keypool.New(), model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(1)))

	failed, err := w.LoadRow(l)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.EqualValues(t, 1, l.Pool().NumLoadedEdges())
}

func TestNumKeysToGenerateScalesByFactor(t *testing.T) {
	cfg := specFixture(t)
	w := workload.New(cfg, keypool.New(), model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(1)))

	n, err := w.NumKeysToGenerate(10)
	require.NoError(t, err)
	// 10 draws from {1,2,3} uniform => between 10 and 30, times KeyPoolFactor(3).
	assert.GreaterOrEqual(t, n, int64(10*workload.KeyPoolFactor))
	assert.LessOrEqual(t, n, int64(30*workload.KeyPoolFactor))
}

func TestReadOpProducesValidKeyShape(t *testing.T) {
	cfg := specFixture(t)
	pool := seedPool()
	w := workload.New(cfg, pool, model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(2)))

	for i := 0; i < 50; i++ {
		op, err := w.ReadOp(false)
		require.NoError(t, err)
		assert.Equal(t, model.KindRead, op.Kind)
		if op.Table == model.Edges {
			assert.Len(t, op.Key, 3)
		} else {
			assert.Len(t, op.Key, 1)
		}
	}
}

func TestWriteOpInsertSynthesizesFreshKeys(t *testing.T) {
	cfg := specFixture(t)
	pool := seedPool()
	w := workload.New(cfg, pool, model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(3)))

	sawInsert := false
	for i := 0; i < 200 && !sawInsert; i++ {
		op, err := w.WriteOp(false)
		require.NoError(t, err)
		if op.Kind == model.KindInsert {
			sawInsert = true
			assert.NotEmpty(t, op.Value.Value)
			assert.Len(t, op.Value.Value, workload.ValueSizeBytes)
		}
	}
	assert.True(t, sawInsert, "expected at least one Insert across 200 draws")
}

func TestReadTransactionIsHomogeneousReads(t *testing.T) {
	cfg := specFixture(t)
	pool := seedPool()
	w := workload.New(cfg, pool, model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(4)))

	txn, err := w.ReadTransaction()
	require.NoError(t, err)
	require.NotEmpty(t, txn)
	for _, op := range txn {
		assert.Equal(t, model.KindRead, op.Kind)
	}
}

func TestWriteTransactionIsHomogeneousWrites(t *testing.T) {
	cfg := specFixture(t)
	pool := seedPool()
	w := workload.New(cfg, pool, model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(5)))

	txn, err := w.WriteTransaction()
	require.NoError(t, err)
	require.NotEmpty(t, txn)
	for _, op := range txn {
		assert.True(t, op.Kind.IsWrite())
	}
}

func TestNextRequestDispatchesToDriver(t *testing.T) {
	cfg := specFixture(t)
	pool := seedPool()
	w := workload.New(cfg, pool, model.Edges, model.Objects, "abcd1234", rand.New(rand.NewSource(6)))
	drv := &fakeDriver{}

	for i := 0; i < 20; i++ {
		ok, err := w.NextRequest(drv)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
