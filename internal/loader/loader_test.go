package loader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebench/tracebench/internal/loader"
	"github.com/tracebench/tracebench/internal/model"
)

// fakeDriver is an in-memory stand-in exercising only the Driver methods
// Loader calls: BatchInsert and BatchRead.
type fakeDriver struct {
	edgeInsertCalls   int
	objectInsertCalls int
	failNextInsert    bool

	edgeRows [][]string // flattened (id1, id2, type) rows available to BatchRead
}

func (f *fakeDriver) Init() error    { return nil }
func (f *fakeDriver) Cleanup() error { return nil }

func (f *fakeDriver) Read(model.Table, []string) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}
func (f *fakeDriver) Update(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusNotImplemented
}
func (f *fakeDriver) Insert(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusNotImplemented
}
func (f *fakeDriver) Delete(model.Table, []string, model.TimestampValue) model.Status {
	return model.StatusNotImplemented
}
func (f *fakeDriver) Scan(model.Table, []string, int) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}
func (f *fakeDriver) Execute(model.Operation) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}
func (f *fakeDriver) ExecuteTransaction(model.Transaction, bool) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}

func (f *fakeDriver) BatchInsert(table model.Table, keys [][]string, values []model.TimestampValue) model.Status {
	if f.failNextInsert {
		f.failNextInsert = false
		return model.StatusError
	}
	if table == model.Edges {
		f.edgeInsertCalls++
	} else {
		f.objectInsertCalls++
	}
	return model.StatusOK
}

func (f *fakeDriver) BatchRead(table model.Table, floorKey, ceilingKey []string, n int) ([][]string, model.Status) {
	if len(f.edgeRows) == 0 {
		return nil, model.StatusOK
	}
	batch := f.edgeRows
	if len(batch) > n {
		batch = batch[:n]
	}
	f.edgeRows = f.edgeRows[len(batch):]
	return batch, model.StatusOK
}

func edge(primary, remote string) []string {
	return []string{primary, remote, model.Other.String()}
}

func TestWriteToBuffersAccumulatesAndFlushesAtThreshold(t *testing.T) {
	drv := &fakeDriver{}
	l := loader.New(drv, model.Edges, model.Objects, nil, nil, nil)

	for i := 0; i < loader.WriteBatchSize+1; i++ {
		failed := l.WriteToBuffers(0, "0:t:1:1", "0:t:2:2", model.Other, int64(i), []byte("v"))
		assert.Zero(t, failed)
	}

	// edge buffer crossed WriteBatchSize and should have auto-flushed once.
	assert.Equal(t, 1, drv.edgeInsertCalls)
	assert.Equal(t, 1, drv.objectInsertCalls)
	assert.EqualValues(t, loader.WriteBatchSize+1, l.Pool().NumLoadedEdges())
}

func TestFlushFailureIsCountedNotFatal(t *testing.T) {
	drv := &fakeDriver{failNextInsert: true}
	l := loader.New(drv, model.Edges, model.Objects, nil, nil, nil)

	for i := 0; i < loader.WriteBatchSize+1; i++ {
		l.WriteToBuffers(0, "0:t:1:1", "0:t:2:2", model.Other, int64(i), []byte("v"))
	}
	// the first flush to run (object, on call 129) failed; the edge flush
	// on call 257 succeeded.
	assert.Equal(t, 1, drv.edgeInsertCalls)
	assert.Equal(t, 0, drv.objectInsertCalls)
}

// R1: Loader.reloadFromDB followed by KeyPool.numLoadedEdges() returns
// exactly the number of edge rows present in the scanned interval.
func TestReloadFromDBPopulatesKeyPool(t *testing.T) {
	drv := &fakeDriver{edgeRows: [][]string{
		edge("0:t:1:1", "0:t:2:2"),
		edge("0:t:3:3", "0:t:4:4"),
		edge("1:t:5:5", "1:t:6:6"),
	}}
	l := loader.New(drv, model.Edges, model.Objects, []string{"0:t:0:0"}, []string{"2:t:0:0"}, nil)

	failed, err := l.ReloadFromDB()
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.EqualValues(t, 3, l.Pool().NumLoadedEdges())
}

func TestReloadFromDBEmptyIntervalIsNotAnError(t *testing.T) {
	drv := &fakeDriver{}
	l := loader.New(drv, model.Edges, model.Objects, []string{"5:t:0:0"}, []string{"6:t:0:0"}, nil)

	failed, err := l.ReloadFromDB()
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.EqualValues(t, 0, l.Pool().NumLoadedEdges())
}
