// Package loader moves rows between the Workload and a Driver in bulk
// (spec.md §4.4): writeToBuffers/flush during the load phase, and
// reloadFromDB's range-scan walk at the start of a run.
package loader

import (
	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/keypool"
	"github.com/tracebench/tracebench/internal/logging"
	"github.com/tracebench/tracebench/internal/model"
)

const (
	// WriteBatchSize is the buffer depth that triggers a flush during load.
	WriteBatchSize = 256
	// ReadBatchSize is the page size for each BatchRead call during reload.
	ReadBatchSize = 500
)

type keyValueRow struct {
	key   []string
	value model.TimestampValue
}

// Loader accumulates rows for one load-phase worker (or reload-phase
// worker) and owns a private KeyPool slice that the caller merges into the
// shared pool once the loader finishes.
type Loader struct {
	drv         driver.Driver
	edgeTable   model.Table
	objectTable model.Table
	logger      logging.Logger

	// startFloorKey/endCeilingKey bound this loader's reload interval,
	// exclusive on both ends; unused by the load phase.
	startFloorKey []string
	endCeilingKey []string

	pool *keypool.KeyPool

	edgeRows   []keyValueRow
	objectRows []keyValueRow
}

// New builds a Loader that writes through drv, bounded (for reload
// purposes) by the interval (startFloorKey, endCeilingKey), exclusive on
// both ends. Either bound may be nil when the loader is only used for the
// load phase. A nil logger falls back to logging.NewDefault().
func New(drv driver.Driver, edgeTable, objectTable model.Table, startFloorKey, endCeilingKey []string, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Loader{
		drv:           drv,
		edgeTable:     edgeTable,
		objectTable:   objectTable,
		logger:        logger,
		startFloorKey: startFloorKey,
		endCeilingKey: endCeilingKey,
		pool:          keypool.New(),
	}
}

// Pool returns the loader's private KeyPool slice, populated by
// WriteToBuffers and ReloadFromDB. Callers merge it into the shared pool.
func (l *Loader) Pool() *keypool.KeyPool {
	return l.pool
}

// WriteToBuffers appends one Edge to the loader's KeyPool slice under
// primaryShard, buffers one edge row and two object rows (one per
// endpoint), and flushes whichever buffer crossed WriteBatchSize. Returns
// the number of failed flushes: 0, 1, or 2 when both buffers cross the
// threshold on the same call and both flushes fail.
func (l *Loader) WriteToBuffers(primaryShard model.ShardID, primaryKey, remoteKey string, edgeType model.EdgeType, timestamp int64, value []byte) int {
	l.pool.Add(primaryShard, model.Edge{PrimaryKey: primaryKey, RemoteKey: remoteKey, Type: edgeType})

	tv := model.TimestampValue{Timestamp: timestamp, Value: value}
	l.edgeRows = append(l.edgeRows, keyValueRow{key: []string{primaryKey, remoteKey, edgeType.String()}, value: tv})
	l.objectRows = append(l.objectRows,
		keyValueRow{key: []string{primaryKey}, value: tv},
		keyValueRow{key: []string{remoteKey}, value: tv},
	)

	failed := 0
	if len(l.edgeRows) > WriteBatchSize {
		if !l.FlushEdgeBuffer() {
			failed++
		}
	}
	if len(l.objectRows) > WriteBatchSize {
		if !l.FlushObjectBuffer() {
			failed++
		}
	}
	return failed
}

// FlushEdgeBuffer calls Driver.BatchInsert on the accumulated edge rows,
// clears the buffer regardless of outcome, and returns true on success. A
// failure is logged, not retried — the load phase's retry policy is none.
func (l *Loader) FlushEdgeBuffer() bool {
	ok := l.flush(l.edgeTable, l.edgeRows)
	l.edgeRows = l.edgeRows[:0]
	return ok
}

// FlushObjectBuffer is FlushEdgeBuffer's counterpart for the object table.
func (l *Loader) FlushObjectBuffer() bool {
	ok := l.flush(l.objectTable, l.objectRows)
	l.objectRows = l.objectRows[:0]
	return ok
}

func (l *Loader) flush(table model.Table, rows []keyValueRow) bool {
	if len(rows) == 0 {
		return true
	}
	keys := make([][]string, len(rows))
	values := make([]model.TimestampValue, len(rows))
	for i, r := range rows {
		keys[i] = r.key
		values[i] = r.value
	}
	status := l.drv.BatchInsert(table, keys, values)
	if status != model.StatusOK {
		l.logger.Warn("batch insert failed", logging.Fields.String("table", table.String()), logging.Fields.String("status", status.String()))
		return false
	}
	return true
}

// ReloadFromDB repeatedly calls Driver.BatchRead to walk the Edges table
// across the loader's (startFloorKey, endCeilingKey) interval, paging
// ReadBatchSize rows at a time, keying each subsequent page from the last
// row of the previous one. Every returned row is added to the loader's
// KeyPool slice. A BatchRead error is fatal — the driver is expected to
// retry internally until it succeeds, so any error surfacing here means
// the attempt is hopeless.
func (l *Loader) ReloadFromDB() (failedCount int, err error) {
	floor := l.startFloorKey
	ceiling := l.endCeilingKey
	numRead := 0

	for {
		rows, status := l.drv.BatchRead(l.edgeTable, floor, ceiling, ReadBatchSize)
		if status != model.StatusOK {
			return failedCount, errors.Errorf("loader: fatal batch read failure: %s", status)
		}
		if len(rows) == 0 {
			break
		}
		numRead += len(rows)
		for _, row := range rows {
			if len(row) != 3 {
				return failedCount, errors.Errorf("loader: malformed edge row %v: expected 3 fields", row)
			}
			shard, err := keypool.ShardOf(row[0])
			if err != nil {
				return failedCount, errors.Wrap(err, "loader")
			}
			l.pool.Add(shard, model.Edge{
				PrimaryKey: row[0],
				RemoteKey:  row[1],
				Type:       model.ParseEdgeType(row[2]),
			})
		}
		floor = rows[len(rows)-1]
	}

	l.logger.Info("reload complete", logging.Fields.Int("rows_read", numRead))
	return failedCount, nil
}
