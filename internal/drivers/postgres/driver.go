package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/edgesemantics"
	"github.com/tracebench/tracebench/internal/logging"
	"github.com/tracebench/tracebench/internal/model"
)

// Name is the registry name this package registers itself under.
const Name = "postgres"

func init() {
	driver.Register(Name, func(props config.Properties) (driver.Driver, error) {
		cfg := config.LoadDatabaseConfig(props)
		edgeTable := props.GetString("edge_table", "edges")
		objectTable := props.GetString("object_table", "objects")
		return New(cfg, nil, edgeTable, objectTable), nil
	})
}

// Driver is a pgx-backed implementation of driver.Driver. Edge inserts are
// built as a single conditional INSERT whose WHERE NOT EXISTS clauses come
// directly from edgesemantics.IncompatibleKeys, so the invariant I1 is
// enforced by the same rules the core reasons about.
type Driver struct {
	pool        *connPool
	edgeTable   string
	objectTable string
}

// New builds an unconnected Driver; Init() establishes the pool and
// ensures the schema exists.
func New(cfg config.DatabaseConfig, logger logging.Logger, edgeTable, objectTable string) *Driver {
	return &Driver{pool: newConnPool(cfg, logger), edgeTable: edgeTable, objectTable: objectTable}
}

func (d *Driver) Init() error {
	ctx := context.Background()
	if err := d.pool.connect(ctx); err != nil {
		return err
	}
	return d.ensureSchema(ctx)
}

func (d *Driver) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			timestamp BIGINT NOT NULL,
			value BYTEA NOT NULL
		)`, d.objectTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id1 TEXT NOT NULL,
			id2 TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			value BYTEA NOT NULL,
			PRIMARY KEY (id1, id2, type)
		)`, d.edgeTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_id1_idx ON %s (id1)`, d.edgeTable, d.edgeTable),
	}
	for _, stmt := range stmts {
		if _, err := d.pool.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "postgres: ensuring schema")
		}
	}
	return nil
}

func (d *Driver) Cleanup() error {
	d.pool.close()
	return nil
}

func (d *Driver) tableName(t model.Table) string {
	if t == model.Edges {
		return d.edgeTable
	}
	return d.objectTable
}

func (d *Driver) Read(table model.Table, key []string) ([]model.TimestampValue, model.Status) {
	ctx := context.Background()
	var row pgx.Row
	if table == model.Edges {
		row = d.pool.pool.QueryRow(ctx, fmt.Sprintf("SELECT timestamp, value FROM %s WHERE id1=$1 AND id2=$2 AND type=$3", d.edgeTable), key[0], key[1], key[2])
	} else {
		row = d.pool.pool.QueryRow(ctx, fmt.Sprintf("SELECT timestamp, value FROM %s WHERE id=$1", d.objectTable), key[0])
	}

	var tv model.TimestampValue
	if err := row.Scan(&tv.Timestamp, &tv.Value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.StatusNotFound
		}
		return nil, model.StatusError
	}
	return []model.TimestampValue{tv}, model.StatusOK
}

func (d *Driver) Update(table model.Table, key []string, value model.TimestampValue) model.Status {
	ctx := context.Background()
	var tag pgx.CommandTag
	var err error
	if table == model.Edges {
		tag, err = d.pool.pool.Exec(ctx,
			fmt.Sprintf("UPDATE %s SET timestamp=$4, value=$5 WHERE id1=$1 AND id2=$2 AND type=$3 AND $4 > timestamp", d.edgeTable),
			key[0], key[1], key[2], value.Timestamp, value.Value)
	} else {
		tag, err = d.pool.pool.Exec(ctx,
			fmt.Sprintf("UPDATE %s SET timestamp=$2, value=$3 WHERE id=$1 AND $2 > timestamp", d.objectTable),
			key[0], value.Timestamp, value.Value)
	}
	if err != nil {
		return model.StatusError
	}
	_ = tag
	return model.StatusOK
}

func (d *Driver) Delete(table model.Table, key []string, value model.TimestampValue) model.Status {
	ctx := context.Background()
	var err error
	if table == model.Edges {
		_, err = d.pool.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id1=$1 AND id2=$2 AND type=$3 AND $4 > timestamp", d.edgeTable),
			key[0], key[1], key[2], value.Timestamp)
	} else {
		_, err = d.pool.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id=$1 AND $2 > timestamp", d.objectTable),
			key[0], value.Timestamp)
	}
	if err != nil {
		return model.StatusError
	}
	return model.StatusOK
}

func (d *Driver) Scan(table model.Table, key []string, n int) ([]model.TimestampValue, model.Status) {
	return nil, model.StatusNotImplemented
}

func (d *Driver) Insert(table model.Table, key []string, value model.TimestampValue) model.Status {
	ctx := context.Background()
	if table == model.Objects {
		tag, err := d.pool.pool.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (id, timestamp, value) VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING", d.objectTable),
			key[0], value.Timestamp, value.Value)
		if err != nil {
			return model.StatusError
		}
		_ = tag
		return model.StatusOK
	}

	candidate := model.Edge{PrimaryKey: key[0], RemoteKey: key[1], Type: model.ParseEdgeType(key[2])}
	sql, args := d.buildEdgeInsertSQL(candidate, value)
	tag, err := d.pool.pool.Exec(ctx, sql, args...)
	if err != nil {
		return model.StatusError
	}
	if tag.RowsAffected() == 0 {
		return model.StatusContentionError
	}
	return model.StatusOK
}

// buildEdgeInsertSQL constructs a conditional INSERT whose WHERE clause
// rejects the insert if any of edgesemantics.IncompatibleKeys(candidate)
// is already present, plus an ON CONFLICT guard against an exact
// duplicate.
func (d *Driver) buildEdgeInsertSQL(candidate model.Edge, value model.TimestampValue) (string, []interface{}) {
	args := []interface{}{candidate.PrimaryKey, candidate.RemoteKey, candidate.Type.String(), value.Timestamp, value.Value}

	var conds []string
	for _, pattern := range edgesemantics.IncompatibleKeys(candidate) {
		var clauses []string
		args = append(args, pattern.ID1)
		clauses = append(clauses, fmt.Sprintf("id1 = $%d", len(args)))
		if pattern.HasID2 {
			args = append(args, pattern.ID2)
			clauses = append(clauses, fmt.Sprintf("id2 = $%d", len(args)))
		}
		if pattern.HasType {
			args = append(args, pattern.Type.String())
			clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
		}
		conds = append(conds, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE %s)", d.edgeTable, strings.Join(clauses, " AND ")))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id1, id2, type, timestamp, value)
		SELECT $1, $2, $3, $4, $5
		%s
		ON CONFLICT (id1, id2, type) DO NOTHING`, d.edgeTable, where)
	return sql, args
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

func (d *Driver) ExecuteTransaction(ops model.Transaction, readOnly bool) ([]model.TimestampValue, model.Status) {
	ctx := context.Background()
	txOpts := pgx.TxOptions{}
	if readOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}

	tx, err := d.pool.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, model.StatusError
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var results []model.TimestampValue
	for _, op := range ops {
		values, status := d.executeInTx(ctx, tx, op)
		if status != model.StatusOK {
			return nil, status
		}
		results = append(results, values...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, model.StatusContentionError
	}
	return results, model.StatusOK
}

func (d *Driver) executeInTx(ctx context.Context, tx pgx.Tx, op model.Operation) ([]model.TimestampValue, model.Status) {
	switch op.Kind {
	case model.KindRead, model.KindScan:
		var row pgx.Row
		if op.Table == model.Edges {
			row = tx.QueryRow(ctx, fmt.Sprintf("SELECT timestamp, value FROM %s WHERE id1=$1 AND id2=$2 AND type=$3", d.edgeTable), op.Key[0], op.Key[1], op.Key[2])
		} else {
			row = tx.QueryRow(ctx, fmt.Sprintf("SELECT timestamp, value FROM %s WHERE id=$1", d.objectTable), op.Key[0])
		}
		var tv model.TimestampValue
		if err := row.Scan(&tv.Timestamp, &tv.Value); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, model.StatusNotFound
			}
			return nil, model.StatusError
		}
		return []model.TimestampValue{tv}, model.StatusOK

	case model.KindInsert:
		if op.Table == model.Objects {
			tag, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (id, timestamp, value) VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING", d.objectTable),
				op.Key[0], op.Value.Timestamp, op.Value.Value)
			if err != nil {
				return nil, model.StatusError
			}
			_ = tag
			return nil, model.StatusOK
		}
		candidate := model.Edge{PrimaryKey: op.Key[0], RemoteKey: op.Key[1], Type: model.ParseEdgeType(op.Key[2])}
		sql, args := d.buildEdgeInsertSQL(candidate, op.Value)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return nil, model.StatusError
		}
		if tag.RowsAffected() == 0 {
			return nil, model.StatusContentionError
		}
		return nil, model.StatusOK

	case model.KindUpdate:
		var err error
		if op.Table == model.Edges {
			_, err = tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET timestamp=$4, value=$5 WHERE id1=$1 AND id2=$2 AND type=$3 AND $4 > timestamp", d.edgeTable),
				op.Key[0], op.Key[1], op.Key[2], op.Value.Timestamp, op.Value.Value)
		} else {
			_, err = tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET timestamp=$2, value=$3 WHERE id=$1 AND $2 > timestamp", d.objectTable),
				op.Key[0], op.Value.Timestamp, op.Value.Value)
		}
		if err != nil {
			return nil, model.StatusError
		}
		return nil, model.StatusOK

	case model.KindDelete:
		var err error
		if op.Table == model.Edges {
			_, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id1=$1 AND id2=$2 AND type=$3 AND $4 > timestamp", d.edgeTable),
				op.Key[0], op.Key[1], op.Key[2], op.Value.Timestamp)
		} else {
			_, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=$1 AND $2 > timestamp", d.objectTable),
				op.Key[0], op.Value.Timestamp)
		}
		if err != nil {
			return nil, model.StatusError
		}
		return nil, model.StatusOK

	default:
		return nil, model.StatusNotImplemented
	}
}

func (d *Driver) BatchInsert(table model.Table, keys [][]string, values []model.TimestampValue) model.Status {
	ctx := context.Background()
	batch := &pgx.Batch{}
	if table == model.Objects {
		for i, key := range keys {
			batch.Queue(fmt.Sprintf("INSERT INTO %s (id, timestamp, value) VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING", d.objectTable),
				key[0], values[i].Timestamp, values[i].Value)
		}
	} else {
		for i, key := range keys {
			batch.Queue(fmt.Sprintf("INSERT INTO %s (id1, id2, type, timestamp, value) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id1, id2, type) DO NOTHING", d.edgeTable),
				key[0], key[1], key[2], values[i].Timestamp, values[i].Value)
		}
	}

	results := d.pool.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range keys {
		if _, err := results.Exec(); err != nil {
			return model.StatusError
		}
	}
	return model.StatusOK
}

func (d *Driver) BatchRead(table model.Table, floorKey, ceilingKey []string, n int) ([][]string, model.Status) {
	ctx := context.Background()
	var sql string
	var args []interface{}
	if len(floorKey) == 3 {
		sql = fmt.Sprintf(`SELECT id1, id2, type FROM %s
			WHERE (id1, id2, type) > ($1, $2, $3) AND (id1, id2, type) < ($4, $5, $6)
			ORDER BY id1, id2, type LIMIT $7`, d.edgeTable)
		args = []interface{}{floorKey[0], floorKey[1], floorKey[2], ceilingKey[0], ceilingKey[1], ceilingKey[2], n}
	} else {
		sql = fmt.Sprintf(`SELECT id1, id2, type FROM %s
			WHERE (id1, id2, type) < ($1, $2, $3)
			ORDER BY id1, id2, type LIMIT $4`, d.edgeTable)
		args = []interface{}{ceilingKey[0], ceilingKey[1], ceilingKey[2], n}
	}

	rows, err := d.pool.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, model.StatusError
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var id1, id2, typ string
		if err := rows.Scan(&id1, &id2, &typ); err != nil {
			return nil, model.StatusError
		}
		out = append(out, []string{id1, id2, typ})
	}
	if err := rows.Err(); err != nil {
		return nil, model.StatusError
	}
	return out, model.StatusOK
}
