package driver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dbbridge/core"
	"dbbridge/sqlbuild"
)

// SQLiteDriver serves file-backed SQLite databases. Every operation
// opens a fresh handle against the file and closes it when done; the
// file itself is the durable state, so there is nothing worth pooling.
type SQLiteDriver struct {
	cfg    core.ConnectionConfig
	logger *zap.SugaredLogger
}

func NewSQLiteDriver(cfg core.ConnectionConfig, logger *zap.SugaredLogger) *SQLiteDriver {
	return &SQLiteDriver{cfg: cfg, logger: logger}
}

func (d *SQLiteDriver) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+d.cfg.FilePath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", d.cfg.FilePath, err)
	}
	return db, nil
}

func (d *SQLiteDriver) TestConnection(ctx context.Context) (core.TestConnectionResult, error) {
	db, err := d.open(ctx)
	if err != nil {
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	defer db.Close()

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	return core.TestConnectionResult{
		Success: true,
		Message: "Successfully connected: SQLite " + version,
	}, nil
}

func (d *SQLiteDriver) ListTables(ctx context.Context) ([]core.TableInfo, error) {
	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []core.TableInfo
	for rows.Next() {
		info := core.TableInfo{Schema: "main"}
		if err := rows.Scan(&info.Name, &info.Type); err != nil {
			return nil, err
		}
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

func (d *SQLiteDriver) GetTableData(ctx context.Context, req core.TableDataRequest) (*core.TableDataResponse, error) {
	normalizePaging(&req)

	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ref := sqlbuild.TableRef(core.DatabaseTypeSQLite, req.Schema, req.Table)
	where := whereFragment(req.Filter)

	var total int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ref+where).Scan(&total); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s%s LIMIT %d OFFSET %d",
		ref, where, sortClause(req), req.Limit, (req.Page-1)*req.Limit)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return &core.TableDataResponse{Data: data, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (d *SQLiteDriver) GetTableStructure(ctx context.Context, _, table string) (*core.TableStructure, error) {
	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return sqliteTableStructure(ctx, db, table)
}

func sqliteTableStructure(ctx context.Context, db *sql.DB, table string) (*core.TableStructure, error) {
	structure := &core.TableStructure{
		Columns:     []core.ColumnInfo{},
		Indexes:     []core.IndexInfo{},
		ForeignKeys: []core.ForeignKeyInfo{},
	}
	quoted := sqlbuild.QuoteIdentifier(table)

	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoted+")")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             *string
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		structure.Columns = append(structure.Columns, core.ColumnInfo{
			Name:       name,
			DataType:   colType,
			Nullable:   notNull == 0,
			Default:    dflt,
			PrimaryKey: pk > 0,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, "PRAGMA index_list("+quoted+")")
	if err != nil {
		return nil, err
	}
	type indexEntry struct {
		name    string
		unique  bool
		primary bool
	}
	var indexList []indexEntry
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		indexList = append(indexList, indexEntry{name: name, unique: unique == 1, primary: origin == "pk"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, entry := range indexList {
		idx := core.IndexInfo{Name: entry.name, Unique: entry.unique, Primary: entry.primary}
		rows, err = db.QueryContext(ctx, "PRAGMA index_info("+sqlbuild.QuoteIdentifier(entry.name)+")")
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var seqno, cid int
			var colName *string
			if err := rows.Scan(&seqno, &cid, &colName); err != nil {
				rows.Close()
				return nil, err
			}
			if colName != nil {
				idx.Columns = append(idx.Columns, *colName)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		structure.Indexes = append(structure.Indexes, idx)
	}

	rows, err = db.QueryContext(ctx, "PRAGMA foreign_key_list("+quoted+")")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			id, seq                       int
			refTable, from                string
			to                            *string
			onUpdate, onDelete, matchMode string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &matchMode); err != nil {
			rows.Close()
			return nil, err
		}
		fk := core.ForeignKeyInfo{
			Name:            fmt.Sprintf("fk_%s_%d", table, id),
			Column:          from,
			ReferencesTable: refTable,
		}
		if to != nil {
			fk.ReferencesColumn = *to
		}
		structure.ForeignKeys = append(structure.ForeignKeys, fk)
	}
	rows.Close()
	return structure, rows.Err()
}

func (d *SQLiteDriver) ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()

	if isReadStatement(query) {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
		}
		defer rows.Close()

		data, err := scanRows(rows)
		if err != nil {
			return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
		}
		return &core.QueryResult{Data: data, RowCount: int64(len(data)), TimeTakenMs: elapsedMs(start)}, nil
	}

	result, err := db.ExecContext(ctx, query)
	if err != nil {
		return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
	}
	affected, _ := result.RowsAffected()
	return &core.QueryResult{Data: []core.Row{}, RowCount: affected, TimeTakenMs: elapsedMs(start)}, nil
}

func (d *SQLiteDriver) GetSchemaOverview(ctx context.Context) (*core.SchemaOverview, error) {
	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	overview := &core.SchemaOverview{Tables: make([]core.TableWithStructure, 0, len(tables))}
	for _, table := range tables {
		structure, err := sqliteTableStructure(ctx, db, table.Name)
		if err != nil {
			return nil, err
		}
		overview.Tables = append(overview.Tables, core.TableWithStructure{
			Schema:      table.Schema,
			Name:        table.Name,
			Type:        table.Type,
			Columns:     structure.Columns,
			ForeignKeys: structure.ForeignKeys,
			Indexes:     structure.Indexes,
		})
	}
	return overview, nil
}

// Close is a no-op: nothing outlives a single operation.
func (d *SQLiteDriver) Close() error {
	return nil
}
