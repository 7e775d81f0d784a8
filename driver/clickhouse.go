package driver

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"dbbridge/core"
	"dbbridge/sqlbuild"
)

// ClickHouseDriver talks to ClickHouse over the HTTP protocol. HTTP is
// stateless, so a handle is opened per operation and closed when the
// operation finishes; there is no long-lived connection to invalidate.
type ClickHouseDriver struct {
	cfg    core.ConnectionConfig
	logger *zap.SugaredLogger
}

func NewClickHouseDriver(cfg core.ConnectionConfig, logger *zap.SugaredLogger) *ClickHouseDriver {
	return &ClickHouseDriver{cfg: cfg, logger: logger}
}

func (d *ClickHouseDriver) open() *sql.DB {
	opts := &clickhouse.Options{
		Protocol: clickhouse.HTTP,
		Addr:     []string{fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.EffectivePort())},
		Auth: clickhouse.Auth{
			Database: d.cfg.Database,
			Username: d.cfg.Username,
			Password: d.cfg.Password,
		},
	}
	if d.cfg.SSL {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return clickhouse.OpenDB(opts)
}

func (d *ClickHouseDriver) TestConnection(ctx context.Context) (core.TestConnectionResult, error) {
	db := d.open()
	defer db.Close()

	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	return core.TestConnectionResult{
		Success: true,
		Message: "Successfully connected: ClickHouse " + version,
	}, nil
}

func (d *ClickHouseDriver) ListTables(ctx context.Context) ([]core.TableInfo, error) {
	db := d.open()
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT database, name, engine
		FROM system.tables
		WHERE database NOT IN ('system', 'INFORMATION_SCHEMA', 'information_schema')
		ORDER BY database, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []core.TableInfo
	for rows.Next() {
		var info core.TableInfo
		var engine string
		if err := rows.Scan(&info.Schema, &info.Name, &engine); err != nil {
			return nil, err
		}
		if strings.Contains(engine, "View") {
			info.Type = "view"
		} else {
			info.Type = "table"
		}
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

func (d *ClickHouseDriver) GetTableData(ctx context.Context, req core.TableDataRequest) (*core.TableDataResponse, error) {
	normalizePaging(&req)

	db := d.open()
	defer db.Close()

	ref := sqlbuild.TableRef(core.DatabaseTypeClickHouse, req.Schema, req.Table)
	where := whereFragment(req.Filter)

	var total uint64
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
	return &core.TableDataResponse{Data: data, Total: int64(total), Page: req.Page, Limit: req.Limit}, nil
}

func (d *ClickHouseDriver) GetTableStructure(ctx context.Context, schema, table string) (*core.TableStructure, error) {
	db := d.open()
	defer db.Close()

	return d.tableStructure(ctx, db, schema, table)
}

func (d *ClickHouseDriver) tableStructure(ctx context.Context, db *sql.DB, schema, table string) (*core.TableStructure, error) {
	structure := &core.TableStructure{
		Columns:     []core.ColumnInfo{},
		Indexes:     []core.IndexInfo{},
		ForeignKeys: []core.ForeignKeyInfo{},
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name, type, default_expression, is_in_primary_key
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, schema, table)
	if err != nil {
		return nil, err
	}
	var pkColumns []string
	for rows.Next() {
		var (
			name, colType, defaultExpr string
			inPK                       uint8
		)
		if err := rows.Scan(&name, &colType, &defaultExpr, &inPK); err != nil {
			rows.Close()
			return nil, err
		}
		col := core.ColumnInfo{
			Name:       name,
			DataType:   colType,
			Nullable:   strings.HasPrefix(colType, "Nullable("),
			PrimaryKey: inPK == 1,
		}
		if defaultExpr != "" {
			col.Default = &defaultExpr
		}
		if col.PrimaryKey {
			pkColumns = append(pkColumns, name)
		}
		structure.Columns = append(structure.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pkColumns) > 0 {
		structure.Indexes = append(structure.Indexes, core.IndexInfo{
			Name:    "PRIMARY",
			Columns: pkColumns,
			Unique:  false,
			Primary: true,
		})
	}

	rows, err = db.QueryContext(ctx, `
		SELECT name, expr
		FROM system.data_skipping_indices
		WHERE database = ? AND table = ?`, schema, table)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, expr string
		if err := rows.Scan(&name, &expr); err != nil {
			rows.Close()
			return nil, err
		}
		structure.Indexes = append(structure.Indexes, core.IndexInfo{
			Name:    name,
			Columns: []string{expr},
		})
	}
	rows.Close()
	return structure, rows.Err()
}

func (d *ClickHouseDriver) ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	db := d.open()
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

	if _, err := db.ExecContext(ctx, query); err != nil {
		return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
	}
	return &core.QueryResult{Data: []core.Row{}, TimeTakenMs: elapsedMs(start)}, nil
}

func (d *ClickHouseDriver) GetSchemaOverview(ctx context.Context) (*core.SchemaOverview, error) {
	db := d.open()
	defer db.Close()

	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	overview := &core.SchemaOverview{Tables: make([]core.TableWithStructure, 0, len(tables))}
	for _, table := range tables {
		structure, err := d.tableStructure(ctx, db, table.Schema, table.Name)
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

// Close is a no-op: handles are per-operation.
func (d *ClickHouseDriver) Close() error {
	return nil
}
