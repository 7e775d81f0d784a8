package driver

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dbbridge/core"
	"dbbridge/sqlbuild"
)

const (
	postgresMaxConns       = 5
	postgresMaxIdleTime    = 10 * time.Minute
	postgresConnectTimeout = 15 * time.Second
)

// PostgresDriver talks to PostgreSQL through a lazily created pgx
// pool. The pool is discarded when a transport-level failure is seen
// so the next operation rebuilds it from scratch.
type PostgresDriver struct {
	cfg            core.ConnectionConfig
	logger         *zap.SugaredLogger
	connectTimeout time.Duration

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

func NewPostgresDriver(cfg core.ConnectionConfig, opts Options, logger *zap.SugaredLogger) *PostgresDriver {
	timeout := opts.PostgresConnectTimeout
	if timeout <= 0 {
		timeout = postgresConnectTimeout
	}
	return &PostgresDriver{cfg: cfg, logger: logger, connectTimeout: timeout}
}

func (d *PostgresDriver) dsn() string {
	sslMode := "disable"
	if d.cfg.SSL {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.cfg.Username, d.cfg.Password),
		Host:     net.JoinHostPort(d.cfg.Host, fmt.Sprintf("%d", d.cfg.EffectivePort())),
		Path:     "/" + d.cfg.Database,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// getPool returns the shared pool, creating it on first use.
func (d *PostgresDriver) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()
	if pool != nil {
		return pool, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return d.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(d.dsn())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	poolCfg.MaxConns = postgresMaxConns
	poolCfg.MaxConnIdleTime = postgresMaxIdleTime
	// Dead connections are caught before use instead of mid-query.
	poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}

	createCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	pool, err = pgxpool.NewWithConfig(createCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(createCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	d.logger.Debugw("Postgres pool created", "host", d.cfg.Host, "database", d.cfg.Database)
	d.pool = pool
	return pool, nil
}

// resetPool drops the cached pool after a transport failure.
func (d *PostgresDriver) resetPool() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
		d.logger.Warnw("Postgres pool discarded after transport error", "host", d.cfg.Host)
	}
}

// checkTransport resets the pool when the error indicates the
// connection died. The error itself is still returned to the caller.
func (d *PostgresDriver) checkTransport(err error) error {
	if IsTransportError(err) {
		d.resetPool()
	}
	return err
}

func (d *PostgresDriver) TestConnection(ctx context.Context) (core.TestConnectionResult, error) {
	pool, err := d.getPool(ctx)
	if err != nil {
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		d.checkTransport(err)
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	return core.TestConnectionResult{
		Success: true,
		Message: "Successfully connected: " + version,
	}, nil
}

func (d *PostgresDriver) ListTables(ctx context.Context) ([]core.TableInfo, error) {
	pool, err := d.getPool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, d.checkTransport(err)
	}
	defer rows.Close()

	var tables []core.TableInfo
	for rows.Next() {
		var info core.TableInfo
		var tableType string
		if err := rows.Scan(&info.Schema, &info.Name, &tableType); err != nil {
			return nil, err
		}
		switch tableType {
		case "BASE TABLE":
			info.Type = "table"
		case "VIEW":
			info.Type = "view"
		default:
			info.Type = strings.ToLower(tableType)
		}
		tables = append(tables, info)
	}
	return tables, rows.Err()
}

func (d *PostgresDriver) GetTableData(ctx context.Context, req core.TableDataRequest) (*core.TableDataResponse, error) {
	normalizePaging(&req)

	pool, err := d.getPool(ctx)
	if err != nil {
		return nil, err
	}

	ref := sqlbuild.TableRef(core.DatabaseTypePostgres, req.Schema, req.Table)
	where := whereFragment(req.Filter)

	var total int64
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+ref+where).Scan(&total); err != nil {
		return nil, d.checkTransport(err)
	}

	query := fmt.Sprintf("SELECT * FROM %s%s%s LIMIT %d OFFSET %d",
		ref, where, sortClause(req), req.Limit, (req.Page-1)*req.Limit)
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, d.checkTransport(err)
	}
	defer rows.Close()

	data, err := collectPGRows(rows)
	if err != nil {
		return nil, d.checkTransport(err)
	}

	return &core.TableDataResponse{Data: data, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (d *PostgresDriver) GetTableStructure(ctx context.Context, schema, table string) (*core.TableStructure, error) {
	pool, err := d.getPool(ctx)
	if err != nil {
		return nil, err
	}

	structure := &core.TableStructure{
		Columns:     []core.ColumnInfo{},
		Indexes:     []core.IndexInfo{},
		ForeignKeys: []core.ForeignKeyInfo{},
	}

	rows, err := pool.Query(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable = 'YES', c.column_default,
		       COALESCE(pk.is_pk, false)
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = $1 AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, d.checkTransport(err)
	}
	for rows.Next() {
		var col core.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Default, &col.PrimaryKey); err != nil {
			rows.Close()
			return nil, err
		}
		structure.Columns = append(structure.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT i.relname,
		       array_agg(a.attname ORDER BY x.ordinality),
		       ix.indisunique, ix.indisprimary
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS x(attnum, ordinality) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = x.attnum
		WHERE n.nspname = $1 AND t.relname = $2
		GROUP BY i.relname, ix.indisunique, ix.indisprimary
		ORDER BY i.relname`, schema, table)
	if err != nil {
		return nil, d.checkTransport(err)
	}
	for rows.Next() {
		var idx core.IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Columns, &idx.Unique, &idx.Primary); err != nil {
			rows.Close()
			return nil, err
		}
		structure.Indexes = append(structure.Indexes, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1 AND tc.table_name = $2`, schema, table)
	if err != nil {
		return nil, d.checkTransport(err)
	}
	for rows.Next() {
		var fk core.ForeignKeyInfo
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.ReferencesTable, &fk.ReferencesColumn); err != nil {
			rows.Close()
			return nil, err
		}
		structure.ForeignKeys = append(structure.ForeignKeys, fk)
	}
	rows.Close()
	return structure, rows.Err()
}

func (d *PostgresDriver) ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	pool, err := d.getPool(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if isReadStatement(query) {
		rows, err := pool.Query(ctx, query)
		if err != nil {
			if IsTransportError(err) {
				d.resetPool()
				return nil, err
			}
			return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
		}
		defer rows.Close()

		data, err := collectPGRows(rows)
		if err != nil {
			if IsTransportError(err) {
				d.resetPool()
				return nil, err
			}
			return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
		}
		return &core.QueryResult{Data: data, RowCount: int64(len(data)), TimeTakenMs: elapsedMs(start)}, nil
	}

	tag, err := pool.Exec(ctx, query)
	if err != nil {
		if IsTransportError(err) {
			d.resetPool()
			return nil, err
		}
		return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
	}
	return &core.QueryResult{Data: []core.Row{}, RowCount: tag.RowsAffected(), TimeTakenMs: elapsedMs(start)}, nil
}

func (d *PostgresDriver) GetSchemaOverview(ctx context.Context) (*core.SchemaOverview, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	overview := &core.SchemaOverview{Tables: make([]core.TableWithStructure, 0, len(tables))}
	for _, table := range tables {
		structure, err := d.GetTableStructure(ctx, table.Schema, table.Name)
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

func (d *PostgresDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

// collectPGRows drains a pgx result set into the row model.
func collectPGRows(rows pgx.Rows) ([]core.Row, error) {
	fields := rows.FieldDescriptions()
	data := make([]core.Row, 0, 64)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(core.Row, len(fields))
		for i, field := range fields {
			row[field.Name] = convertValue(values[i])
		}
		data = append(data, row)
	}
	return data, rows.Err()
}
