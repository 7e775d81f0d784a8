package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dbbridge/core"
)

func newSQLiteDriver(t *testing.T) *SQLiteDriver {
	t.Helper()
	cfg := core.ConnectionConfig{
		DBType:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "test.db"),
	}
	return NewSQLiteDriver(cfg, zaptest.NewLogger(t).Sugar())
}

func seedSQLite(t *testing.T, d *SQLiteDriver) {
	t.Helper()
	ctx := context.Background()

	statements := []string{
		`CREATE TABLE authors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			author_id INTEGER REFERENCES authors(id),
			year INTEGER DEFAULT 1900
		)`,
		`CREATE INDEX idx_books_year ON books(year)`,
		`CREATE VIEW recent_books AS SELECT * FROM books WHERE year > 2000`,
		`INSERT INTO authors (id, name) VALUES (1, 'Ursula'), (2, 'Gene')`,
	}
	for _, stmt := range statements {
		result, err := d.ExecuteQuery(ctx, stmt)
		require.NoError(t, err)
		require.Empty(t, result.Error, stmt)
	}
	for i := 1; i <= 25; i++ {
		stmt := fmt.Sprintf(`INSERT INTO books (id, title, author_id, year) VALUES (%d, 'Book %02d', %d, %d)`,
			i, i, 1+i%2, 1990+i)
		result, err := d.ExecuteQuery(ctx, stmt)
		require.NoError(t, err)
		require.Empty(t, result.Error)
	}
}

func TestSQLiteTestConnection(t *testing.T) {
	d := newSQLiteDriver(t)
	result, err := d.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "SQLite")
}

func TestSQLiteListTables(t *testing.T) {
	d := newSQLiteDriver(t)
	seedSQLite(t, d)

	tables, err := d.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 3)

	names := map[string]string{}
	for _, table := range tables {
		assert.Equal(t, "main", table.Schema)
		names[table.Name] = table.Type
	}
	assert.Equal(t, "table", names["authors"])
	assert.Equal(t, "table", names["books"])
	assert.Equal(t, "view", names["recent_books"])
}

func TestSQLiteGetTableData(t *testing.T) {
	d := newSQLiteDriver(t)
	seedSQLite(t, d)
	ctx := context.Background()

	resp, err := d.GetTableData(ctx, core.TableDataRequest{
		Schema: "main", Table: "books", Page: 2, Limit: 10,
		SortColumn: "id", SortDirection: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), resp.Total)
	require.Len(t, resp.Data, 10)
	assert.EqualValues(t, 11, resp.Data[0]["id"])

	// Filter narrows both the page and the total.
	resp, err = d.GetTableData(ctx, core.TableDataRequest{
		Schema: "main", Table: "books", Page: 1, Limit: 10,
		Filter: "year > 2010",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Total)
	assert.Len(t, resp.Data, 5)

	// Smart quotes in the filter are normalized before execution.
	resp, err = d.GetTableData(ctx, core.TableDataRequest{
		Schema: "main", Table: "books", Page: 1, Limit: 10,
		Filter: "title = ‘Book 01’",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Total)

	// Descending sort flips the first row.
	resp, err = d.GetTableData(ctx, core.TableDataRequest{
		Schema: "main", Table: "books", Page: 1, Limit: 5,
		SortColumn: "id", SortDirection: "desc",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 25, resp.Data[0]["id"])
}

func TestSQLiteGetTableStructure(t *testing.T) {
	d := newSQLiteDriver(t)
	seedSQLite(t, d)

	structure, err := d.GetTableStructure(context.Background(), "main", "books")
	require.NoError(t, err)
	require.Len(t, structure.Columns, 4)

	byName := map[string]core.ColumnInfo{}
	for _, col := range structure.Columns {
		byName[col.Name] = col
	}
	assert.True(t, byName["id"].PrimaryKey)
	assert.False(t, byName["title"].Nullable)
	assert.True(t, byName["year"].Nullable)
	require.NotNil(t, byName["year"].Default)
	assert.Equal(t, "1900", *byName["year"].Default)

	foundIdx := false
	for _, idx := range structure.Indexes {
		if idx.Name == "idx_books_year" {
			foundIdx = true
			assert.Equal(t, []string{"year"}, idx.Columns)
		}
	}
	assert.True(t, foundIdx)

	require.Len(t, structure.ForeignKeys, 1)
	assert.Equal(t, "author_id", structure.ForeignKeys[0].Column)
	assert.Equal(t, "authors", structure.ForeignKeys[0].ReferencesTable)
	assert.Equal(t, "id", structure.ForeignKeys[0].ReferencesColumn)
}

func TestSQLiteExecuteQuery(t *testing.T) {
	d := newSQLiteDriver(t)
	seedSQLite(t, d)
	ctx := context.Background()

	result, err := d.ExecuteQuery(ctx, "SELECT COUNT(*) AS n FROM books")
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	require.Len(t, result.Data, 1)
	assert.EqualValues(t, 25, result.Data[0]["n"])

	// A broken statement is reported inline, not as a failure.
	result, err = d.ExecuteQuery(ctx, "SELECT * FROM no_such_table")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Data)

	result, err = d.ExecuteQuery(ctx, "DELETE FROM books WHERE year < 2000")
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.EqualValues(t, 9, result.RowCount)
}

func TestSQLiteGetSchemaOverview(t *testing.T) {
	d := newSQLiteDriver(t)
	seedSQLite(t, d)

	overview, err := d.GetSchemaOverview(context.Background())
	require.NoError(t, err)
	require.Len(t, overview.Tables, 3)

	var books *core.TableWithStructure
	for i := range overview.Tables {
		if overview.Tables[i].Name == "books" {
			books = &overview.Tables[i]
		}
	}
	require.NotNil(t, books)
	assert.Len(t, books.Columns, 4)
	assert.Len(t, books.ForeignKeys, 1)
}

func TestDriverFactory(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	d, err := New(core.ConnectionConfig{DBType: "sqlite", FilePath: "/tmp/x.db"}, Options{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteDriver{}, d)

	d, err = New(core.ConnectionConfig{DBType: "postgresql"}, Options{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &PostgresDriver{}, d)

	d, err = New(core.ConnectionConfig{DBType: "redis"}, Options{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &RedisDriver{}, d)

	d, err = New(core.ConnectionConfig{DBType: "clickhouse"}, Options{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ClickHouseDriver{}, d)

	_, err = New(core.ConnectionConfig{DBType: "oracle"}, Options{}, logger)
	assert.ErrorIs(t, err, ErrUnknownDatabaseType)
}

func TestDriverOptionsOverrideTimeouts(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	opts := Options{
		PostgresConnectTimeout: 2 * time.Second,
		RedisDialTimeout:       3 * time.Second,
	}

	pg := NewPostgresDriver(core.ConnectionConfig{DBType: "postgres"}, opts, logger)
	assert.Equal(t, 2*time.Second, pg.connectTimeout)

	rd := NewRedisDriver(core.ConnectionConfig{DBType: "redis"}, opts, logger)
	assert.Equal(t, 3*time.Second, rd.dialTimeout)

	// Zero options keep the built-in defaults.
	pg = NewPostgresDriver(core.ConnectionConfig{DBType: "postgres"}, Options{}, logger)
	assert.Equal(t, postgresConnectTimeout, pg.connectTimeout)

	rd = NewRedisDriver(core.ConnectionConfig{DBType: "redis"}, Options{}, logger)
	assert.Equal(t, redisConnectTimeout, rd.dialTimeout)
}
