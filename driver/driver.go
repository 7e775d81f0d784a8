// Package driver implements the per-backend database drivers behind a
// common DatabaseDriver interface. Drivers are constructed from a
// validated connection config; tunneling, pooling of driver instances,
// and retry policy live one layer up.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dbbridge/core"
)

// DatabaseDriver is the uniform surface every backend implements.
// Operations a backend cannot meaningfully support return
// ErrUnsupportedOperation rather than faking results.
type DatabaseDriver interface {
	// TestConnection verifies reachability and credentials without
	// mutating driver state.
	TestConnection(ctx context.Context) (core.TestConnectionResult, error)

	// ListTables enumerates user-visible tables, views, or keyspaces.
	ListTables(ctx context.Context) ([]core.TableInfo, error)

	// GetTableData returns one page of rows with the total count.
	GetTableData(ctx context.Context, req core.TableDataRequest) (*core.TableDataResponse, error)

	// GetTableStructure describes columns, indexes, and foreign keys.
	GetTableStructure(ctx context.Context, schema, table string) (*core.TableStructure, error)

	// ExecuteQuery runs an arbitrary statement. Statement-level errors
	// are captured in the result's Error field, not returned.
	ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error)

	// GetSchemaOverview returns every table with its structure in one
	// call, for clients that want the full schema at once.
	GetSchemaOverview(ctx context.Context) (*core.SchemaOverview, error)

	// Close releases every resource held by the driver.
	Close() error
}

// Options carries tunables threaded in from application
// configuration. Zero values fall back to the per-backend defaults.
type Options struct {
	PostgresConnectTimeout time.Duration
	RedisDialTimeout       time.Duration
}

// New builds the driver for the config's database type. The config's
// Host and Port must already point at the real endpoint or at a local
// tunnel listener.
func New(cfg core.ConnectionConfig, opts Options, logger *zap.SugaredLogger) (DatabaseDriver, error) {
	dbType, err := core.ParseDatabaseType(cfg.DBType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatabaseType, cfg.DBType)
	}
	switch dbType {
	case core.DatabaseTypePostgres:
		return NewPostgresDriver(cfg, opts, logger), nil
	case core.DatabaseTypeSQLite:
		return NewSQLiteDriver(cfg, logger), nil
	case core.DatabaseTypeRedis:
		return NewRedisDriver(cfg, opts, logger), nil
	default:
		return NewClickHouseDriver(cfg, logger), nil
	}
}

// transportErrorFragments are the error substrings that indicate the
// underlying connection died, as opposed to the statement failing.
var transportErrorFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"connection closed",
	"server closed the connection",
}

// IsTransportError reports whether err looks like a dead connection
// rather than a statement-level failure. Callers use it to decide
// whether cached pools or clients should be discarded.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transportErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
