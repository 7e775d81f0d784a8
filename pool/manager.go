// Package pool owns the lifecycle of named database connections: it
// builds drivers (and SSH tunnels) on demand, hands operations to
// them, reconnects once when a connection dies mid-operation, and
// caches schema overviews.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"dbbridge/core"
	"dbbridge/driver"
	"dbbridge/metrics"
	"dbbridge/sshtunnel"
)

const (
	schemaCacheSize = 128
	schemaCacheTTL  = 5 * time.Minute
)

// ConfigSource resolves a connection identifier to its stored
// configuration. The config is re-read on every connect so edits take
// effect on the next reconnect.
type ConfigSource interface {
	ConnectionConfig(ctx context.Context, id string) (core.ConnectionConfig, error)
}

// Settings carries the configured knobs the manager threads into
// tunnels, drivers, and key scans. Zero values fall back to the
// built-in defaults of each component.
type Settings struct {
	TunnelTimeout          time.Duration
	PostgresConnectTimeout time.Duration
	RedisDialTimeout       time.Duration
	ScanMaxIterations      int
	ScanCount              int64
}

// ConnectionStatus is the externally visible state of one identifier.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	DBType    string    `json:"db_type,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

type entry struct {
	driver   driver.DatabaseDriver
	tunnel   *sshtunnel.Tunnel
	dbType   string
	lastUsed time.Time
}

func (e *entry) close() {
	e.driver.Close()
	if e.tunnel != nil {
		e.tunnel.Close()
	}
}

// Manager is the connection pool. Two independent locks guard it: mu
// covers the live entries, connectMu covers the per-identifier connect
// mutex registry. Connect attempts for one identifier serialize on
// that identifier's mutex; attempts for different identifiers, and all
// entry lookups, proceed concurrently.
type Manager struct {
	source   ConfigSource
	settings Settings
	logger   *zap.SugaredLogger

	mu         sync.RWMutex
	entries    map[string]*entry
	lastErrors map[string]string

	connectMu    sync.RWMutex
	connectLocks map[string]*sync.Mutex

	schemaCache *lru.LRU[string, *core.SchemaOverview]

	// newDriver is swapped out in tests.
	newDriver func(core.ConnectionConfig, *zap.SugaredLogger) (driver.DatabaseDriver, error)
}

func NewManager(source ConfigSource, settings Settings, logger *zap.SugaredLogger) *Manager {
	opts := driver.Options{
		PostgresConnectTimeout: settings.PostgresConnectTimeout,
		RedisDialTimeout:       settings.RedisDialTimeout,
	}
	return &Manager{
		source:       source,
		settings:     settings,
		logger:       logger,
		entries:      make(map[string]*entry),
		lastErrors:   make(map[string]string),
		connectLocks: make(map[string]*sync.Mutex),
		schemaCache:  lru.NewLRU[string, *core.SchemaOverview](schemaCacheSize, nil, schemaCacheTTL),
		newDriver: func(cfg core.ConnectionConfig, logger *zap.SugaredLogger) (driver.DatabaseDriver, error) {
			return driver.New(cfg, opts, logger)
		},
	}
}

// scanBounds resolves the per-call scan parameters, substituting the
// configured defaults for zero values.
func (m *Manager) scanBounds(count int64, maxIterations int) (int64, int) {
	if count <= 0 {
		count = m.settings.ScanCount
	}
	if maxIterations <= 0 {
		maxIterations = m.settings.ScanMaxIterations
	}
	return count, maxIterations
}

// connectLock returns the connect mutex for an identifier, creating it
// on first use. The registry only ever grows; a stale mutex for a
// removed connection is harmless.
func (m *Manager) connectLock(id string) *sync.Mutex {
	m.connectMu.RLock()
	lock, ok := m.connectLocks[id]
	m.connectMu.RUnlock()
	if ok {
		return lock
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	if lock, ok = m.connectLocks[id]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.connectLocks[id] = lock
	return lock
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *Manager) recordError(id string, err error) {
	m.mu.Lock()
	m.lastErrors[id] = err.Error()
	m.mu.Unlock()
}

// Connect establishes (or re-establishes) the connection for id. It
// serializes with other connect attempts for the same identifier.
func (m *Manager) Connect(ctx context.Context, id string) error {
	lock := m.connectLock(id)
	lock.Lock()
	defer lock.Unlock()
	return m.connectLocked(ctx, id)
}

// connectLocked does the actual connect. Caller holds the per-id
// connect mutex.
func (m *Manager) connectLocked(ctx context.Context, id string) error {
	cfg, err := m.source.ConnectionConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	if err := cfg.Validate(); err != nil {
		m.recordError(id, err)
		return err
	}

	// Drop any previous entry before dialing so a half-dead driver is
	// never visible during the reconnect.
	m.removeEntry(id)

	var tunnel *sshtunnel.Tunnel
	if cfg.SSH.Enabled {
		tunnel, err = sshtunnel.New(sshtunnel.Config{
			Host:       cfg.SSH.Host,
			Port:       cfg.SSHPort(),
			User:       cfg.SSH.User,
			Password:   cfg.SSH.Password,
			KeyPath:    cfg.SSH.KeyPath,
			RemoteHost: cfg.Host,
			RemotePort: cfg.EffectivePort(),
			Timeout:    m.settings.TunnelTimeout,
		}, m.logger)
		if err != nil {
			m.recordError(id, err)
			metrics.ConnectionAttempts.WithLabelValues(cfg.DBType, "failure").Inc()
			return fmt.Errorf("failed to open SSH tunnel: %w", err)
		}
		// The driver now talks to the tunnel's local listener.
		cfg.Host = "127.0.0.1"
		cfg.Port = tunnel.LocalPort
	}

	d, err := m.newDriver(cfg, m.logger)
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		m.recordError(id, err)
		metrics.ConnectionAttempts.WithLabelValues(cfg.DBType, "failure").Inc()
		return err
	}

	result, err := d.TestConnection(ctx)
	if err == nil && !result.Success {
		err = fmt.Errorf("connection test failed: %s", result.Message)
	}
	if err != nil {
		d.Close()
		if tunnel != nil {
			tunnel.Close()
		}
		m.recordError(id, err)
		metrics.ConnectionAttempts.WithLabelValues(cfg.DBType, "failure").Inc()
		return err
	}

	m.mu.Lock()
	m.entries[id] = &entry{driver: d, tunnel: tunnel, dbType: cfg.DBType, lastUsed: time.Now()}
	delete(m.lastErrors, id)
	m.mu.Unlock()

	m.schemaCache.Remove(id)
	metrics.ConnectionAttempts.WithLabelValues(cfg.DBType, "success").Inc()
	m.logger.Infow("Connection established", "connection_id", id, "db_type", cfg.DBType)
	return nil
}

// removeEntry drops and closes the entry for id, if any.
func (m *Manager) removeEntry(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if ok {
		e.close()
	}
}

// Disconnect closes and forgets the connection for id. Disconnecting
// an unknown identifier is not an error.
func (m *Manager) Disconnect(id string) {
	m.removeEntry(id)
	m.schemaCache.Remove(id)
	m.logger.Infow("Connection closed", "connection_id", id)
}

// MarkDisconnected drops the entry and records why, for callers that
// detected the death themselves.
func (m *Manager) MarkDisconnected(id string, err error) {
	m.removeEntry(id)
	m.schemaCache.Remove(id)
	if err != nil {
		m.recordError(id, err)
	}
}

// EnsureConnection connects id if it is not already connected.
// Concurrent callers for the same identifier produce a single connect
// attempt; the rest wait for it and reuse its outcome.
func (m *Manager) EnsureConnection(ctx context.Context, id string) error {
	if _, ok := m.lookup(id); ok {
		return nil
	}

	lock := m.connectLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another caller may have connected while this one was
	// waiting on the mutex.
	if _, ok := m.lookup(id); ok {
		return nil
	}
	return m.connectLocked(ctx, id)
}

// Touch refreshes the last-used timestamp for id.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.lastUsed = time.Now()
	}
	m.mu.Unlock()
}

// GetStatus reports the current state of id.
func (m *Manager) GetStatus(id string) ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[id]; ok {
		return ConnectionStatus{Connected: true, DBType: e.dbType, LastUsed: e.lastUsed}
	}
	return ConnectionStatus{Connected: false, LastError: m.lastErrors[id]}
}

// GetLastError returns the most recent connect or operation error for
// id, or "" if none is recorded.
func (m *Manager) GetLastError(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrors[id]
}

// ConnectedIDs lists the identifiers with a live entry.
func (m *Manager) ConnectedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// HealthCheck pings every live connection and drops the ones that
// fail, so the next operation reconnects them cleanly.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	for _, id := range m.ConnectedIDs() {
		e, ok := m.lookup(id)
		if !ok {
			continue
		}
		result, err := e.driver.TestConnection(ctx)
		healthy := err == nil && result.Success
		results[id] = healthy
		if !healthy {
			if err == nil {
				err = fmt.Errorf("%s", result.Message)
			}
			m.MarkDisconnected(id, err)
			m.logger.Warnw("Connection failed health check", "connection_id", id)
		}
	}
	return results
}

// withDriver runs fn against the driver for id, connecting first if
// needed. Any failure from a cached driver is treated as a dead
// connection: the entry is rebuilt and fn retried exactly once, with
// the second failure surfaced unmodified. Statement-level errors never
// reach this path; drivers report them inside the query result.
func (m *Manager) withDriver(ctx context.Context, id string, fn func(driver.DatabaseDriver) error) error {
	if err := m.EnsureConnection(ctx, id); err != nil {
		return err
	}
	e, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	err := fn(e.driver)
	if err == nil {
		m.Touch(id)
		return nil
	}
	if errors.Is(err, ErrNotRedis) {
		// A backend mismatch is a caller mistake, not a dead connection.
		return err
	}

	m.logger.Warnw("Operation failed, reconnecting", "connection_id", id, "error", err)
	metrics.Reconnects.Inc()
	m.MarkDisconnected(id, err)

	if rErr := m.Connect(ctx, id); rErr != nil {
		return fmt.Errorf("reconnect failed after operation error: %w", rErr)
	}
	e, ok = m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	err = fn(e.driver)
	if err == nil {
		m.Touch(id)
		return nil
	}
	if driver.IsTransportError(err) {
		m.MarkDisconnected(id, err)
	}
	return err
}

// TestConnection probes a config without registering it in the pool.
// Connectivity failures come back as an unsuccessful result, not an
// error; only validation problems are errors.
func (m *Manager) TestConnection(ctx context.Context, cfg core.ConnectionConfig) (core.TestConnectionResult, error) {
	if err := cfg.Validate(); err != nil {
		return core.TestConnectionResult{}, err
	}

	if cfg.SSH.Enabled {
		tunnel, err := sshtunnel.New(sshtunnel.Config{
			Host:       cfg.SSH.Host,
			Port:       cfg.SSHPort(),
			User:       cfg.SSH.User,
			Password:   cfg.SSH.Password,
			KeyPath:    cfg.SSH.KeyPath,
			RemoteHost: cfg.Host,
			RemotePort: cfg.EffectivePort(),
			Timeout:    m.settings.TunnelTimeout,
		}, m.logger)
		if err != nil {
			return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
		}
		defer tunnel.Close()
		cfg.Host = "127.0.0.1"
		cfg.Port = tunnel.LocalPort
	}

	d, err := m.newDriver(cfg, m.logger)
	if err != nil {
		return core.TestConnectionResult{}, err
	}
	defer d.Close()
	return d.TestConnection(ctx)
}

// ListTables lists tables through the pooled connection for id.
func (m *Manager) ListTables(ctx context.Context, id string) ([]core.TableInfo, error) {
	var tables []core.TableInfo
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		var err error
		tables, err = d.ListTables(ctx)
		return err
	})
	return tables, err
}

// GetTableData reads one page of rows through the pooled connection.
func (m *Manager) GetTableData(ctx context.Context, id string, req core.TableDataRequest) (*core.TableDataResponse, error) {
	var resp *core.TableDataResponse
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		var err error
		resp, err = d.GetTableData(ctx, req)
		return err
	})
	return resp, err
}

// GetTableStructure describes one table through the pooled connection.
func (m *Manager) GetTableStructure(ctx context.Context, id, schema, table string) (*core.TableStructure, error) {
	var structure *core.TableStructure
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		var err error
		structure, err = d.GetTableStructure(ctx, schema, table)
		return err
	})
	return structure, err
}

// ExecuteQuery runs a raw statement through the pooled connection.
func (m *Manager) ExecuteQuery(ctx context.Context, id, query string) (*core.QueryResult, error) {
	var result *core.QueryResult
	start := time.Now()
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		var err error
		result, err = d.ExecuteQuery(ctx, query)
		return err
	})
	if err == nil {
		if e, ok := m.lookup(id); ok {
			metrics.QueriesExecuted.WithLabelValues(e.dbType).Inc()
		}
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

// GetSchemaOverview returns the full schema for id, served from a
// short-lived cache. The cache is invalidated on connect, disconnect,
// and expiry.
func (m *Manager) GetSchemaOverview(ctx context.Context, id string) (*core.SchemaOverview, error) {
	if overview, ok := m.schemaCache.Get(id); ok {
		metrics.SchemaCacheHits.Inc()
		return overview, nil
	}

	var overview *core.SchemaOverview
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		var err error
		overview, err = d.GetSchemaOverview(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.schemaCache.Add(id, overview)
	return overview, nil
}

// Close tears down every connection and tunnel.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for id, e := range entries {
		e.close()
		m.logger.Debugw("Connection closed during shutdown", "connection_id", id)
	}
	m.schemaCache.Purge()
}
