package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"dbbridge/core"
	"dbbridge/driver"
)

type stubSource struct {
	mu   sync.Mutex
	cfgs map[string]core.ConnectionConfig
}

func (s *stubSource) ConnectionConfig(_ context.Context, id string) (core.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.cfgs[id]
	if !ok {
		return core.ConnectionConfig{}, fmt.Errorf("connection not found: %s", id)
	}
	return cfg, nil
}

// errQueue hands out scripted operation errors across driver rebuilds.
type errQueue struct {
	mu   sync.Mutex
	errs []error
}

func (q *errQueue) push(errs ...error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errs = append(q.errs, errs...)
}

func (q *errQueue) pop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.errs) == 0 {
		return nil
	}
	err := q.errs[0]
	q.errs = q.errs[1:]
	return err
}

type stubDriver struct {
	opErrs        *errQueue
	testFails     *atomic.Bool
	listCalls     *atomic.Int32
	overviewCalls *atomic.Int32
}

func (s *stubDriver) TestConnection(context.Context) (core.TestConnectionResult, error) {
	if s.testFails != nil && s.testFails.Load() {
		return core.TestConnectionResult{Success: false, Message: "probe failed"}, nil
	}
	return core.TestConnectionResult{Success: true, Message: "ok"}, nil
}

func (s *stubDriver) ListTables(context.Context) ([]core.TableInfo, error) {
	s.listCalls.Add(1)
	if err := s.opErrs.pop(); err != nil {
		return nil, err
	}
	return []core.TableInfo{{Schema: "public", Name: "t", Type: "table"}}, nil
}

func (s *stubDriver) GetTableData(context.Context, core.TableDataRequest) (*core.TableDataResponse, error) {
	if err := s.opErrs.pop(); err != nil {
		return nil, err
	}
	return &core.TableDataResponse{Data: []core.Row{}, Page: 1, Limit: 10}, nil
}

func (s *stubDriver) GetTableStructure(context.Context, string, string) (*core.TableStructure, error) {
	return &core.TableStructure{}, nil
}

func (s *stubDriver) ExecuteQuery(context.Context, string) (*core.QueryResult, error) {
	if err := s.opErrs.pop(); err != nil {
		return nil, err
	}
	return &core.QueryResult{Data: []core.Row{}, RowCount: 0}, nil
}

func (s *stubDriver) GetSchemaOverview(context.Context) (*core.SchemaOverview, error) {
	s.overviewCalls.Add(1)
	return &core.SchemaOverview{Tables: []core.TableWithStructure{}}, nil
}

func (s *stubDriver) Close() error { return nil }

type harness struct {
	manager       *Manager
	connects      *atomic.Int32
	opErrs        *errQueue
	testFails     *atomic.Bool
	listCalls     *atomic.Int32
	overviewCalls *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	source := &stubSource{cfgs: map[string]core.ConnectionConfig{
		"conn-1": {DBType: "postgres", Host: "db.example", Port: 5432},
	}}
	h := &harness{
		manager:       NewManager(source, Settings{}, zaptest.NewLogger(t).Sugar()),
		connects:      &atomic.Int32{},
		opErrs:        &errQueue{},
		testFails:     &atomic.Bool{},
		listCalls:     &atomic.Int32{},
		overviewCalls: &atomic.Int32{},
	}
	h.manager.newDriver = func(core.ConnectionConfig, *zap.SugaredLogger) (driver.DatabaseDriver, error) {
		h.connects.Add(1)
		return &stubDriver{
			opErrs:        h.opErrs,
			testFails:     h.testFails,
			listCalls:     h.listCalls,
			overviewCalls: h.overviewCalls,
		}, nil
	}
	return h
}

var errReset = errors.New("read tcp: connection reset by peer")

func TestEnsureConnectionSingleFlight(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.manager.EnsureConnection(ctx, "conn-1"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.connects.Load())
	assert.True(t, h.manager.GetStatus("conn-1").Connected)
}

func TestTransportErrorReconnectsOnce(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	h.opErrs.push(errReset)

	tables, err := h.manager.ListTables(ctx, "conn-1")
	require.NoError(t, err)
	assert.Len(t, tables, 1)

	// First driver died, second one served the retry.
	assert.EqualValues(t, 2, h.connects.Load())
	assert.EqualValues(t, 2, h.listCalls.Load())
}

func TestSecondTransportErrorIsSurfaced(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	h.opErrs.push(errReset, errReset)

	_, err := h.manager.ListTables(ctx, "conn-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	// Exactly one reconnect: no third attempt.
	assert.EqualValues(t, 2, h.connects.Load())
	assert.EqualValues(t, 2, h.listCalls.Load())
	assert.False(t, h.manager.GetStatus("conn-1").Connected)
}

func TestAnyOperationErrorReconnectsOnce(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	// Errors that match no transport fragment still trigger the
	// rebuild: a refused dial or an i/o timeout must self-heal too.
	h.opErrs.push(errors.New("some backend failure that is not a transport reset"))

	tables, err := h.manager.ListTables(ctx, "conn-1")
	require.NoError(t, err)
	assert.Len(t, tables, 1)
	assert.EqualValues(t, 2, h.connects.Load())
	assert.EqualValues(t, 2, h.listCalls.Load())
	assert.True(t, h.manager.GetStatus("conn-1").Connected)
}

func TestSecondNonTransportErrorKeepsConnection(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	h.opErrs.push(errReset, errors.New("permission denied for relation t"))

	_, err := h.manager.ListTables(ctx, "conn-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	// Exactly one reconnect, and the rebuilt entry survives a second
	// failure that does not look like a dead link.
	assert.EqualValues(t, 2, h.connects.Load())
	assert.EqualValues(t, 2, h.listCalls.Load())
	assert.True(t, h.manager.GetStatus("conn-1").Connected)
}

func TestScanBoundsUseConfiguredDefaults(t *testing.T) {
	source := &stubSource{cfgs: map[string]core.ConnectionConfig{}}
	m := NewManager(source, Settings{ScanCount: 25, ScanMaxIterations: 3}, zaptest.NewLogger(t).Sugar())
	defer m.Close()

	count, iterations := m.scanBounds(0, 0)
	assert.EqualValues(t, 25, count)
	assert.Equal(t, 3, iterations)

	// Explicit per-call values win over the configuration.
	count, iterations = m.scanBounds(10, 1)
	assert.EqualValues(t, 10, count)
	assert.Equal(t, 1, iterations)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "conn-1"))
	assert.True(t, h.manager.GetStatus("conn-1").Connected)

	h.manager.Disconnect("conn-1")
	assert.False(t, h.manager.GetStatus("conn-1").Connected)

	// Disconnecting again, or an unknown id, is harmless.
	h.manager.Disconnect("conn-1")
	h.manager.Disconnect("no-such")
}

func TestConnectUnknownID(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()

	err := h.manager.Connect(context.Background(), "no-such")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConnectFailureRecordsLastError(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	h.testFails.Store(true)
	err := h.manager.Connect(ctx, "conn-1")
	require.Error(t, err)

	status := h.manager.GetStatus("conn-1")
	assert.False(t, status.Connected)
	assert.Contains(t, status.LastError, "probe failed")
	assert.Contains(t, h.manager.GetLastError("conn-1"), "probe failed")

	// A later successful connect clears the recorded error.
	h.testFails.Store(false)
	require.NoError(t, h.manager.Connect(ctx, "conn-1"))
	assert.Empty(t, h.manager.GetLastError("conn-1"))
}

func TestSchemaOverviewCache(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	_, err := h.manager.GetSchemaOverview(ctx, "conn-1")
	require.NoError(t, err)
	_, err = h.manager.GetSchemaOverview(ctx, "conn-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.overviewCalls.Load())

	// Reconnect invalidates the cached overview.
	require.NoError(t, h.manager.Connect(ctx, "conn-1"))
	_, err = h.manager.GetSchemaOverview(ctx, "conn-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.overviewCalls.Load())

	// So does an explicit disconnect.
	h.manager.Disconnect("conn-1")
	_, err = h.manager.GetSchemaOverview(ctx, "conn-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, h.overviewCalls.Load())
}

func TestKeyOperationsRequireRedis(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	_, err := h.manager.ListKeys(ctx, "conn-1", "*", 0, 100, 10, nil)
	assert.ErrorIs(t, err, ErrNotRedis)

	_, err = h.manager.GetKeyDetails(ctx, "conn-1", "k")
	assert.ErrorIs(t, err, ErrNotRedis)

	assert.ErrorIs(t, h.manager.SetStringKey(ctx, "conn-1", "k", "v", 0), ErrNotRedis)
	assert.ErrorIs(t, h.manager.DeleteKey(ctx, "conn-1", "k"), ErrNotRedis)
	assert.ErrorIs(t, h.manager.SetKeyTTL(ctx, "conn-1", "k", 60), ErrNotRedis)
}

func TestHealthCheckDropsDeadConnections(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "conn-1"))

	results := h.manager.HealthCheck(ctx)
	assert.True(t, results["conn-1"])

	h.testFails.Store(true)
	results = h.manager.HealthCheck(ctx)
	assert.False(t, results["conn-1"])
	assert.False(t, h.manager.GetStatus("conn-1").Connected)
}

func TestTestConnectionDoesNotRegister(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()
	ctx := context.Background()

	result, err := h.manager.TestConnection(ctx, core.ConnectionConfig{
		DBType: "postgres", Host: "db.example", Port: 5432,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, h.manager.GetStatus("conn-1").Connected)
	assert.Empty(t, h.manager.ConnectedIDs())
}

func TestTestConnectionValidation(t *testing.T) {
	h := newHarness(t)
	defer h.manager.Close()

	_, err := h.manager.TestConnection(context.Background(), core.ConnectionConfig{DBType: "sqlite"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file path is required")
}
