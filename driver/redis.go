package driver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dbbridge/core"
)

const (
	redisConnectTimeout = 10 * time.Second

	// defaultScanCount is the COUNT hint passed to SCAN.
	defaultScanCount = 100

	// defaultScanIterations bounds a single bounded key search. One
	// search call visits at most this many SCAN pages before handing
	// back a resumable cursor.
	defaultScanIterations = 100

	// maxCollectionPreview caps how many elements of a list or sorted
	// set are decoded into key details.
	maxCollectionPreview = 1000
)

// RedisDriver serves Redis through a cached go-redis client. The
// client is rebuilt after transport-level failures.
type RedisDriver struct {
	cfg         core.ConnectionConfig
	logger      *zap.SugaredLogger
	dialTimeout time.Duration

	mu     sync.RWMutex
	client *redis.Client
}

func NewRedisDriver(cfg core.ConnectionConfig, opts Options, logger *zap.SugaredLogger) *RedisDriver {
	timeout := opts.RedisDialTimeout
	if timeout <= 0 {
		timeout = redisConnectTimeout
	}
	return &RedisDriver{cfg: cfg, logger: logger, dialTimeout: timeout}
}

func (d *RedisDriver) dbIndex() int {
	if d.cfg.Database == "" {
		return 0
	}
	n, err := strconv.Atoi(d.cfg.Database)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (d *RedisDriver) getClient(ctx context.Context) (*redis.Client, error) {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client != nil {
		return client, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	opts := &redis.Options{
		Addr:        fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.EffectivePort()),
		Username:    d.cfg.Username,
		Password:    d.cfg.Password,
		DB:          d.dbIndex(),
		DialTimeout: d.dialTimeout,
	}
	if d.cfg.SSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	d.logger.Debugw("Redis client created", "addr", opts.Addr, "db", opts.DB)
	d.client = client
	return client, nil
}

// resetClient drops the cached client after a transport failure so the
// next operation reconnects.
func (d *RedisDriver) resetClient() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
		d.logger.Warnw("Redis client discarded after transport error", "host", d.cfg.Host)
	}
}

func (d *RedisDriver) checkTransport(err error) error {
	if IsTransportError(err) {
		d.resetClient()
	}
	return err
}

func (d *RedisDriver) TestConnection(ctx context.Context) (core.TestConnectionResult, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		d.checkTransport(err)
		return core.TestConnectionResult{Success: false, Message: err.Error()}, nil
	}
	return core.TestConnectionResult{Success: true, Message: "Successfully connected to Redis"}, nil
}

// ListTables maps Redis keyspaces onto the table listing: one entry
// per populated logical database reported by INFO keyspace.
func (d *RedisDriver) ListTables(ctx context.Context) ([]core.TableInfo, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	info, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, d.checkTransport(err)
	}

	tables := []core.TableInfo{}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "db") {
			continue
		}
		name, _, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		tables = append(tables, core.TableInfo{Schema: "redis", Name: name, Type: "keyspace"})
	}
	if len(tables) == 0 {
		// An empty keyspace still presents the selected database.
		tables = append(tables, core.TableInfo{
			Schema: "redis",
			Name:   fmt.Sprintf("db%d", d.dbIndex()),
			Type:   "keyspace",
		})
	}
	return tables, nil
}

// GetTableData pages over keys. Filter is treated as a MATCH glob
// pattern; rows carry the key name, type, and TTL.
func (d *RedisDriver) GetTableData(ctx context.Context, req core.TableDataRequest) (*core.TableDataResponse, error) {
	normalizePaging(&req)

	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	pattern := strings.TrimSpace(req.Filter)
	filtered := pattern != "" && pattern != "*"
	if pattern == "" {
		pattern = "*"
	}

	// SCAN has no offsets, so keys up to the end of the requested page
	// are collected and the page is sliced out. A MATCH filter forces a
	// full walk so the total counts matched keys, not the keyspace.
	needed := int(req.Page * req.Limit)
	keys := make([]string, 0, needed)
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, defaultScanCount).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
		if !filtered && len(keys) >= needed {
			break
		}
	}

	total := int64(len(keys))
	if !filtered {
		total, err = client.DBSize(ctx).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
	}

	startIdx := int((req.Page - 1) * req.Limit)
	if startIdx > len(keys) {
		startIdx = len(keys)
	}
	endIdx := startIdx + int(req.Limit)
	if endIdx > len(keys) {
		endIdx = len(keys)
	}
	page := keys[startIdx:endIdx]

	infos, err := d.describeKeys(ctx, client, page)
	if err != nil {
		return nil, err
	}

	data := make([]core.Row, 0, len(infos))
	for _, info := range infos {
		data = append(data, core.Row{
			"key":  info.Key,
			"type": info.KeyType,
			"ttl":  info.TTL,
		})
	}
	return &core.TableDataResponse{Data: data, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

// GetTableStructure has no meaning for a keyspace; the structure is
// reported empty rather than erroring so generic consumers still work.
func (d *RedisDriver) GetTableStructure(_ context.Context, _, _ string) (*core.TableStructure, error) {
	return &core.TableStructure{
		Columns:     []core.ColumnInfo{},
		Indexes:     []core.IndexInfo{},
		ForeignKeys: []core.ForeignKeyInfo{},
	}, nil
}

func (d *RedisDriver) GetSchemaOverview(ctx context.Context) (*core.SchemaOverview, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	overview := &core.SchemaOverview{Tables: make([]core.TableWithStructure, 0, len(tables))}
	for _, table := range tables {
		overview.Tables = append(overview.Tables, core.TableWithStructure{
			Schema:      table.Schema,
			Name:        table.Name,
			Type:        table.Type,
			Columns:     []core.ColumnInfo{},
			ForeignKeys: []core.ForeignKeyInfo{},
			Indexes:     []core.IndexInfo{},
		})
	}
	return overview, nil
}

// ExecuteQuery runs a raw Redis command line. INFO output is exploded
// into property rows; other replies are rendered generically.
func (d *RedisDriver) ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	parts := strings.Fields(strings.TrimSpace(query))
	if len(parts) == 0 {
		return &core.QueryResult{Data: []core.Row{}, Error: "empty command", TimeTakenMs: elapsedMs(start)}, nil
	}

	args := make([]any, len(parts))
	for i, p := range parts {
		args[i] = p
	}

	result, err := client.Do(ctx, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if IsTransportError(err) {
			d.resetClient()
			return nil, err
		}
		return &core.QueryResult{Data: []core.Row{}, Error: err.Error(), TimeTakenMs: elapsedMs(start)}, nil
	}

	var data []core.Row
	if strings.EqualFold(parts[0], "info") {
		data = parseInfoReply(result)
	} else {
		data = renderRedisReply(result)
	}
	return &core.QueryResult{Data: data, RowCount: int64(len(data)), TimeTakenMs: elapsedMs(start)}, nil
}

func (d *RedisDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		err := d.client.Close()
		d.client = nil
		return err
	}
	return nil
}

// ListKeys performs one bounded, resumable key search. Starting from
// cursor, at most maxIterations SCAN pages of roughly count keys each
// are visited; the returned cursor and Complete flag let the caller
// continue where this call stopped. progress may be nil.
func (d *RedisDriver) ListKeys(ctx context.Context, pattern string, cursor uint64, count int64, maxIterations int, progress core.ScanProgressFunc) (*core.KeyListResponse, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	if pattern == "" {
		pattern = "*"
	}
	if count <= 0 {
		count = defaultScanCount
	}
	if maxIterations <= 0 {
		maxIterations = defaultScanIterations
	}

	total, err := client.DBSize(ctx).Result()
	if err != nil {
		return nil, d.checkTransport(err)
	}

	var keys []string
	complete := false
	for iteration := 1; iteration <= maxIterations; iteration++ {
		batch, next, err := client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		keys = append(keys, batch...)
		cursor = next

		if progress != nil {
			progress(core.ScanProgress{
				Iteration:     iteration,
				MaxIterations: maxIterations,
				KeysFound:     len(keys),
				Batch:         batch,
			})
		}
		if cursor == 0 {
			complete = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	infos, err := d.describeKeys(ctx, client, keys)
	if err != nil {
		return nil, err
	}

	return &core.KeyListResponse{
		Keys:     infos,
		Total:    total,
		Cursor:   cursor,
		Complete: complete,
	}, nil
}

// describeKeys resolves type and TTL for a batch of keys in one
// pipeline round trip.
func (d *RedisDriver) describeKeys(ctx context.Context, client *redis.Client, keys []string) ([]core.KeyInfo, error) {
	infos := make([]core.KeyInfo, 0, len(keys))
	if len(keys) == 0 {
		return infos, nil
	}

	pipe := client.Pipeline()
	typeCmds := make([]*redis.StatusCmd, len(keys))
	ttlCmds := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		typeCmds[i] = pipe.Type(ctx, key)
		ttlCmds[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, d.checkTransport(err)
	}

	for i, key := range keys {
		keyType, err := typeCmds[i].Result()
		if err != nil {
			// Key expired or was deleted between scan and describe.
			continue
		}
		infos = append(infos, core.KeyInfo{
			Key:     key,
			KeyType: keyType,
			TTL:     ttlSeconds(ttlCmds[i].Val()),
		})
	}
	return infos, nil
}

// GetKeyDetails loads the full detail view of one key including its
// decoded value.
func (d *RedisDriver) GetKeyDetails(ctx context.Context, key string) (*core.KeyDetails, error) {
	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	keyType, err := client.Type(ctx, key).Result()
	if err != nil {
		return nil, d.checkTransport(err)
	}
	if keyType == "none" {
		return nil, fmt.Errorf("key not found: %s", key)
	}

	details := &core.KeyDetails{Key: key, KeyType: keyType}

	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		return nil, d.checkTransport(err)
	}
	details.TTL = ttlSeconds(ttl)

	if encoding, err := client.ObjectEncoding(ctx, key).Result(); err == nil {
		details.Encoding = &encoding
	}
	if size, err := client.MemoryUsage(ctx, key).Result(); err == nil {
		details.Size = &size
	}

	var length int64
	switch keyType {
	case "string":
		value, err := client.Get(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		details.Value = value
		length = int64(len(value))
	case "list":
		length, err = client.LLen(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		values, err := client.LRange(ctx, key, 0, maxCollectionPreview-1).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		details.Value = values
	case "set":
		length, err = client.SCard(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		values, err := client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		details.Value = values
	case "hash":
		length, err = client.HLen(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		value, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		details.Value = value
	case "zset":
		length, err = client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		members, err := client.ZRangeWithScores(ctx, key, 0, maxCollectionPreview-1).Result()
		if err != nil {
			return nil, d.checkTransport(err)
		}
		value := make([]core.Row, 0, len(members))
		for _, m := range members {
			value = append(value, core.Row{"member": m.Member, "score": m.Score})
		}
		details.Value = value
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
	details.Length = &length

	return details, nil
}

// SetStringKey writes a string key, replacing any previous value.
// ttlSeconds <= 0 leaves the key without expiry.
func (d *RedisDriver) SetStringKey(ctx context.Context, key, value string, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}
	var expiry time.Duration
	if ttlSeconds > 0 {
		expiry = time.Duration(ttlSeconds) * time.Second
	}
	return d.checkTransport(client.Set(ctx, key, value, expiry).Err())
}

// SetListKey replaces a list key with the given elements.
func (d *RedisDriver) SetListKey(ctx context.Context, key string, values []string, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		pipe.RPush(ctx, key, args...)
	}
	if ttlSeconds > 0 {
		pipe.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second)
	}
	_, err = pipe.Exec(ctx)
	return d.checkTransport(err)
}

// SetSetKey replaces a set key with the given members.
func (d *RedisDriver) SetSetKey(ctx context.Context, key string, members []string, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		args := make([]any, len(members))
		for i, m := range members {
			args[i] = m
		}
		pipe.SAdd(ctx, key, args...)
	}
	if ttlSeconds > 0 {
		pipe.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second)
	}
	_, err = pipe.Exec(ctx)
	return d.checkTransport(err)
}

// SetHashKey replaces a hash key with the given field map.
func (d *RedisDriver) SetHashKey(ctx context.Context, key string, fields map[string]string, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		args := make([]any, 0, len(fields)*2)
		for field, value := range fields {
			args = append(args, field, value)
		}
		pipe.HSet(ctx, key, args...)
	}
	if ttlSeconds > 0 {
		pipe.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second)
	}
	_, err = pipe.Exec(ctx)
	return d.checkTransport(err)
}

// SetZSetKey replaces a sorted-set key with the given member scores.
func (d *RedisDriver) SetZSetKey(ctx context.Context, key string, members map[string]float64, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		zs := make([]redis.Z, 0, len(members))
		for member, score := range members {
			zs = append(zs, redis.Z{Member: member, Score: score})
		}
		pipe.ZAdd(ctx, key, zs...)
	}
	if ttlSeconds > 0 {
		pipe.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second)
	}
	_, err = pipe.Exec(ctx)
	return d.checkTransport(err)
}

// DeleteKey removes a key. Deleting a missing key is not an error.
func (d *RedisDriver) DeleteKey(ctx context.Context, key string) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}
	return d.checkTransport(client.Del(ctx, key).Err())
}

// SetKeyTTL sets the expiry of a key in seconds; ttlSeconds <= 0
// removes any expiry.
func (d *RedisDriver) SetKeyTTL(ctx context.Context, key string, ttlSeconds int64) error {
	client, err := d.getClient(ctx)
	if err != nil {
		return err
	}
	if ttlSeconds > 0 {
		return d.checkTransport(client.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Err())
	}
	return d.checkTransport(client.Persist(ctx, key).Err())
}

// ttlSeconds converts go-redis TTL durations to the wire convention:
// -1 for no expiry, -2 for a missing key, whole seconds otherwise.
// go-redis carries the -1/-2 sentinels as raw nanosecond durations, so
// they pass through before the seconds division.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl < 0 {
		return int64(ttl)
	}
	return int64(ttl / time.Second)
}

// parseInfoReply explodes INFO output into section/property rows.
func parseInfoReply(reply any) []core.Row {
	text, ok := reply.(string)
	if !ok {
		return renderRedisReply(reply)
	}

	rows := []core.Row{}
	section := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			continue
		}
		property, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		rows = append(rows, core.Row{"section": section, "property": property, "value": value})
	}
	return rows
}

// renderRedisReply flattens an arbitrary command reply into rows.
func renderRedisReply(reply any) []core.Row {
	switch v := reply.(type) {
	case nil:
		return []core.Row{{"result": nil}}
	case []any:
		rows := make([]core.Row, 0, len(v))
		for i, item := range v {
			rows = append(rows, core.Row{"index": i, "value": convertValue(item)})
		}
		return rows
	case map[any]any:
		rows := make([]core.Row, 0, len(v))
		for k, item := range v {
			rows = append(rows, core.Row{"field": fmt.Sprint(k), "value": convertValue(item)})
		}
		return rows
	default:
		return []core.Row{{"result": convertValue(v)}}
	}
}
