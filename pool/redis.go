package pool

import (
	"context"

	"dbbridge/core"
	"dbbridge/driver"
)

// Key-level operations only exist for Redis connections. Each wrapper
// asserts the backend inside the retry wrapper so key operations get
// the same reconnect-once behavior as everything else.

func asRedis(d driver.DatabaseDriver) (*driver.RedisDriver, error) {
	rd, ok := d.(*driver.RedisDriver)
	if !ok {
		return nil, ErrNotRedis
	}
	return rd, nil
}

// ListKeys performs one bounded, resumable key scan on a Redis
// connection. Zero count or maxIterations take the configured
// defaults.
func (m *Manager) ListKeys(ctx context.Context, id, pattern string, cursor uint64, count int64, maxIterations int, progress core.ScanProgressFunc) (*core.KeyListResponse, error) {
	count, maxIterations = m.scanBounds(count, maxIterations)

	var resp *core.KeyListResponse
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		resp, err = rd.ListKeys(ctx, pattern, cursor, count, maxIterations, progress)
		return err
	})
	return resp, err
}

// GetKeyDetails loads the detail view of one key.
func (m *Manager) GetKeyDetails(ctx context.Context, id, key string) (*core.KeyDetails, error) {
	var details *core.KeyDetails
	err := m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		details, err = rd.GetKeyDetails(ctx, key)
		return err
	})
	return details, err
}

// SetStringKey writes a string key.
func (m *Manager) SetStringKey(ctx context.Context, id, key, value string, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetStringKey(ctx, key, value, ttlSeconds)
	})
}

// SetListKey replaces a list key.
func (m *Manager) SetListKey(ctx context.Context, id, key string, values []string, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetListKey(ctx, key, values, ttlSeconds)
	})
}

// SetSetKey replaces a set key.
func (m *Manager) SetSetKey(ctx context.Context, id, key string, members []string, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetSetKey(ctx, key, members, ttlSeconds)
	})
}

// SetHashKey replaces a hash key.
func (m *Manager) SetHashKey(ctx context.Context, id, key string, fields map[string]string, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetHashKey(ctx, key, fields, ttlSeconds)
	})
}

// SetZSetKey replaces a sorted-set key.
func (m *Manager) SetZSetKey(ctx context.Context, id, key string, members map[string]float64, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetZSetKey(ctx, key, members, ttlSeconds)
	})
}

// DeleteKey removes a key.
func (m *Manager) DeleteKey(ctx context.Context, id, key string) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.DeleteKey(ctx, key)
	})
}

// SetKeyTTL sets or clears the expiry of a key.
func (m *Manager) SetKeyTTL(ctx context.Context, id, key string, ttlSeconds int64) error {
	return m.withDriver(ctx, id, func(d driver.DatabaseDriver) error {
		rd, err := asRedis(d)
		if err != nil {
			return err
		}
		return rd.SetKeyTTL(ctx, key, ttlSeconds)
	})
}
