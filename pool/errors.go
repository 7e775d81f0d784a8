package pool

import "errors"

var (
	// ErrNotConnected means no live entry exists for the identifier.
	ErrNotConnected = errors.New("connection not established")

	// ErrNotRedis is returned when a key-level operation targets a
	// connection whose backend is not Redis.
	ErrNotRedis = errors.New("operation requires a redis connection")
)
