package driver

import "errors"

var (
	// ErrUnknownDatabaseType is returned by the factory for a type it
	// has no driver for.
	ErrUnknownDatabaseType = errors.New("unknown database type")

	// ErrUnsupportedOperation is returned by drivers for operations
	// their backend has no equivalent of.
	ErrUnsupportedOperation = errors.New("operation not supported for this database type")

	// ErrUnsupportedKeyType is returned by the Redis driver for key
	// types it has no handler for.
	ErrUnsupportedKeyType = errors.New("unsupported redis key type")
)
