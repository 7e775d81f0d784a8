package core

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DatabaseType identifies one supported backend.
type DatabaseType string

const (
	DatabaseTypePostgres   DatabaseType = "postgres"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypeRedis      DatabaseType = "redis"
	DatabaseTypeClickHouse DatabaseType = "clickhouse"
)

// Default ports per backend. Applied when a config omits the port;
// each backend gets its own default from the start.
const (
	DefaultPortPostgres   = 5432
	DefaultPortRedis      = 6379
	DefaultPortClickHouse = 8123
	DefaultPortSSH        = 22
)

// ParseDatabaseType maps user-facing type strings (including common
// aliases) to a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return DatabaseTypePostgres, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	case "redis":
		return DatabaseTypeRedis, nil
	case "clickhouse":
		return DatabaseTypeClickHouse, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}

// DefaultPort returns the backend's native default port.
func (t DatabaseType) DefaultPort() int {
	switch t {
	case DatabaseTypeRedis:
		return DefaultPortRedis
	case DatabaseTypeClickHouse:
		return DefaultPortClickHouse
	default:
		return DefaultPortPostgres
	}
}

// SSHConfig is the SSH sub-record of a connection configuration.
type SSHConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	User     string `json:"user" validate:"required_if=Enabled true"`
	Password string `json:"password"`
	KeyPath  string `json:"key_path"`
}

// ConnectionConfig is the immutable snapshot used to build one driver.
// It is captured once per connect attempt and re-read from the
// metadata store on reconnect.
type ConnectionConfig struct {
	DBType   string    `json:"db_type" validate:"required"`
	Host     string    `json:"host"`
	Port     int       `json:"port" validate:"gte=0,lte=65535"`
	Database string    `json:"database"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	SSL      bool      `json:"ssl"`
	FilePath string    `json:"file_path"`
	SSH      SSHConfig `json:"ssh"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints of the config before any
// network activity. Violations are validation failures, never
// connection errors.
func (c *ConnectionConfig) Validate() error {
	dbType, err := ParseDatabaseType(c.DBType)
	if err != nil {
		return err
	}
	if dbType == DatabaseTypeSQLite && c.FilePath == "" {
		return fmt.Errorf("file path is required for SQLite connections")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}
	return nil
}

// EffectivePort resolves the port, applying the backend default when
// the config leaves it unset.
func (c *ConnectionConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	dbType, err := ParseDatabaseType(c.DBType)
	if err != nil {
		return DefaultPortPostgres
	}
	return dbType.DefaultPort()
}

// SSHPort resolves the SSH port, defaulting to 22.
func (c *ConnectionConfig) SSHPort() int {
	if c.SSH.Port > 0 {
		return c.SSH.Port
	}
	return DefaultPortSSH
}
