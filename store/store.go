// Package store persists application metadata in a local SQLite
// database: saved connection configs, saved queries, and settings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dbbridge/core"
)

// Connection is a saved connection profile.
type Connection struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Config    core.ConnectionConfig `json:"config"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// SavedQuery is a named query bound to a connection profile.
type SavedQuery struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Name         string    `json:"name"`
	Query        string    `json:"query"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store wraps the metadata database. SQLite allows one writer at a
// time, so the handle is capped to a single open connection.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the metadata database at path and
// applies migrations.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debugw("Metadata store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			db_type TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			database_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			ssl INTEGER NOT NULL DEFAULT 0,
			file_path TEXT NOT NULL DEFAULT '',
			ssh_enabled INTEGER NOT NULL DEFAULT 0,
			ssh_host TEXT NOT NULL DEFAULT '',
			ssh_port INTEGER NOT NULL DEFAULT 0,
			ssh_user TEXT NOT NULL DEFAULT '',
			ssh_password TEXT NOT NULL DEFAULT '',
			ssh_key_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_queries (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			query TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_saved_queries_connection
			ON saved_queries(connection_id)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConnection saves a new connection profile and returns it with
// a generated identifier.
func (s *Store) CreateConnection(ctx context.Context, name string, cfg core.ConnectionConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn := &Connection{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (
			id, name, db_type, host, port, database_name, username, password,
			ssl, file_path, ssh_enabled, ssh_host, ssh_port, ssh_user,
			ssh_password, ssh_key_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Name, cfg.DBType, cfg.Host, cfg.Port, cfg.Database,
		cfg.Username, cfg.Password, cfg.SSL, cfg.FilePath,
		cfg.SSH.Enabled, cfg.SSH.Host, cfg.SSH.Port, cfg.SSH.User,
		cfg.SSH.Password, cfg.SSH.KeyPath, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	s.logger.Infow("Connection saved", "connection_id", conn.ID, "name", name, "db_type", cfg.DBType)
	return conn, nil
}

const connectionColumns = `id, name, db_type, host, port, database_name, username,
	password, ssl, file_path, ssh_enabled, ssh_host, ssh_port, ssh_user,
	ssh_password, ssh_key_path, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	var conn Connection
	err := row.Scan(
		&conn.ID, &conn.Name, &conn.Config.DBType, &conn.Config.Host,
		&conn.Config.Port, &conn.Config.Database, &conn.Config.Username,
		&conn.Config.Password, &conn.Config.SSL, &conn.Config.FilePath,
		&conn.Config.SSH.Enabled, &conn.Config.SSH.Host, &conn.Config.SSH.Port,
		&conn.Config.SSH.User, &conn.Config.SSH.Password, &conn.Config.SSH.KeyPath,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// GetConnection loads one connection profile by id.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE id = ?", id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns every saved profile, newest first.
func (s *Store) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+connectionColumns+" FROM connections ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	connections := []Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *conn)
	}
	return connections, rows.Err()
}

// UpdateConnection replaces the name and config of an existing
// profile.
func (s *Store) UpdateConnection(ctx context.Context, id, name string, cfg core.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			name = ?, db_type = ?, host = ?, port = ?, database_name = ?,
			username = ?, password = ?, ssl = ?, file_path = ?,
			ssh_enabled = ?, ssh_host = ?, ssh_port = ?, ssh_user = ?,
			ssh_password = ?, ssh_key_path = ?, updated_at = ?
		WHERE id = ?`,
		name, cfg.DBType, cfg.Host, cfg.Port, cfg.Database,
		cfg.Username, cfg.Password, cfg.SSL, cfg.FilePath,
		cfg.SSH.Enabled, cfg.SSH.Host, cfg.SSH.Port, cfg.SSH.User,
		cfg.SSH.Password, cfg.SSH.KeyPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}
	return nil
}

// DeleteConnection removes a profile and its saved queries.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}
	s.logger.Infow("Connection deleted", "connection_id", id)
	return nil
}

// ConnectionConfig resolves a profile id to its config, satisfying the
// pool's config source.
func (s *Store) ConnectionConfig(ctx context.Context, id string) (core.ConnectionConfig, error) {
	conn, err := s.GetConnection(ctx, id)
	if err != nil {
		return core.ConnectionConfig{}, err
	}
	return conn.Config, nil
}

// CreateSavedQuery saves a named query for a connection profile.
func (s *Store) CreateSavedQuery(ctx context.Context, connectionID, name, query string) (*SavedQuery, error) {
	now := time.Now().UTC()
	sq := &SavedQuery{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Name:         name,
		Query:        query,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_queries (id, connection_id, name, query, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sq.ID, sq.ConnectionID, sq.Name, sq.Query, sq.CreatedAt, sq.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save query: %w", err)
	}
	return sq, nil
}

// ListSavedQueries returns the saved queries of one connection.
func (s *Store) ListSavedQueries(ctx context.Context, connectionID string) ([]SavedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, name, query, created_at, updated_at
		FROM saved_queries WHERE connection_id = ?
		ORDER BY created_at DESC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved queries: %w", err)
	}
	defer rows.Close()

	queries := []SavedQuery{}
	for rows.Next() {
		var sq SavedQuery
		if err := rows.Scan(&sq.ID, &sq.ConnectionID, &sq.Name, &sq.Query, &sq.CreatedAt, &sq.UpdatedAt); err != nil {
			return nil, err
		}
		queries = append(queries, sq)
	}
	return queries, rows.Err()
}

// DeleteSavedQuery removes one saved query.
func (s *Store) DeleteSavedQuery(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM saved_queries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete saved query: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: saved query %s", ErrNotFound, id)
	}
	return nil
}

// GetSetting reads one setting value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: setting %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts one setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting: %w", err)
	}
	return nil
}
