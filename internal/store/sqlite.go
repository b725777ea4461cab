package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stampy/internal/domain"
	"stampy/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrSchema is returned when the schema was missing and could not be created.
var ErrSchema = errors.New("store: cannot create schema")

// schema lists every table the bot and its plugins rely on. Table and column
// names match databases written by earlier releases.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS karma (word TEXT, value INT)`,
	`CREATE TABLE IF NOT EXISTS alias (key TEXT, value TEXT)`,
	`CREATE TABLE IF NOT EXISTS autokarma (key TEXT, value TEXT)`,
	`CREATE TABLE IF NOT EXISTS config (key TEXT UNIQUE, value TEXT)`,
	`CREATE TABLE IF NOT EXISTS stats (type TEXT, id INT, name TEXT, date TEXT, count INT, memberid TEXT)`,
	`CREATE TABLE IF NOT EXISTS quote (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT, date TEXT, text TEXT)`,
}

// SQLiteStore implements domain.ConfigStore on a single SQLite file.
// The schema is created lazily the first time a statement hits a missing table.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ domain.ConfigStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// One process, one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// CreateSchema creates any missing table. It is idempotent.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
	}
	s.logger.Debug("database schema created", "path", s.path)
	return nil
}

// withSchema runs fn and, if it failed on a missing table, creates the schema
// and runs fn exactly once more.
func (s *SQLiteStore) withSchema(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isMissingTable(err) {
		return err
	}
	s.logger.Debug("missing table, creating schema", "err", err)
	if err := s.CreateSchema(ctx); err != nil {
		return err
	}
	return fn()
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// Get returns the value stored under key. ok is false when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	var found bool
	err := s.withSchema(ctx, func() error {
		found = false
		err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get config %q: %w", key, err)
	}
	return value.String, found, nil
}

// Set stores value under key. Each call commits on its own; a failure is
// logged at critical level and returned.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	err := s.withSchema(ctx, func() error {
		// Databases from older releases lack the UNIQUE constraint on key,
		// so update first and insert only when nothing matched.
		res, err := s.db.ExecContext(ctx, `UPDATE config SET value = ? WHERE key = ?`, value, key)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)`, key, value)
		return err
	})
	if err != nil {
		s.logger.Log(ctx, logging.LevelCritical, "error on SQL execution", "op", "set config", "key", key, "err", err)
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the config table.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	err := s.withSchema(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
		return err
	})
	if err != nil {
		s.logger.Log(ctx, logging.LevelCritical, "error on SQL execution", "op", "delete config", "key", key, "err", err)
		return fmt.Errorf("delete config %q: %w", key, err)
	}
	return nil
}

// ConfigEntry is one row of the config table.
type ConfigEntry struct {
	Key   string
	Value string
}

// List returns every config entry ordered by key.
func (s *SQLiteStore) List(ctx context.Context) ([]ConfigEntry, error) {
	var entries []ConfigEntry
	err := s.withSchema(ctx, func() error {
		entries = nil
		rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key, value sql.NullString
			if err := rows.Scan(&key, &value); err != nil {
				return err
			}
			entries = append(entries, ConfigEntry{Key: key.String, Value: value.String})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
