package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// sqliteKV is the durable compress.Storage used by the editor. It keeps one
// row per key; the persister only ever writes one.
type sqliteKV struct {
	db      *sql.DB
	timeout time.Duration
}

func openStateDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir for %q: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %q: %w", path, err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)
	return db, nil
}

func newSQLiteKV(db *sql.DB) (*sqliteKV, error) {
	kv := &sqliteKV{db: db, timeout: 5 * time.Second}
	ctx, cancel := kv.context()
	defer cancel()
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return kv, nil
}

func (s *sqliteKV) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *sqliteKV) Get(key string) (string, bool, error) {
	ctx, cancel := s.context()
	defer cancel()
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteKV) Set(key, value string) error {
	ctx, cancel := s.context()
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write key %q: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) Remove(key string) error {
	ctx, cancel := s.context()
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) Close() error {
	return s.db.Close()
}
