package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteStorage keeps the checkpoint as one row of a SQLite table.
type SQLiteStorage struct {
	db  *sql.DB
	key string
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenSQLiteStorage opens path (or ":memory:") and creates the table if needed.
func OpenSQLiteStorage(ctx context.Context, path, key string) (*SQLiteStorage, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases alive and writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoint (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

func (s *SQLiteStorage) Save(ctx context.Context, cp Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint to sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Retrieve(ctx context.Context) (Checkpoint, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoint WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint from sqlite: %w", err)
	}
	return decode([]byte(value))
}

func (s *SQLiteStorage) CleanUp(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("clean up sqlite checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
