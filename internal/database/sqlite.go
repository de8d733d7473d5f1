// Package database provides durable key/value backends for the token store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultTTL matches the lifetime of a remembered session cookie.
const DefaultTTL = 30 * 24 * time.Hour

// SQLiteStorage keeps token values in a single table, each row carrying the
// time after which it is ignored and eventually pruned.
type SQLiteStorage struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewSQLiteStorage(
	dbPath string,
	ttl time.Duration,
) (
	*SQLiteStorage,
	error,
) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// every connection to :memory: is its own database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: couldn't set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLiteStorage{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "token", `
		CREATE TABLE IF NOT EXISTS token (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			expiration  INTEGER NOT NULL
		);`,
	); err != nil {
		return err
	}

	if err := initTable(db, "token_expiration", `
		CREATE INDEX IF NOT EXISTS token_expiration
		ON token (expiration);`,
	); err != nil {
		return err
	}

	return nil
}

func initTable(
	db *sql.DB,
	name string,
	sql string,
) error {
	if _, err := db.Exec(sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %v", name, err)
	}
	return nil
}

func (s *SQLiteStorage) Get(
	ctx context.Context,
	key string,
) (
	string,
	bool,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM token
		WHERE key=?1 AND expiration>?2;`,
		key,
		s.now().Unix(),
	)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't scan token value: %v", err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) Set(
	ctx context.Context,
	key string,
	value string,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token (key, value, expiration)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (key) DO UPDATE
		SET value=excluded.value, expiration=excluded.expiration;`,
		key,
		value,
		s.now().Add(s.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("couldn't insert into token: %v", err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(
	ctx context.Context,
	key string,
) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM token
		WHERE key=?1;`,
		key,
	)
	if err != nil {
		return fmt.Errorf("couldn't delete from token: %v", err)
	}
	return nil
}

// PruneExpired deletes rows past their expiration and reports how many
// were removed.
func (s *SQLiteStorage) PruneExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM token
		WHERE expiration<=?1;`,
		s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("couldn't prune token: %v", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return count, nil
}
