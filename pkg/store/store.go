// Package store provides durable persistence for sessions and their
// dependent entities over SQLite (default) or PostgreSQL, behind a single
// sqlx query layer. Schema management is handled by embedded golang-migrate
// migrations applied at open time.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

const sqliteBusyTimeout = 5 * time.Second

// Store is the durable session store.
type Store struct {
	db      *sqlx.DB
	dialect string // "sqlite3" or "postgres"
}

// Open connects to the store selected by the configuration: PostgreSQL when
// databaseURL is set, otherwise SQLite at storePath. Migrations run before
// Open returns.
func Open(ctx context.Context, storePath, databaseURL string) (*Store, error) {
	var s *Store
	var err error
	if databaseURL != "" {
		s, err = openPostgres(databaseURL)
	} else {
		s, err = openSQLite(storePath)
	}
	if err != nil {
		return nil, err
	}

	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.db.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	slog.Info("Store opened", "dialect", s.dialect)
	return s, nil
}

func openSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: STORE_PATH is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	// WAL allows readers to proceed alongside the single writer; the busy
	// timeout absorbs transient lock contention instead of failing.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, int(sqliteBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// Single connection serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db, dialect: "sqlite3"}, nil
}

func openPostgres(url string) (*Store, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	return &Store{db: db, dialect: "postgres"}, nil
}

func (s *Store) migrate() error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration fs: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	var m *migrate.Migrate
	switch s.dialect {
	case "postgres":
		driver, derr := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
		if derr != nil {
			return fmt.Errorf("store: migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	default:
		driver, derr := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
		if derr != nil {
			return fmt.Errorf("store: migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	}
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Ping verifies store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind translates `?` placeholders to the dialect's form.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
