// Package store persists conversations and the model catalog in SQLite through gorm.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/anand-san/murmur/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist or is owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record with the same id already exists.
	ErrConflict = errors.New("already exists")
	// ErrInvalid is returned for inputs that violate a catalog rule.
	ErrInvalid = errors.New("invalid input")
)

// Store wraps the gorm handle shared by every repository in this package.
type Store struct {
	db             *gorm.DB
	titleMaxLength int
}

// Option configures a Store.
type Option func(*Store)

// WithTitleMaxLength sets the rune limit for derived conversation titles.
func WithTitleMaxLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleMaxLength = n
		}
	}
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection serializes transactions.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Conversation{},
		&model.MessageLog{},
		&model.ProviderCredential{},
		&model.ModelDescriptor{},
		&model.Agent{},
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	s := &Store{db: db, titleMaxLength: 100}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
