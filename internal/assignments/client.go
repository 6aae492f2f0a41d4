// Package assignments stores which vehicle runs which block on a service
// date. Reports that carry no trip are matched to a block through it.
package assignments

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/logging"
)

//go:embed schema.sql
var ddl string

type Config struct {
	DBPath string
	Env    appconf.Environment
	Clock  clock.Clock
}

// Store is the SQLite-backed assignment table.
type Store struct {
	config Config
	DB     *sql.DB
	clock  clock.Clock
}

func NewStore(config Config) (*Store, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create assignments DB: %w", err)
	}
	c := config.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	return &Store{config: config, DB: db, clock: c}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) DBPath() string {
	return s.config.DBPath
}

func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	// :memory: gives every connection its own database.
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx := context.Background()
	if err := configureSQLite(ctx, db, config.DBPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite: %w", err)
	}
	if err := performDatabaseMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}
	return db, nil
}

func configureSQLite(ctx context.Context, db *sql.DB, path string) error {
	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	logger := slog.Default().With(slog.String("component", "assignments_db"))
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logging.LogError(logger, "Failed to apply pragma", err, slog.String("pragma", pragma))
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmed); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmed, err)
		}
	}
	return nil
}
