// Package knowledge stores rated question/answer pairs in SQLite.
// It uses modernc.org/sqlite for pure-Go, CGO-free database access.
package knowledge

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/001_knowledge.sql
var knowledgeSchema string

// Store provides access to the question/answer database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens the SQLite database at dbPath, creating the parent
// directory if needed, and ensures the schema. dbPath is the
// knowledge.db_path config value (default ~/.relay/knowledge.db).
func Open(dbPath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.log.Debug().Str("path", dbPath).Msg("knowledge store opened")
	return store, nil
}

// NewStore wraps an existing database handle, applies the connection
// pragmas, and ensures the schema.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: logger.With().Str("component", "knowledge").Logger(),
	}
	if err := s.initPragmas(); err != nil {
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// initPragmas configures SQLite for concurrent reads and bounded lock waits.
func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies the embedded schema. Safe to call more than once.
func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, knowledgeSchema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// Close flushes the WAL to the main database file and closes the handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn().Err(err).Msg("wal checkpoint failed")
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
