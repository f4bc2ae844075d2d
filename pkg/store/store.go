// Package store implements the transactional key-tabular persistence
// capability described in spec §4.1, backed by SQLite via
// modernc.org/sqlite (pure Go, no cgo), following the teacher's
// pkg/persistence singleton-connection idiom (_foreign_keys=ON,
// _journal_mode=WAL, _busy_timeout=5000, single writer) but without a
// package-level global: the Orchestrator owns the *Store handle directly,
// per spec §9's "the core ... needs only plain constructor wiring."
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"storyforge/pkg/apperrors"
	"storyforge/pkg/logx"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every typed
// accessor run either standalone (auto-committing) or inside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the sole source of truth: no component caches entities beyond a
// single transaction.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx // non-nil when this Store value is scoped to a transaction
	logger *logx.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema described in spec §6 exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite only supports one writer; match the teacher's pool sizing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, logger: logx.NewLogger("store")}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// q returns the queryer to use for this Store value: the active transaction
// if scoped to one, otherwise the shared *sql.DB.
func (s *Store) q() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// WithTransaction executes fn under ACID semantics: commits on normal
// return, rolls back on any error. Nested transactions are disallowed —
// calling WithTransaction again on a Store value already scoped to a
// transaction fails with ErrInvalidOperation, per spec §4.1.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fmt.Errorf("%w: transactions do not nest", apperrors.ErrInvalidOperation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	scoped := &Store{db: s.db, tx: tx, logger: s.logger}

	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
