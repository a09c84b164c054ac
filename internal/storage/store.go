// Package storage implements relational persistence for depot on SQLite.
// All mutations touching stock counts or asset status run through
// WithTxRetry, which provides the serializable path the loan engine
// depends on.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
)

// MaxPageSize is the hard upper bound on offset+limit pagination.
const MaxPageSize = 200

// txRetries bounds the busy-retry loop on contended writes.
const txRetries = 3

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Entity functions take a Querier so the same code serves pooled reads and
// in-transaction mutations.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store manages the SQLite connection pool.
type Store struct {
	db     *sql.DB
	logger *common.Logger
}

// Open creates the database connection with WAL journaling, foreign keys,
// and a bounded busy timeout, then applies the schema.
func Open(path string, logger *common.Logger) (*Store, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = absPath
	}

	connStr := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One pool for the whole server; one transaction per request maximum.
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

// migrate applies the embedded schema.
func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	if _, err := tx.Exec(schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// DB returns the pooled connection for read paths.
func (s *Store) DB() Querier {
	return s.db
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn in a transaction with begin, commit, rollback, and
// panic recovery handled. SQLite transactions are serializable.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "store unavailable", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = classifyError(commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// WithTxRetry runs WithTx and retries on engine-level write contention, up
// to txRetries attempts with jittered millisecond backoff. Past the budget
// the caller sees a conflict.
func (s *Store) WithTxRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= txRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1+rand.Intn(4)) * time.Millisecond * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindUnavailable, "request cancelled", ctx.Err())
			}
			s.logger.Debug().Int("attempt", attempt).Msg("Retrying contended transaction")
		}
		err = s.WithTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return apperr.Wrap(apperr.KindConflict, "stock contention, retry", err)
}

// isBusy reports whether err is SQLite write contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "table is locked")
}

// classifyError maps driver errors onto the application taxonomy.
// Constraint violations are conflicts; contention stays visible for the
// retry loop; everything else is an outage.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return apperr.Wrap(apperr.KindConflict, "resource already exists", err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return apperr.Wrap(apperr.KindConflict, "constraint violated", err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return apperr.Wrap(apperr.KindConflict, "referenced resource in use or missing", err)
	case isBusy(err):
		return err
	default:
		return apperr.Wrap(apperr.KindUnavailable, "store unavailable", err)
	}
}

// ClampPage normalizes offset/limit to sane, bounded values.
func ClampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return offset, limit
}
