package dbstore

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"codeintel/internal/coreerr"
)

func isBusyOrLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func isFKViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key") || strings.Contains(msg, "constraint failed")
}

func jitteredDelay(base time.Duration) time.Duration {
	return base + time.Duration(rand.Int63n(int64(base)+1))
}

func cappedBackoff(attempt int, ceiling time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
	if d > ceiling {
		d = ceiling
	}
	return jitteredDelay(d)
}

// Row is a single result row from Query, keyed by column name.
type Row map[string]any

// Query runs a read query with up to 2 attempts, retrying only on
// busy/locked errors with a short jittered delay.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rows, err := s.queryOnce(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !isBusyOrLocked(err) || attempt == maxAttempts-1 {
			break
		}
		time.Sleep(jitteredDelay(5 * time.Millisecond))
	}
	s.emit("database:query-error", map[string]any{"query": query, "error": lastErr.Error()})
	return nil, coreerr.New(coreerr.TransientContention, "dbstore", "Query", lastErr)
}

func (s *Store) queryOnce(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ExecResult reports the outcome of Execute.
type ExecResult struct {
	Changes      int64
	LastInsertID int64
}

// Execute runs a write statement with up to 3 attempts, exponential
// backoff capped at 250ms. On the first attempt only, a foreign-key
// violation is also treated as retryable (an upstream fixer may have
// repaired the missing parent row by the next attempt).
func (s *Store) Execute(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if err := s.acquire(ctx); err != nil {
		return ExecResult{}, err
	}
	defer s.release()

	const maxAttempts = 3
	const backoffCeiling = 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			changes, _ := res.RowsAffected()
			id, _ := res.LastInsertId()
			return ExecResult{Changes: changes, LastInsertID: id}, nil
		}
		lastErr = err

		retryable := isBusyOrLocked(err) || (attempt == 0 && isFKViolation(err))
		if !retryable || attempt == maxAttempts-1 {
			break
		}
		time.Sleep(cappedBackoff(attempt, backoffCeiling))
	}

	kind := coreerr.TransientContention
	if isFKViolation(lastErr) {
		kind = coreerr.FKViolation
	}
	s.emit("database:execute-error", map[string]any{"query": query, "error": lastErr.Error()})
	return ExecResult{}, coreerr.New(kind, "dbstore", "Execute", lastErr)
}

// TxQueryFunc is handed to a Transaction body; it dispatches SELECT queries
// through Query semantics and everything else through Exec, both scoped to
// the enclosing transaction.
type TxQueryFunc func(ctx context.Context, query string, args ...any) (any, error)

// Transaction runs body inside a BEGIN/COMMIT, retrying the whole
// transaction up to 3 times on busy/locked with capped jittered backoff.
// body's error triggers ROLLBACK; a nil return triggers COMMIT.
func (s *Store) Transaction(ctx context.Context, body func(ctx context.Context, tx TxQueryFunc) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	const maxAttempts = 3
	const backoffCeiling = 250 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTransactionOnce(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyOrLocked(err) || attempt == maxAttempts-1 {
			break
		}
		time.Sleep(cappedBackoff(attempt, backoffCeiling))
	}
	s.emit("database:transaction-error", map[string]any{"error": lastErr.Error()})
	return coreerr.New(coreerr.TransientContention, "dbstore", "Transaction", lastErr)
}

func (s *Store) runTransactionOnce(ctx context.Context, body func(ctx context.Context, tx TxQueryFunc) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	dispatch := func(ctx context.Context, query string, args ...any) (any, error) {
		trimmed := strings.TrimSpace(strings.ToUpper(query))
		if strings.HasPrefix(trimmed, "SELECT") {
			rows, err := tx.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, err
			}
			defer rows.Close()
			cols, err := rows.Columns()
			if err != nil {
				return nil, err
			}
			var result []Row
			for rows.Next() {
				values := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range values {
					ptrs[i] = &values[i]
				}
				if err := rows.Scan(ptrs...); err != nil {
					return nil, err
				}
				row := make(Row, len(cols))
				for i, c := range cols {
					row[c] = values[i]
				}
				result = append(result, row)
			}
			return result, rows.Err()
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		changes, _ := res.RowsAffected()
		id, _ := res.LastInsertId()
		return ExecResult{Changes: changes, LastInsertID: id}, nil
	}

	if err := body(ctx, dispatch); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

// ForeignKeyRef names a parent row a child insert depends on, with an
// optional default record to insert when the parent is missing.
type ForeignKeyRef struct {
	Table          string
	Column         string
	Value          any
	DefaultInsert  string // INSERT statement to run if the parent is absent
	DefaultArgs    []any
}

// InsertWithFKValidation ensures every parent referenced by fks exists
// (inserting DefaultInsert when absent and provided) before running the
// child insert, all inside one transaction.
func (s *Store) InsertWithFKValidation(ctx context.Context, childInsert string, childArgs []any, fks []ForeignKeyRef) (ExecResult, error) {
	var result ExecResult
	err := s.Transaction(ctx, func(ctx context.Context, tx TxQueryFunc) error {
		for _, fk := range fks {
			check := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1", fk.Table, fk.Column)
			rowsAny, err := tx(ctx, check, fk.Value)
			if err != nil {
				return err
			}
			rows, _ := rowsAny.([]Row)
			if len(rows) > 0 {
				continue
			}
			if fk.DefaultInsert == "" {
				return coreerr.New(coreerr.FKViolation, "dbstore", "InsertWithFKValidation",
					fmt.Errorf("missing parent row in %s.%s and no default provided", fk.Table, fk.Column))
			}
			if _, err := tx(ctx, fk.DefaultInsert, fk.DefaultArgs...); err != nil {
				return err
			}
		}
		res, err := tx(ctx, childInsert, childArgs...)
		if err != nil {
			return err
		}
		result = res.(ExecResult)
		return nil
	})
	return result, err
}
