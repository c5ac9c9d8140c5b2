package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists entries to an append-only table. Triggers reject every
// UPDATE and DELETE, so stored history cannot be rewritten through SQL.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	sink := &SQLiteSink{db: db}

	if err := sink.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *SQLiteSink) Write(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	return s.insertEntry(ctx, e)
}

// Query returns stored entries matching f, newest first.
func (s *SQLiteSink) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query, args := buildSelect(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *SQLiteSink) Tail(ctx context.Context) (int64, string, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, queryMaxSeq).Scan(&seq); err != nil {
		return 0, "", fmt.Errorf("query tail: %w", err)
	}
	if seq == 0 {
		return 0, GenesisHash, nil
	}

	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM audit_log WHERE seq = ?", seq).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("query tail hash: %w", err)
	}
	return seq, hash, nil
}

// Verify walks the complete stored chain from genesis.
func (s *SQLiteSink) Verify(ctx context.Context) error {
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		return err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return VerifyChain(entries, true)
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) insertEntry(ctx context.Context, e Entry) error {
	contextJSON, err := encodeContext(e.Context)
	if err != nil {
		return err
	}

	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, queryInsertEntry,
			e.Seq,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.AgentID,
			e.ToolName,
			string(e.Operation),
			string(e.Result),
			e.Reason,
			contextJSON,
			e.ApprovalRequested,
			e.PrevHash,
			e.Hash,
		)
		if err == nil {
			return nil
		}

		// Check if it's a lock error
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			backoff := time.Duration(attempt+1) * 10 * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		// Non-lock error, fail immediately
		return fmt.Errorf("insert entry: %w", err)
	}

	return fmt.Errorf("insert entry after %d retries: %w", maxRetries, err)
}
