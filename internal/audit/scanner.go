package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dagbolade/agency-guard/internal/policy"
)

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var timestamp, operation, result string
	var contextJSON sql.NullString

	if err := rows.Scan(&e.Seq, &timestamp, &e.AgentID, &e.ToolName, &operation, &result, &e.Reason, &contextJSON, &e.ApprovalRequested, &e.PrevHash, &e.Hash); err != nil {
		return Entry{}, fmt.Errorf("scan row: %w", err)
	}

	parsedTime, err := parseTimestamp(timestamp)
	if err != nil {
		return Entry{}, err
	}
	e.Timestamp = parsedTime
	e.Operation = policy.Operation(operation)
	e.Result = Result(result)

	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
			return Entry{}, fmt.Errorf("decode context: %w", err)
		}
	}

	return e, nil
}

func parseTimestamp(timestamp string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err == nil {
		return t, nil
	}

	// Fallback to SQLite datetime format
	t, err = time.Parse("2006-01-02 15:04:05", timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return t, nil
}

func encodeContext(ctx map[string]any) (sql.NullString, error) {
	if len(ctx) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode context: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
