package audit

import (
	"strings"
)

const (
	queryInsertEntry = `
		INSERT INTO audit_log (seq, timestamp, agent_id, tool_name, operation, result, reason, context, approval_requested, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectEntries = `
		SELECT seq, timestamp, agent_id, tool_name, operation, result, reason, context, approval_requested, prev_hash, hash
		FROM audit_log`

	queryMaxSeq = `SELECT COALESCE(MAX(seq), 0) FROM audit_log`
)

// buildSelect returns the newest-first query for f and its arguments.
func buildSelect(f Filter) (string, []any) {
	var where []string
	var args []any

	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Result != "" {
		where = append(where, "result = ?")
		args = append(args, string(f.Result))
	}

	var b strings.Builder
	b.WriteString(querySelectEntries)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	return b.String(), args
}
