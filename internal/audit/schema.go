package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			operation TEXT NOT NULL,
			result TEXT NOT NULL CHECK(result IN ('allowed', 'denied')),
			reason TEXT NOT NULL,
			context TEXT,
			approval_requested INTEGER NOT NULL DEFAULT 0,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_update
		BEFORE UPDATE ON audit_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on audit_log');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_delete
		BEFORE DELETE ON audit_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on audit_log');
		END`

	indexAgent = `
		CREATE INDEX IF NOT EXISTS idx_agent_result ON audit_log(agent_id, result)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexAgent,
	}
}
