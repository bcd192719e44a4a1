package sqlite

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		modified_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id)`,

	`CREATE TABLE IF NOT EXISTS extraction_attempts (
		attempt_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'error')),
		method TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		error_message TEXT,
		processing_duration_ms INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_document ON extraction_attempts(document_id, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS extracted_artifacts (
		artifact_id TEXT NOT NULL UNIQUE,
		document_id TEXT PRIMARY KEY,
		attempt_id TEXT,
		storage_path TEXT,
		content TEXT NOT NULL,
		method TEXT NOT NULL,
		extracted_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		preview TEXT NOT NULL DEFAULT '',
		word_count INTEGER NOT NULL DEFAULT 0,
		character_count INTEGER NOT NULL DEFAULT 0
	)`,
}
