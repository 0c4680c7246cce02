package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101501

var ftsLanguagePattern = regexp.MustCompile(`^[a-z_]+$`)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the folder, permission and document tables. The chunk
// search vector is a generated column, so it always matches chunk content.
func EnsureSchema(ctx context.Context, db *sql.DB, ftsLanguage string) error {
	if !ftsLanguagePattern.MatchString(ftsLanguage) {
		return fmt.Errorf("invalid full-text language %q", ftsLanguage)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL(ftsLanguage)); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func schemaDDL(ftsLanguage string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	parent_id TEXT REFERENCES folders(id) ON DELETE CASCADE,
	is_root BOOLEAN NOT NULL DEFAULT FALSE,
	is_permission_inherited BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_single_root ON folders(is_root) WHERE is_root;
CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

CREATE TABLE IF NOT EXISTS groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (group_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

CREATE TABLE IF NOT EXISTS app_admins (
	user_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS folder_group_permissions (
	folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	permission TEXT NOT NULL CHECK (permission IN ('READ_ONLY', 'FULL_ACCESS')),
	PRIMARY KEY (folder_id, group_id)
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	page_number INTEGER NOT NULL DEFAULT 0,
	chunk_order INTEGER NOT NULL DEFAULT 0,
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('%[1]s', content)) STORED
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id, chunk_order);
CREATE INDEX IF NOT EXISTS idx_document_chunks_search ON document_chunks USING GIN (search_vector);
`, ftsLanguage)
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
