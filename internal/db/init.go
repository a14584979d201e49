package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS equipment (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    barcode TEXT NOT NULL UNIQUE,
    serial_number TEXT,
    category_id BIGINT,
    category_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'available'
);

CREATE TABLE IF NOT EXISTS scan_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS scan_sessions_user_idx ON scan_sessions (user_id);
CREATE INDEX IF NOT EXISTS scan_sessions_expires_idx ON scan_sessions (expires_at);

CREATE TABLE IF NOT EXISTS scan_session_items (
    session_id TEXT REFERENCES scan_sessions(id) ON DELETE CASCADE,
    position INT NOT NULL,
    equipment_id BIGINT NOT NULL,
    barcode TEXT NOT NULL,
    name TEXT NOT NULL,
    serial_number TEXT,
    category_id BIGINT,
    category_name TEXT NOT NULL DEFAULT '',
    quantity INT NOT NULL DEFAULT 1,
    PRIMARY KEY (session_id, position)
);
`

// InitPostgres connects to dsn and ensures the scan session schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := EnsureSchema(db); err != nil {
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the equipment and scan session tables if missing.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
