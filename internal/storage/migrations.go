package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the sidecar schema version
	CurrentSchemaVersion = "1.0.0"

	// supportedSchemas is the range of sidecar versions this build can read
	supportedSchemas = "^1.0.0"
)

// Migration represents a sidecar schema migration
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all sidecar migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Generation stamp, dimension, count and index type
CREATE TABLE IF NOT EXISTS index_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- One row per record; position is the row in the vector blob
CREATE TABLE IF NOT EXISTS records (
    position INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    start_ref INTEGER NOT NULL,
    end_ref INTEGER NOT NULL,
    section TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    active_ingredients TEXT NOT NULL DEFAULT '[]',
    keywords TEXT NOT NULL DEFAULT '[]',
    is_subject_related BOOLEAN NOT NULL DEFAULT 0,
    has_conditions BOOLEAN NOT NULL DEFAULT 0,
    doc_type TEXT NOT NULL DEFAULT '',
    doc_source TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_records_section ON records(section);
CREATE INDEX IF NOT EXISTS idx_records_doc_type ON records(doc_type);

CREATE TABLE IF NOT EXISTS id_positions (
    chunk_id TEXT PRIMARY KEY,
    position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS term_positions (
    term TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (term, position)
);
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// schemaVersion returns the newest applied version, or 0.0.0 for a fresh file.
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var raw string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || raw == "" {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
	}
	return v, nil
}

// checkCompatible fails unless the sidecar was written with a supported schema.
func checkCompatible(ctx context.Context, db *sql.DB) error {
	v, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	constraint, err := semver.NewConstraint(supportedSchemas)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: sidecar schema %s, supported %s", ErrIncompatible, v, supportedSchemas)
	}
	return nil
}
