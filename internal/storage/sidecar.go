package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// index_info keys
const (
	infoGeneration = "generation"
	infoDimension  = "dimension"
	infoCount      = "count"
	infoIndexType  = "index_type"
	infoCreatedAt  = "created_at"
)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// The sidecar is renamed into place after writing, so it must be a
	// single self-contained file: no WAL.
	if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// writeSidecar creates the metadata database at path. path must not exist.
func writeSidecar(ctx context.Context, path string, snap *Snapshot) error {
	db, err := openDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := ApplyMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertInfo(ctx, tx, snap); err != nil {
		return err
	}
	if err := insertRecords(ctx, tx, snap.Entries); err != nil {
		return err
	}
	if err := insertIDPositions(ctx, tx, snap.IDPositions); err != nil {
		return err
	}
	if err := insertTerms(ctx, tx, snap.Terms); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sidecar: %w", err)
	}
	return db.Close()
}

func insertInfo(ctx context.Context, q querier, snap *Snapshot) error {
	info := map[string]string{
		infoGeneration: snap.Generation.String(),
		infoDimension:  strconv.Itoa(snap.Dimension),
		infoCount:      strconv.Itoa(snap.Count()),
		infoIndexType:  snap.IndexType,
		infoCreatedAt:  snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range info {
		if _, err := q.ExecContext(ctx, "INSERT INTO index_info (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write index info %s: %w", k, err)
		}
	}
	return nil
}

func insertRecords(ctx context.Context, q querier, entries []Entry) error {
	const query = `
		INSERT INTO records (position, chunk_id, content, start_ref, end_ref, section, topic,
			active_ingredients, keywords, is_subject_related, has_conditions, doc_type, doc_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for pos, e := range entries {
		ingredients, err := json.Marshal(nonNil(e.Metadata.ActiveIngredients))
		if err != nil {
			return err
		}
		keywords, err := json.Marshal(nonNil(e.Metadata.Keywords))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, query,
			pos, e.ID, e.Content, e.StartRef, e.EndRef,
			e.Metadata.Section, e.Metadata.Topic,
			string(ingredients), string(keywords),
			e.Metadata.IsSubjectRelated, e.Metadata.HasConditions,
			e.Metadata.DocType, e.Metadata.DocSource)
		if err != nil {
			return fmt.Errorf("failed to write record %s: %w", e.ID, err)
		}
	}
	return nil
}

func insertIDPositions(ctx context.Context, q querier, ids map[string]int) error {
	for id, pos := range ids {
		if _, err := q.ExecContext(ctx, "INSERT INTO id_positions (chunk_id, position) VALUES (?, ?)", id, pos); err != nil {
			return fmt.Errorf("failed to write id position %s: %w", id, err)
		}
	}
	return nil
}

func insertTerms(ctx context.Context, q querier, terms map[string][]int) error {
	for term, positions := range terms {
		for _, pos := range positions {
			if _, err := q.ExecContext(ctx, "INSERT INTO term_positions (term, position) VALUES (?, ?)", term, pos); err != nil {
				return fmt.Errorf("failed to write term position %s: %w", term, err)
			}
		}
	}
	return nil
}

// readSidecar loads the metadata database at path. Vectors are left empty.
func readSidecar(ctx context.Context, path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: metadata sidecar %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat metadata sidecar: %w", err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := checkCompatible(ctx, db); err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	count, err := readInfo(ctx, db, snap)
	if err != nil {
		return nil, err
	}
	if snap.Entries, err = readRecords(ctx, db); err != nil {
		return nil, err
	}
	if len(snap.Entries) != count {
		return nil, fmt.Errorf("%w: sidecar declares %d records, holds %d", ErrCorrupt, count, len(snap.Entries))
	}
	if snap.IDPositions, err = readIDPositions(ctx, db); err != nil {
		return nil, err
	}
	if snap.Terms, err = readTerms(ctx, db); err != nil {
		return nil, err
	}
	return snap, nil
}

// readInfo fills the snapshot header and returns the declared record count.
func readInfo(ctx context.Context, q querier, snap *Snapshot) (int, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM index_info")
	if err != nil {
		return 0, fmt.Errorf("%w: read index info: %v", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	info := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return 0, fmt.Errorf("%w: scan index info: %v", ErrCorrupt, err)
		}
		info[k] = v
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if snap.Generation, err = uuid.Parse(info[infoGeneration]); err != nil {
		return 0, fmt.Errorf("%w: bad generation %q", ErrCorrupt, info[infoGeneration])
	}
	if snap.Dimension, err = strconv.Atoi(info[infoDimension]); err != nil || snap.Dimension <= 0 {
		return 0, fmt.Errorf("%w: bad dimension %q", ErrCorrupt, info[infoDimension])
	}
	count, err := strconv.Atoi(info[infoCount])
	if err != nil || count < 0 {
		return 0, fmt.Errorf("%w: bad count %q", ErrCorrupt, info[infoCount])
	}
	snap.IndexType = info[infoIndexType]
	if created := info[infoCreatedAt]; created != "" {
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	return count, nil
}

func readRecords(ctx context.Context, q querier) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT position, chunk_id, content, start_ref, end_ref, section, topic,
			active_ingredients, keywords, is_subject_related, has_conditions, doc_type, doc_source
		FROM records ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: read records: %v", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			pos                   int
			e                     Entry
			ingredients, keywords string
		)
		err := rows.Scan(&pos, &e.ID, &e.Content, &e.StartRef, &e.EndRef,
			&e.Metadata.Section, &e.Metadata.Topic, &ingredients, &keywords,
			&e.Metadata.IsSubjectRelated, &e.Metadata.HasConditions,
			&e.Metadata.DocType, &e.Metadata.DocSource)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrCorrupt, err)
		}
		if pos != len(entries) {
			return nil, fmt.Errorf("%w: record positions are not contiguous at %d", ErrCorrupt, pos)
		}
		if err := json.Unmarshal([]byte(ingredients), &e.Metadata.ActiveIngredients); err != nil {
			return nil, fmt.Errorf("%w: record %s active ingredients: %v", ErrCorrupt, e.ID, err)
		}
		if err := json.Unmarshal([]byte(keywords), &e.Metadata.Keywords); err != nil {
			return nil, fmt.Errorf("%w: record %s keywords: %v", ErrCorrupt, e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func readIDPositions(ctx context.Context, q querier) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, "SELECT chunk_id, position FROM id_positions")
	if err != nil {
		return nil, fmt.Errorf("%w: read id positions: %v", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]int)
	for rows.Next() {
		var id string
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, fmt.Errorf("%w: scan id position: %v", ErrCorrupt, err)
		}
		ids[id] = pos
	}
	return ids, rows.Err()
}

func readTerms(ctx context.Context, q querier) (map[string][]int, error) {
	rows, err := q.QueryContext(ctx, "SELECT term, position FROM term_positions ORDER BY term, position")
	if err != nil {
		return nil, fmt.Errorf("%w: read term positions: %v", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	terms := make(map[string][]int)
	for rows.Next() {
		var term string
		var pos int
		if err := rows.Scan(&term, &pos); err != nil {
			return nil, fmt.Errorf("%w: scan term position: %v", ErrCorrupt, err)
		}
		terms[term] = append(terms[term], pos)
	}
	return terms, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
