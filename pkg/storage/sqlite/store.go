package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps definitions and instance snapshots in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Storage = &Store{}

// Open creates or opens a SQLite database at the given path, ":memory:" keeps it in memory.
// Pragmas and schema are applied on every open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports a single writer, a single connection also keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) FindDefinitions(ctx context.Context) ([]storage.DefinitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version, source, created_at FROM process_definition ORDER BY id, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()
	res := make([]storage.DefinitionRecord, 0)
	for rows.Next() {
		var def storage.DefinitionRecord
		var createdAt int64
		if err := rows.Scan(&def.Id, &def.Version, &def.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		def.CreatedAt = time.UnixMilli(createdAt).UTC()
		res = append(res, def)
	}
	return res, rows.Err()
}

func (s *Store) FindDefinition(ctx context.Context, id string, version int32) (storage.DefinitionRecord, error) {
	def := storage.DefinitionRecord{Id: id, Version: version}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT source, created_at FROM process_definition WHERE id = ? AND version = ?`, id, version).
		Scan(&def.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DefinitionRecord{}, fmt.Errorf("definition %s version %d: %w", id, version, storage.ErrNotFound)
	}
	if err != nil {
		return storage.DefinitionRecord{}, fmt.Errorf("failed to query definition %s: %w", id, err)
	}
	def.CreatedAt = time.UnixMilli(createdAt).UTC()
	return def, nil
}

func (s *Store) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_definition (id, version, source, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id, version) DO UPDATE SET source = excluded.source, created_at = excluded.created_at`,
		definition.Id, definition.Version, definition.Source, definition.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save definition %s: %w", definition.Id, err)
	}
	return nil
}

const instanceColumns = `instance_key, definition_id, definition_version, state, parent_instance_key, snapshot, updated_at`

func scanInstance(scan func(dest ...any) error) (storage.ProcessInstanceRecord, error) {
	var rec storage.ProcessInstanceRecord
	var updatedAt int64
	err := scan(&rec.Key, &rec.DefinitionId, &rec.DefinitionVersion, &rec.State, &rec.ParentInstanceKey, &rec.Snapshot, &updatedAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, err
}

func (s *Store) FindProcessInstance(ctx context.Context, key int64) (storage.ProcessInstanceRecord, error) {
	rec, err := scanInstance(s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM process_instance WHERE instance_key = ?`, key).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProcessInstanceRecord{}, fmt.Errorf("process instance %d: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return storage.ProcessInstanceRecord{}, fmt.Errorf("failed to query process instance %d: %w", key, err)
	}
	return rec, nil
}

func (s *Store) FindProcessInstancesByState(ctx context.Context, state string) ([]storage.ProcessInstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+instanceColumns+` FROM process_instance WHERE state = ? ORDER BY instance_key`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query process instances: %w", err)
	}
	defer rows.Close()
	res := make([]storage.ProcessInstanceRecord, 0)
	for rows.Next() {
		rec, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process instance: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *Store) SaveProcessInstance(ctx context.Context, instance storage.ProcessInstanceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_instance (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_key) DO UPDATE SET state = excluded.state, snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		instance.Key, instance.DefinitionId, instance.DefinitionVersion, instance.State, instance.ParentInstanceKey, instance.Snapshot, instance.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save process instance %d: %w", instance.Key, err)
	}
	return nil
}

func (s *Store) DeleteProcessInstance(ctx context.Context, key int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM process_instance WHERE instance_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete process instance %d: %w", key, err)
	}
	return nil
}
