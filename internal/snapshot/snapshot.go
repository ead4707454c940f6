// Package snapshot is the default storage.* capability (spec §4.J, §6):
// a sqlite-backed session snapshot store, one row per flowId, adapted
// from the teacher's embedded-database choice in
// internal/state/store.go (modernc.org/sqlite, no cgo).
package snapshot

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store implements the orchestrator's Storage contract, keyed by flowId.
// Rows carry the full persisted shape from spec §4.J / §6 —
// {schemaVersion, flowId, activeNode, context, history, results} — as
// loosely-typed JSON columns, since the orchestrator itself owns the
// blob's concrete shape and only needs round-tripping, not a typed
// record.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a sqlite database at path and ensures
// the snapshot table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %q: %w", path, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_snapshots (
			flow_id        TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			active_node    TEXT NOT NULL,
			context_json   TEXT NOT NULL,
			history_json   TEXT NOT NULL,
			results_json   TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("snapshot: create schema: %w", err)
	}
	return nil
}

// Save implements orchestrator.Storage. blob is expected to be the
// map[string]any the orchestrator builds in Actor.persist.
func (s *Store) Save(flowID string, blob any) error {
	m, ok := blob.(map[string]any)
	if !ok {
		return fmt.Errorf("snapshot: blob must be map[string]any")
	}
	schemaVersion, _ := m["schemaVersion"].(int)
	activeNode, _ := m["activeNode"].(string)

	contextJSON, err := json.Marshal(m["context"])
	if err != nil {
		return fmt.Errorf("snapshot: marshal context: %w", err)
	}
	historyJSON, err := json.Marshal(m["history"])
	if err != nil {
		return fmt.Errorf("snapshot: marshal history: %w", err)
	}
	resultsJSON, err := json.Marshal(m["results"])
	if err != nil {
		return fmt.Errorf("snapshot: marshal results: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO flow_snapshots (flow_id, schema_version, active_node, context_json, history_json, results_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			active_node    = excluded.active_node,
			context_json   = excluded.context_json,
			history_json   = excluded.history_json,
			results_json   = excluded.results_json,
			updated_at     = excluded.updated_at
	`, flowID, schemaVersion, activeNode, string(contextJSON), string(historyJSON), string(resultsJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("snapshot: save %q: %w", flowID, err)
	}
	return nil
}

// Load implements orchestrator.Storage, returning the raw blob shape
// the orchestrator knows how to rehydrate (schemaVersion gating
// happens in the orchestrator, mirroring the teacher's migration-guard
// pattern of "version-check before rehydrate, not before load").
func (s *Store) Load(flowID string) (any, bool, error) {
	row := s.db.QueryRow(`
		SELECT schema_version, active_node, context_json, history_json, results_json
		FROM flow_snapshots WHERE flow_id = ?
	`, flowID)

	var schemaVersion int
	var activeNode, contextJSON, historyJSON, resultsJSON string
	if err := row.Scan(&schemaVersion, &activeNode, &contextJSON, &historyJSON, &resultsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot: load %q: %w", flowID, err)
	}

	var context map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &context); err != nil {
		return nil, false, fmt.Errorf("snapshot: unmarshal context: %w", err)
	}
	var history []any
	_ = json.Unmarshal([]byte(historyJSON), &history)
	var results map[string]any
	_ = json.Unmarshal([]byte(resultsJSON), &results)

	return map[string]any{
		"schemaVersion": float64(schemaVersion),
		"flowId":        flowID,
		"activeNode":    activeNode,
		"context":       context,
		"history":       history,
		"results":       results,
	}, true, nil
}

// Remove deletes the snapshot row for flowID, if any.
func (s *Store) Remove(flowID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_snapshots WHERE flow_id = ?`, flowID)
	if err != nil {
		return fmt.Errorf("snapshot: remove %q: %w", flowID, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
