// Package store persists the correspondence between local paths and remote
// Canvas objects. It is the only durable state the tool keeps: one row per
// tracked path with the remote id, entity type and the content hash captured
// at the last successful sync. SQLite keeps writes atomic across interrupted
// runs, which a flat index file would need temp-write-and-rename to match.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"canvas-sync/internal/content"
)

// DBFileName is the store's filename inside the sync root.
const DBFileName = ".canvas-sync.db"

// Entry is one tracked correspondence. LocalPath is unique, and so is the
// (entity_type, remote_id) pair: no two local files may claim the same
// remote object.
type Entry struct {
	LocalPath    string
	Kind         content.Kind
	RemoteID     string
	ContentHash  string
	LastSyncTime time.Time
}

// DuplicateMappingError reports an attempt to map a remote object that
// already belongs to a different local path. The existing row is untouched.
type DuplicateMappingError struct {
	Kind         content.Kind
	RemoteID     string
	ExistingPath string
	NewPath      string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("duplicate mapping: %s %s already maps to %s (rejected %s)",
		e.Kind, e.RemoteID, e.ExistingPath, e.NewPath)
}

type Store struct {
	db *sql.DB

	// Serializes Record/Forget. Two concurrent creates for the same new
	// path must never both succeed.
	mux sync.Mutex
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mappings (
			local_path TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			last_sync_time DATETIME NOT NULL,
			UNIQUE (entity_type, remote_id)
		);
		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			created INTEGER DEFAULT 0,
			updated INTEGER DEFAULT 0,
			unchanged INTEGER DEFAULT 0,
			conflicts INTEGER DEFAULT 0,
			failures INTEGER DEFAULT 0
		);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the entry for a local path, if one exists.
func (s *Store) Lookup(localPath string) (*Entry, bool, error) {
	return s.scanOne(`
		SELECT local_path, entity_type, remote_id, content_hash, last_sync_time
		FROM mappings WHERE local_path = ?
	`, localPath)
}

// ByRemote returns the entry owning a remote object, if one exists.
func (s *Store) ByRemote(kind content.Kind, remoteID string) (*Entry, bool, error) {
	return s.scanOne(`
		SELECT local_path, entity_type, remote_id, content_hash, last_sync_time
		FROM mappings WHERE entity_type = ? AND remote_id = ?
	`, string(kind), remoteID)
}

func (s *Store) scanOne(query string, args ...any) (*Entry, bool, error) {
	var e Entry
	var kind string
	err := s.db.QueryRow(query, args...).Scan(
		&e.LocalPath, &kind, &e.RemoteID, &e.ContentHash, &e.LastSyncTime,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e.Kind = content.Kind(kind)
	return &e, true, nil
}

// Record upserts an entry. Fails with *DuplicateMappingError when the remote
// object already maps to a different local path; in that case the existing
// row is left exactly as it was.
func (s *Store) Record(e Entry) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	existing, found, err := s.ByRemote(e.Kind, e.RemoteID)
	if err != nil {
		return err
	}
	if found && existing.LocalPath != e.LocalPath {
		return &DuplicateMappingError{
			Kind:         e.Kind,
			RemoteID:     e.RemoteID,
			ExistingPath: existing.LocalPath,
			NewPath:      e.LocalPath,
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO mappings (local_path, entity_type, remote_id, content_hash, last_sync_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(local_path) DO UPDATE SET
			entity_type = excluded.entity_type,
			remote_id = excluded.remote_id,
			content_hash = excluded.content_hash,
			last_sync_time = excluded.last_sync_time
	`, e.LocalPath, string(e.Kind), e.RemoteID, e.ContentHash, e.LastSyncTime)
	return err
}

// Forget drops the entry for a local path. Dropping an untracked path is not
// an error.
func (s *Store) Forget(localPath string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	_, err := s.db.Exec(`DELETE FROM mappings WHERE local_path = ?`, localPath)
	return err
}

// All returns every entry ordered by local path.
func (s *Store) All() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT local_path, entity_type, remote_id, content_hash, last_sync_time
		FROM mappings ORDER BY local_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.LocalPath, &kind, &e.RemoteID, &e.ContentHash, &e.LastSyncTime); err != nil {
			return nil, err
		}
		e.Kind = content.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// BeginRun records the start of an export/import run and returns its id.
func (s *Store) BeginRun(direction string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, direction, started_at) VALUES (?, ?, ?)
	`, id, direction, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun stamps a run's end time and outcome counts.
func (s *Store) FinishRun(id string, created, updated, unchanged, conflicts, failures int) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET finished_at = ?, created = ?, updated = ?, unchanged = ?, conflicts = ?, failures = ?
		WHERE id = ?
	`, time.Now().UTC(), created, updated, unchanged, conflicts, failures, id)
	return err
}
