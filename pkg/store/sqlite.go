// Package store persists archived workflow records in sqlite so that
// completed workflows survive a process restart and can be inspected
// after the engine has dropped them from memory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/osprey-intel/taskflow/pkg/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS completed_workflows (
	uuid TEXT NOT NULL PRIMARY KEY,
	completed_at TIMESTAMP NOT NULL,
	record BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS completed_workflows_by_time ON completed_workflows (completed_at);
`

type sqliteStore struct {
	Filename string
	DSN      string
	db       *sql.DB
	sysClock func() time.Time
}

// NewSqliteStore opens (creating if needed) an archive database at
// filename.
func NewSqliteStore(filename string) (engine.ArchiveStore, error) {
	dsn := "file:" + filename + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db %s: %w", filename, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive db %s: %w", filename, err)
	}
	store := &sqliteStore{
		Filename: filename,
		DSN:      dsn,
		db:       db,
		sysClock: time.Now,
	}
	return store, nil
}

func (s *sqliteStore) SaveCompleted(done *engine.CompletedWorkflow) error {
	record, err := json.Marshal(done)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO completed_workflows (uuid, completed_at, record) VALUES (?, ?, ?)",
		done.ID, s.sysClock(), record)
	return err
}

func (s *sqliteStore) GetCompleted(id uuid.UUID) (*engine.CompletedWorkflow, bool, error) {
	var record []byte
	row := s.db.QueryRow("SELECT record FROM completed_workflows WHERE uuid = ?", id)
	switch err := row.Scan(&record); err {
	case nil:
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, err
	}
	var done engine.CompletedWorkflow
	if err := json.Unmarshal(record, &done); err != nil {
		return nil, false, err
	}
	return &done, true, nil
}

func (s *sqliteStore) ListCompleted(limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		// sqlite treats a negative LIMIT as unbounded.
		limit = -1
	}
	rows, err := s.db.Query(
		"SELECT uuid FROM completed_workflows ORDER BY completed_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
