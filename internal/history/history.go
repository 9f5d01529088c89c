// Package history keeps a local record of finished imports so `invctl history`
// can show past runs across sessions.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"invctl/internal/model"
)

// DB wraps the sqlite file backing the import history.
type DB struct {
	conn *sql.DB
}

// Entry is one finished import.
type Entry struct {
	JobID      string
	FileName   string
	Status     model.ImportJobStatus
	Imported   int
	Failed     int
	Error      string
	FinishedAt time.Time
}

// Open creates the database file (and its directory) if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS import_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  jobId TEXT NOT NULL,
  fileName TEXT NOT NULL,
  status TEXT NOT NULL,
  imported INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  finishedAt TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_history_finishedAt ON import_history(finishedAt);
`
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Record stores a job that reached a terminal status. Counts come from the
// completion summary when present, otherwise from the preview report.
func (d *DB) Record(job model.ImportJob) error {
	var imported, failed int
	if job.Summary != nil {
		imported = job.Summary.TotalImported
		failed = job.Summary.TotalFailed
	} else if job.Report != nil {
		imported = job.Report.SucceededCount
		failed = job.Report.FailedCount
	}
	_, err := d.conn.Exec(`
INSERT INTO import_history (jobId, fileName, status, imported, failed, error, finishedAt)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.FileName, string(job.Status), imported, failed, job.Error,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record import %s: %w", job.JobID, err)
	}
	return nil
}

// Recent returns the most recently finished imports, newest first.
func (d *DB) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`
SELECT jobId, fileName, status, imported, failed, COALESCE(error, ''), finishedAt
FROM import_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status, finishedAt string
		if err := rows.Scan(&e.JobID, &e.FileName, &status, &e.Imported, &e.Failed, &e.Error, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = model.ImportJobStatus(status)
		if ts, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			e.FinishedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
