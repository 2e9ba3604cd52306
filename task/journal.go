package task

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS task_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id      TEXT NOT NULL,
	assignee_id  TEXT NOT NULL DEFAULT '',
	delegator_id TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);
`

// Journal is an append-only audit trail of status transitions kept in a
// SQLite database. Rows are only ever inserted.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens (or creates) a SQLite journal at dbPath. The caller is
// responsible for calling Close.
func OpenJournal(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (j *Journal) Close() error { return j.db.Close() }

// Append records one transition.
func (j *Journal) Append(t Task, e StatusEntry) error {
	_, err := j.db.Exec(`
		INSERT INTO task_events (task_id, assignee_id, delegator_id, status, note, at)
		VALUES (?,?,?,?,?,?)`,
		t.ID, t.AssigneeID, t.DelegatorID, string(e.Status), e.Note, e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append journal event for %s: %w", t.ID, err)
	}
	return nil
}

// Observer returns a graph observer that appends every transition and logs
// failures instead of propagating them.
func (j *Journal) Observer() Observer {
	return func(t Task, e StatusEntry) {
		if err := j.Append(t, e); err != nil {
			j.logger.Error("journal append failed", slog.String("task_id", t.ID), slog.Any("err", err))
		}
	}
}

// Events returns the recorded transitions of one task in insertion order.
func (j *Journal) Events(taskID string) ([]StatusEntry, error) {
	rows, err := j.db.Query(
		`SELECT status, note, at FROM task_events WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var (
			status, note string
			at           time.Time
		)
		if err := rows.Scan(&status, &note, &at); err != nil {
			return nil, err
		}
		out = append(out, StatusEntry{Timestamp: at, Status: Status(status), Note: note})
	}
	return out, rows.Err()
}
