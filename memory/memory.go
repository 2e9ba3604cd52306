// Package memory provides the long-term memory service agents reach
// through the MEMORIZE_THIS and RECALL_CONTEXT tools.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultRecallLimit is used when Recall is called with a non-positive limit.
const DefaultRecallLimit = 5

// Recollection is one recalled document and the metadata it was stored with.
type Recollection struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Service is the memory collaborator consumed by the tool router.
type Service interface {
	Memorize(ctx context.Context, text string, meta map[string]string) error
	Recall(ctx context.Context, query string, limit int) ([]Recollection, error)
}

// Store is a Service backed by SQLite with an FTS5 index for relevance
// ranked recall.
type Store struct {
	db  *sql.DB
	own bool
}

// New creates a Store on an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a SQLite database at path and initializes the
// memory tables. ":memory:" gives a private in-process store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	s := &Store{db: db, own: true}
	if err := s.InitTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database when the Store opened it.
func (s *Store) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

// InitTables creates the memories table and its FTS5 index if they don't exist.
func (s *Store) InitTables() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("memories table: %w", err)
	}

	// Standalone FTS5 table, populated explicitly in Memorize.
	_, err = s.db.Exec(`
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    id UNINDEXED,
    document
);`)
	if err != nil {
		return fmt.Errorf("memories_fts table: %w", err)
	}
	return nil
}

// Memorize stores text as a durable fact. Blank text is ignored.
func (s *Store) Memorize(ctx context.Context, text string, meta map[string]string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	id := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memorize: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, document, metadata, created_at) VALUES (?, ?, ?, ?)`,
		id, text, string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("memorize: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (id, document) VALUES (?, ?)`, id, text,
	); err != nil {
		return fmt.Errorf("memorize FTS: %w", err)
	}
	return tx.Commit()
}

// Recall returns up to limit memories most relevant to query, best match
// first. An empty query returns the most recent memories.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Recollection, error) {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	ftsQuery := sanitizeFTSQuery(query)
	var (
		rows *sql.Rows
		err  error
	)
	if ftsQuery == "" {
		rows, err = s.db.QueryContext(ctx, `
SELECT id, document, metadata, created_at
FROM memories
ORDER BY created_at DESC
LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT m.id, m.document, m.metadata, m.created_at
FROM memories_fts f
JOIN memories m ON m.id = f.id
WHERE memories_fts MATCH ?
ORDER BY f.rank
LIMIT ?`, ftsQuery, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Recollection{}
	for rows.Next() {
		var (
			r         Recollection
			metaJSON  string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Document, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("recall scan: %w", err)
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// sanitizeFTSQuery converts a natural-language query to a safe FTS5 query.
// Words are OR-ed so partial matches still rank. Special FTS5 characters
// are stripped; an empty result means "no text to match".
func sanitizeFTSQuery(q string) string {
	words := strings.Fields(q)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == '_' {
				return r
			}
			return -1
		}, w)
		if cleaned != "" {
			tokens = append(tokens, `"`+cleaned+`"`)
		}
	}
	return strings.Join(tokens, " OR ")
}

var _ Service = (*Store)(nil)
