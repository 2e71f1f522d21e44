package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite is a Recorder backed by a single-connection sqlite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the memory database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-heavy write pattern of per-round memories.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			actor_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_actor_round ON memories(actor_id, round);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, e Entry) error {
	if e.ActorID == uuid.Nil {
		return fmt.Errorf("memory: entry without actor id")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (actor_id, round, kind, text, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		e.ActorID.String(), int64(e.Round), string(e.Kind), e.Text, e.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	return nil
}

func (s *SQLite) Recall(ctx context.Context, q Query) ([]Entry, error) {
	query := `SELECT actor_id, round, kind, text, recorded_at FROM memories WHERE 1=1`
	var args []any
	if q.ActorID != uuid.Nil {
		query += ` AND actor_id = ?`
		args = append(args, q.ActorID.String())
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	if q.FromRound != 0 {
		query += ` AND round >= ?`
		args = append(args, int64(q.FromRound))
	}
	if q.ToRound != 0 {
		query += ` AND round <= ?`
		args = append(args, int64(q.ToRound))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			actorID string
			round   int64
			kind    string
			text    string
			at      string
		)
		if err := rows.Scan(&actorID, &round, &kind, &text, &at); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		id, err := uuid.Parse(actorID)
		if err != nil {
			return nil, fmt.Errorf("memory: bad actor id %q: %w", actorID, err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, Entry{
			ActorID:    id,
			Round:      uint64(round),
			Kind:       EntryKind(kind),
			Text:       text,
			RecordedAt: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
