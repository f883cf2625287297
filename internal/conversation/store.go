package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as UTC unix nanoseconds so ordering is exact.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	declared_paths  TEXT NOT NULL DEFAULT '[]',
	resolved        INTEGER NOT NULL DEFAULT 0,
	resolution_note TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	resolved_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_messages_project_created
	ON messages(project_id, created_at DESC);
`

// Store is the SQLite-backed message history. The driver is pure Go, so
// tests run against real database files.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite handles one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts a message, assigning ID and CreatedAt when absent.
func (s *Store) Append(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ProjectID == "" {
		return fmt.Errorf("message project id is required")
	}
	if msg.Role == "" {
		return fmt.Errorf("message role is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	paths := msg.DeclaredPaths
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("encoding declared paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, project_id, role, content, declared_paths, resolved, resolution_note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ProjectID, string(msg.Role), msg.Content,
		string(encoded), boolToInt(msg.Resolved), msg.ResolutionNote,
		msg.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for the project, newest first.
func (s *Store) Recent(ctx context.Context, projectID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, role, content, declared_paths, resolved,
		       resolution_note, created_at, resolved_at
		FROM messages
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg        Message
			role       string
			paths      string
			resolved   int
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &role, &msg.Content,
			&paths, &resolved, &msg.ResolutionNote, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = Role(role)
		msg.Resolved = resolved != 0
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		if resolvedAt.Valid {
			ts := time.Unix(0, resolvedAt.Int64).UTC()
			msg.ResolvedAt = &ts
		}
		if err := json.Unmarshal([]byte(paths), &msg.DeclaredPaths); err != nil {
			return nil, fmt.Errorf("decoding declared paths for %s: %w", msg.ID, err)
		}
		if len(msg.DeclaredPaths) == 0 {
			msg.DeclaredPaths = nil
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkResolved resolves the given messages with the note, skipping any
// that are already resolved. Returns the number of rows actually updated,
// which makes repeated reconciliation a no-op.
func (s *Store) MarkResolved(ctx context.Context, ids []string, note string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, note, time.Now().UTC().UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET resolved = 1, resolution_note = ?, resolved_at = ?
		WHERE id IN (`+placeholders+`) AND resolved = 0`, args...)
	if err != nil {
		return 0, fmt.Errorf("marking messages resolved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

// AppendSystemNote records a system message, e.g. the deployment-ready
// notice written after a manual apply.
func (s *Store) AppendSystemNote(ctx context.Context, projectID, content string) error {
	return s.Append(ctx, &Message{
		ProjectID: projectID,
		Role:      RoleSystem,
		Content:   content,
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
