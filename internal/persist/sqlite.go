// ABOUTME: SQLite implementation of the persist.Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message/task-binding persistence with automatic schema creation

package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codelane/chatkit/internal/session"
)

// previewLength is how many characters of the first message are kept as the
// session summary preview.
const previewLength = 100

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "persist")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT,
			workspace_id TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			first_preview TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_workspace
			ON sessions(workspace_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			files TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS task_bindings (
			session_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			task_id TEXT NOT NULL,
			PRIMARY KEY (session_id, tool),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveSession writes the full session snapshot inside a transaction.
// Messages and task bindings are replaced wholesale so the stored record
// reflects the given session exactly. created_at is preserved on updates.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}

	now := time.Now().UTC()
	createdAt := sess.CreatedAt
	name := sess.Name

	// Preserve created_at (and name, unless the caller set one) when the
	// session already exists.
	var existingCreated, existingName string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, COALESCE(name, '') FROM sessions WHERE id = ?`, sess.ID).
		Scan(&existingCreated, &existingName)
	switch {
	case err == sql.ErrNoRows:
		if createdAt.IsZero() {
			createdAt = now
		}
	case err != nil:
		return fmt.Errorf("querying existing session: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339, existingCreated); perr == nil {
			createdAt = t
		}
		if name == "" {
			name = existingName
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, workspace_id, message_count, first_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			workspace_id = excluded.workspace_id,
			message_count = excluded.message_count,
			first_preview = excluded.first_preview,
			updated_at = excluded.updated_at
	`,
		sess.ID,
		nullIfEmpty(name),
		sess.WorkspaceID,
		len(sess.Messages),
		sess.Preview(previewLength),
		createdAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	for seq, msg := range sess.Messages {
		var files any
		if len(msg.Files) > 0 {
			encoded, jerr := json.Marshal(msg.Files)
			if jerr != nil {
				return fmt.Errorf("encoding files: %w", jerr)
			}
			files = string(encoded)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, id, role, content, model, files, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sess.ID,
			seq,
			msg.ID,
			string(msg.Role),
			msg.Content,
			nullIfEmpty(msg.Model),
			files,
			msg.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_bindings WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clearing task bindings: %w", err)
	}
	for tool, taskID := range sess.TaskBindings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_bindings (session_id, tool, task_id) VALUES (?, ?, ?)
		`, sess.ID, tool, taskID)
		if err != nil {
			return fmt.Errorf("inserting task binding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session: %w", err)
	}

	s.logger.Debug("session saved",
		"session_id", sess.ID,
		"message_count", len(sess.Messages))
	return nil
}

// GetSession loads a full session by id.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess := &session.Session{ID: id, TaskBindings: make(map[string]string)}

	var name sql.NullString
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(name, ''), workspace_id, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&name, &sess.WorkspaceID, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	sess.Name = name.String

	sess.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, COALESCE(model, ''), files, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg session.Message
		var role, createdAt string
		var files sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Model, &files, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = session.Role(role)
		msg.SessionID = id
		msg.WorkspaceID = sess.WorkspaceID
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &msg.Files); err != nil {
				return nil, fmt.Errorf("decoding files: %w", err)
			}
		}
		msg.Timestamp, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	bindingRows, err := s.db.QueryContext(ctx, `
		SELECT tool, task_id FROM task_bindings WHERE session_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying task bindings: %w", err)
	}
	defer bindingRows.Close()

	for bindingRows.Next() {
		var tool, taskID string
		if err := bindingRows.Scan(&tool, &taskID); err != nil {
			return nil, fmt.Errorf("scanning task binding: %w", err)
		}
		sess.TaskBindings[tool] = taskID
	}
	if err := bindingRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task bindings: %w", err)
	}

	return sess, nil
}

// ListSessions returns summaries for a workspace ordered by recency.
// A limit of 0 or less means no limit.
func (s *SQLiteStore) ListSessions(ctx context.Context, workspaceID string, limit int) ([]*Summary, error) {
	query := `
		SELECT id, COALESCE(name, ''), workspace_id, message_count, first_preview, updated_at
		FROM sessions
		WHERE workspace_id = ?
		ORDER BY updated_at DESC
	`
	args := []any{workspaceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		var sum Summary
		var updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.WorkspaceID, &sum.MessageCount, &sum.FirstMessagePreview, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		sum.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return summaries, nil
}

// RenameSession updates a session's display name and returns the full record.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string) (*session.Session, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("renaming session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rename result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("session renamed", "session_id", id, "name", name)
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session and its messages and task bindings.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("session deleted", "session_id", id)
	return nil
}

// nullIfEmpty maps empty strings to NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
