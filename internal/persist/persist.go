// ABOUTME: Store interface and summary types for chat session persistence.
// ABOUTME: Defines the list/rename/delete collaborator contract plus save/load for whole sessions.

package persist

import (
	"context"
	"errors"
	"time"

	"github.com/codelane/chatkit/internal/session"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Summary is the lightweight session record used for listing.
type Summary struct {
	ID                  string
	Name                string
	WorkspaceID         string
	UpdatedAt           time.Time
	MessageCount        int
	FirstMessagePreview string
}

// Store defines the interface for session persistence. Errors are surfaced
// verbatim to callers; no retries happen at this layer.
type Store interface {
	// SaveSession writes the full session snapshot, creating it if needed.
	// created_at is preserved on updates.
	SaveSession(ctx context.Context, sess *session.Session) error

	// GetSession loads a full session, messages and task bindings included.
	// Returns ErrNotFound if no session has the given id.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// ListSessions returns summaries for a workspace, newest first.
	ListSessions(ctx context.Context, workspaceID string, limit int) ([]*Summary, error)

	// RenameSession updates a session's display name and returns the full
	// updated record.
	RenameSession(ctx context.Context, id, name string) (*session.Session, error)

	// DeleteSession removes a session. Returns ErrNotFound if it does not exist.
	DeleteSession(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}
