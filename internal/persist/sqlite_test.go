// ABOUTME: Tests for the SQLite session store
// ABOUTME: Covers snapshot round-trips, listing order and filters, rename, and delete

package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelane/chatkit/internal/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir() + "/sessions.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id string) *session.Session {
	return &session.Session{
		ID:          id,
		WorkspaceID: "w1",
		Messages: []session.Message{
			{
				ID:        "m1",
				Role:      session.RoleUser,
				Content:   "write a parser",
				Timestamp: time.Now().UTC().Truncate(time.Second),
				Files:     []string{"lexer.go", "token.go"},
			},
			{
				ID:        "r1",
				Role:      session.RoleAssistant,
				Content:   "Here is the parser.",
				Model:     "codex-large",
				Timestamp: time.Now().UTC().Truncate(time.Second),
			},
		},
		TaskBindings: map[string]string{"codex": "t42"},
	}
}

func TestSaveAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession("s1")))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "w1", got.WorkspaceID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "m1", got.Messages[0].ID)
	assert.Equal(t, session.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "write a parser", got.Messages[0].Content)
	assert.Equal(t, []string{"lexer.go", "token.go"}, got.Messages[0].Files)
	assert.Equal(t, "r1", got.Messages[1].ID)
	assert.Equal(t, "codex-large", got.Messages[1].Model)
	assert.Empty(t, got.Messages[1].Files)

	assert.Equal(t, map[string]string{"codex": "t42"}, got.TaskBindings)
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSession_RequiresID(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveSession(context.Background(), &session.Session{})
	assert.Error(t, err)
}

func TestSaveSession_ReplacesSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, store.SaveSession(ctx, sess))

	// Save again with fewer messages and different bindings
	sess.Messages = sess.Messages[:1]
	sess.TaskBindings = map[string]string{"claude": "t7"}
	require.NoError(t, store.SaveSession(ctx, sess))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, map[string]string{"claude": "t7"}, got.TaskBindings)
}

func TestSaveSession_PreservesCreatedAtAndName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	sess.Name = "parser work"
	require.NoError(t, store.SaveSession(ctx, sess))

	first, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	// Re-save without a name: created_at and the existing name survive
	again := testSession("s1")
	require.NoError(t, store.SaveSession(ctx, again))

	second, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "parser work", second.Name)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		sess := testSession(id)
		require.NoError(t, store.SaveSession(ctx, sess))
		time.Sleep(1100 * time.Millisecond)
	}
	other := testSession("other")
	other.WorkspaceID = "w2"
	require.NoError(t, store.SaveSession(ctx, other))

	summaries, err := store.ListSessions(ctx, "w1", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 3, "only the requested workspace is listed")

	// Most recently updated first
	assert.Equal(t, "s3", summaries[0].ID)
	assert.Equal(t, "s2", summaries[1].ID)
	assert.Equal(t, "s1", summaries[2].ID)

	assert.Equal(t, 2, summaries[0].MessageCount)
	assert.Equal(t, "write a parser", summaries[0].FirstMessagePreview)

	limited, err := store.ListSessions(ctx, "w1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, "s3", limited[0].ID)
}

func TestListSessions_EmptyWorkspace(t *testing.T) {
	store := newTestStore(t)

	summaries, err := store.ListSessions(context.Background(), "none", 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestPreviewTruncation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := make([]rune, 150)
	for i := range long {
		long[i] = 'x'
	}
	sess := testSession("s1")
	sess.Messages[0].Content = string(long)
	require.NoError(t, store.SaveSession(ctx, sess))

	summaries, err := store.ListSessions(ctx, "w1", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Len(t, []rune(summaries[0].FirstMessagePreview), 103, "100 characters plus ellipsis")
}

func TestRenameSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession("s1")))

	got, err := store.RenameSession(ctx, "s1", "new name")
	require.NoError(t, err)
	assert.Equal(t, "new name", got.Name)
	assert.Len(t, got.Messages, 2, "rename returns the full record")

	_, err = store.RenameSession(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, testSession("s1")))
	require.NoError(t, store.DeleteSession(ctx, "s1"))

	_, err := store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Cascade removed the dependent rows, so a re-save starts clean
	require.NoError(t, store.SaveSession(ctx, testSession("s1")))
	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)

	assert.ErrorIs(t, store.DeleteSession(ctx, "missing"), ErrNotFound)
}
