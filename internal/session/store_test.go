// ABOUTME: Tests for the in-memory session store
// ABOUTME: Covers append-only content, removal ordering, and wholesale replace

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndGet(t *testing.T) {
	s := NewStore()

	s.Append(Message{ID: "m1", Role: RoleUser, Content: "hello"})

	msg, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_AppendContent(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "m1", Role: RoleAssistant})

	require.True(t, s.AppendContent("m1", "Hi"))
	require.True(t, s.AppendContent("m1", " there"))
	require.True(t, s.AppendContent("m1", "!"))

	msg, _ := s.Get("m1")
	assert.Equal(t, "Hi there!", msg.Content)

	assert.False(t, s.AppendContent("missing", "x"))
}

func TestStore_RemovePreservesOrder(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "m1", Content: "a"})
	s.Append(Message{ID: "m2", Content: "b"})
	s.Append(Message{ID: "m3", Content: "c"})

	require.True(t, s.Remove("m2"))

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m3", messages[1].ID)

	assert.False(t, s.Remove("m2"))
}

func TestStore_SetMessageSession(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "m1"})

	require.True(t, s.SetMessageSession("m1", "s1"))
	msg, _ := s.Get("m1")
	assert.Equal(t, "s1", msg.SessionID)

	assert.False(t, s.SetMessageSession("missing", "s1"))
}

func TestStore_MessagesReturnsSnapshot(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "m1", Content: "original"})

	snapshot := s.Messages()
	snapshot[0].Content = "mutated"

	msg, _ := s.Get("m1")
	assert.Equal(t, "original", msg.Content)
}

func TestStore_Replace(t *testing.T) {
	s := NewStore()
	s.SetSessionID("old")
	s.Append(Message{ID: "stale"})

	s.Replace(&Session{
		ID:          "s9",
		WorkspaceID: "w1",
		Messages:    []Message{{ID: "m1"}, {ID: "m2"}},
	})

	assert.Equal(t, "s9", s.SessionID())
	assert.Equal(t, "w1", s.WorkspaceID())
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("stale")
	assert.False(t, ok)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.SetSessionID("s1")
	s.Append(Message{ID: "m1"})

	s.Clear()

	assert.Empty(t, s.SessionID())
	assert.Equal(t, 0, s.Len())
}

func TestTaskRegistry_BindLookupInvalidate(t *testing.T) {
	r := NewTaskRegistry()

	_, ok := r.Lookup("codex")
	assert.False(t, ok)

	r.Bind("codex", "t42")
	id, ok := r.Lookup("codex")
	require.True(t, ok)
	assert.Equal(t, "t42", id)

	// Rebinding overwrites
	r.Bind("codex", "t43")
	id, _ = r.Lookup("codex")
	assert.Equal(t, "t43", id)

	r.Invalidate("codex")
	_, ok = r.Lookup("codex")
	assert.False(t, ok)
}

func TestTaskRegistry_SnapshotIsIndependent(t *testing.T) {
	r := NewTaskRegistry()
	r.Bind("codex", "t1")

	snapshot := r.Snapshot()
	snapshot["codex"] = "mutated"
	snapshot["claude"] = "t2"

	id, _ := r.Lookup("codex")
	assert.Equal(t, "t1", id)
	_, ok := r.Lookup("claude")
	assert.False(t, ok)
}

func TestTaskRegistry_Restore(t *testing.T) {
	r := NewTaskRegistry()
	r.Bind("stale", "t0")

	r.Restore(map[string]string{"codex": "t1", "claude": "t2"})

	_, ok := r.Lookup("stale")
	assert.False(t, ok)
	id, _ := r.Lookup("codex")
	assert.Equal(t, "t1", id)

	r.Restore(nil)
	_, ok = r.Lookup("codex")
	assert.False(t, ok)
}

func TestSession_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{"short stays intact", "hello", 100, "hello"},
		{"exact length stays intact", "abcde", 5, "abcde"},
		{"long is truncated", "abcdefgh", 5, "abcde..."},
		{"multibyte runes are not split", "héllo wörld", 7, "héllo w..."},
		{"empty", "", 100, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &Session{Messages: []Message{{Role: RoleUser, Content: tt.content}}}
			assert.Equal(t, tt.want, sess.Preview(tt.max))
		})
	}
}
