// ABOUTME: Core data types for chat sessions: messages, roles, and the session record.
// ABOUTME: Pure data with no async behavior; mutation is owned by the orchestrator.

package session

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry in a session's message log.
// An assistant message's ID equals the request id that produced it, which is
// what makes stream correlation possible.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Files       []string  `json:"files,omitempty"`
	Model       string    `json:"model,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
}

// Session is a full conversation record: the ordered message log plus the
// per-tool resumable task bindings that travel with it.
type Session struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	WorkspaceID  string            `json:"workspace_id,omitempty"`
	Messages     []Message         `json:"messages"`
	TaskBindings map[string]string `json:"task_bindings,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Preview returns the first message's content truncated to max characters,
// used for session list summaries.
func (s *Session) Preview(max int) string {
	if len(s.Messages) == 0 {
		return ""
	}
	content := []rune(s.Messages[0].Content)
	if len(content) <= max {
		return string(content)
	}
	return string(content[:max]) + "..."
}
