// ABOUTME: In-memory session store holding the ordered message log and active session id.
// ABOUTME: Single-writer by design; callers serialize access (the orchestrator holds the lock).

package session

// Store holds the active conversation's message log and session identity.
// It is deliberately not safe for concurrent use: the orchestrator owns it
// and serializes every mutation.
type Store struct {
	sessionID   string
	workspaceID string
	messages    []Message
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{}
}

// SessionID returns the active session id, empty until the backend assigns one.
func (s *Store) SessionID() string {
	return s.sessionID
}

// SetSessionID commits the backend-assigned session identity.
func (s *Store) SetSessionID(id string) {
	s.sessionID = id
}

// WorkspaceID returns the workspace the active conversation belongs to.
func (s *Store) WorkspaceID() string {
	return s.workspaceID
}

// SetWorkspaceID records the workspace for the active conversation.
func (s *Store) SetWorkspaceID(id string) {
	s.workspaceID = id
}

// Append adds a message to the end of the log.
func (s *Store) Append(msg Message) {
	s.messages = append(s.messages, msg)
}

// AppendContent concatenates delta onto the content of the message with the
// given id. Content is append-only; it is never replaced. Returns false when
// no message matches, which callers treat as a correlation miss.
func (s *Store) AppendContent(id, delta string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content += delta
			return true
		}
	}
	return false
}

// SetMessageSession stamps the session id onto the message with the given id.
func (s *Store) SetMessageSession(id, sessionID string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].SessionID = sessionID
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id, preserving order of the rest.
// Returns false when no message matches.
func (s *Store) Remove(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// Messages returns a snapshot copy of the log. Observers get read-only data;
// the live slice is never shared outside the store.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of messages in the log.
func (s *Store) Len() int {
	return len(s.messages)
}

// Replace swaps in a loaded session wholesale: message log, session id, and
// workspace id all come from the given session.
func (s *Store) Replace(sess *Session) {
	s.sessionID = sess.ID
	s.workspaceID = sess.WorkspaceID
	s.messages = make([]Message, len(sess.Messages))
	copy(s.messages, sess.Messages)
}

// Clear empties the log and forgets the active session id.
func (s *Store) Clear() {
	s.sessionID = ""
	s.messages = nil
}
