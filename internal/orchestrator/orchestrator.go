// ABOUTME: Core turn orchestrator: dispatches streamed requests, correlates delivery
// ABOUTME: events back onto placeholder messages, and handles cancellation with rollback.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codelane/chatkit/internal/backend"
	"github.com/codelane/chatkit/internal/bus"
	"github.com/codelane/chatkit/internal/dedupe"
	"github.com/codelane/chatkit/internal/persist"
	"github.com/codelane/chatkit/internal/session"
)

// ErrEmptyContent is returned by Send when the trimmed turn content is empty.
var ErrEmptyContent = errors.New("message content is empty")

// ErrBusy is returned by Send while another request is still in flight.
// At most one request may be outstanding at a time.
var ErrBusy = errors.New("a request is already in flight")

// ErrNoStore is returned by persistence proxies when no store is configured.
var ErrNoStore = errors.New("session persistence not configured")

const (
	// doneCacheTTL / doneCacheSize bound the terminal-event idempotency cache.
	doneCacheTTL  = 10 * time.Minute
	doneCacheSize = 1024

	// persistTimeout bounds the detached save of a completed turn.
	persistTimeout = 5 * time.Second
)

// Mode indicates whether the orchestrator is idle or waiting on a stream.
type Mode int

const (
	ModeIdle Mode = iota
	ModeStreaming
)

// Turn is one user-issued message with its dispatch options.
type Turn struct {
	Content      string
	Files        []string
	ToolName     string
	Model        string
	WorkspaceID  string
	WorkspaceDir string
}

// pendingRequest tracks the single outstanding request. It exists from
// dispatch until the terminal event or cancellation, and is never exposed
// outside the orchestrator.
type pendingRequest struct {
	requestID       string
	sessionIDAtSend string
	userMessageID   string
	toolName        string
}

// Orchestrator coordinates turns, stream correlation, cancellation, and
// session lifecycle for one active conversation. All state mutation is
// serialized by its mutex, so delivery events may fan in from any goroutine.
type Orchestrator struct {
	mu      sync.Mutex
	backend backend.Backend
	store   persist.Store
	logger  *slog.Logger

	log   *session.Store
	tasks *session.TaskRegistry
	seen  *dedupe.Cache

	pending      *pendingRequest
	mode         Mode
	stallTimeout time.Duration
}

// New creates an Orchestrator. The persist store may be nil when session
// persistence is not wired (turns then stay in memory only). Pass nil logger
// for default.
func New(b backend.Backend, store persist.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backend: b,
		store:   store,
		logger:  logger.With("component", "orchestrator"),
		log:     session.NewStore(),
		tasks:   session.NewTaskRegistry(),
		seen:    dedupe.New(doneCacheTTL, doneCacheSize),
	}
}

// SetStallTimeout enables the optional stall watchdog: if a stream delivers
// no terminal event within d of dispatch, the turn is cancelled and rolled
// back locally. Zero disables the watchdog.
func (o *Orchestrator) SetStallTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stallTimeout = d
}

// Attach subscribes the orchestrator to a broadcaster and consumes its events
// on a single goroutine until ctx is cancelled.
func (o *Orchestrator) Attach(ctx context.Context, b *bus.Broadcaster) {
	events, _ := b.Subscribe(ctx)
	go func() {
		for evt := range events {
			o.HandleEvent(evt)
		}
	}()
}

// Send dispatches one turn: it appends the user message, asks the backend to
// begin a streamed reply, and appends an empty assistant placeholder keyed by
// the returned request id.
//
// Send fails fast with ErrEmptyContent before any side effect, and with
// ErrBusy while a request is already outstanding. A backend failure rolls the
// optimistic user message back out, so a failed Send leaves the session store
// untouched and the orchestrator idle.
func (o *Orchestrator) Send(ctx context.Context, turn Turn) error {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return ErrEmptyContent
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending != nil {
		return ErrBusy
	}

	// Resume decision: an existing binding for the tool means resume with
	// its task id; no binding means a fresh invocation (tool changed).
	toolChanged := false
	resumeTaskID := ""
	if turn.ToolName != "" {
		if taskID, ok := o.tasks.Lookup(turn.ToolName); ok {
			resumeTaskID = taskID
		} else {
			toolChanged = true
		}
	}

	if turn.WorkspaceID != "" {
		o.log.SetWorkspaceID(turn.WorkspaceID)
	}

	now := time.Now()
	userMsg := session.Message{
		ID:          uuid.New().String(),
		Role:        session.RoleUser,
		Content:     content,
		Timestamp:   now,
		Files:       turn.Files,
		Model:       turn.Model,
		SessionID:   o.log.SessionID(),
		WorkspaceID: o.log.WorkspaceID(),
	}
	o.log.Append(userMsg)
	o.mode = ModeStreaming

	requestID, err := o.backend.BeginStream(ctx, &backend.BeginStreamRequest{
		Content:      content,
		Files:        turn.Files,
		ToolName:     turn.ToolName,
		Model:        turn.Model,
		SessionID:    o.log.SessionID(),
		WorkspaceID:  o.log.WorkspaceID(),
		WorkspaceDir: turn.WorkspaceDir,
		ToolChanged:  toolChanged,
		ResumeTaskID: resumeTaskID,
	})
	if err != nil {
		// Propose-turn rollback: the optimistic user message leaves with
		// the failure, so callers never see a half-dispatched turn.
		o.log.Remove(userMsg.ID)
		o.mode = ModeIdle
		return fmt.Errorf("beginning stream: %w", err)
	}

	o.pending = &pendingRequest{
		requestID:       requestID,
		sessionIDAtSend: o.log.SessionID(),
		userMessageID:   userMsg.ID,
		toolName:        turn.ToolName,
	}
	o.log.Append(session.Message{
		ID:          requestID,
		Role:        session.RoleAssistant,
		Timestamp:   now,
		Model:       turn.Model,
		SessionID:   o.log.SessionID(),
		WorkspaceID: o.log.WorkspaceID(),
	})

	if o.stallTimeout > 0 {
		go o.watchStall(requestID, o.stallTimeout)
	}

	o.logger.Debug("turn dispatched",
		"request_id", requestID,
		"tool", turn.ToolName,
		"tool_changed", toolChanged,
		"resume_task_id", resumeTaskID)
	return nil
}

// HandleEvent applies one delivery event. Events whose request id matches no
// message (already cancelled, or from a session that was replaced) are
// dropped silently; that no-op rule is what makes late events after a cancel
// or load harmless.
func (o *Orchestrator) HandleEvent(evt *backend.StreamEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.log.Get(evt.RequestID); !ok {
		o.logger.Debug("correlation miss, dropping event",
			"request_id", evt.RequestID,
			"done", evt.Done)
		return
	}

	if evt.Delta != "" {
		o.log.AppendContent(evt.RequestID, evt.Delta)
	}

	if !evt.Done {
		return
	}

	// A redelivered terminal event must not run completion twice.
	if o.seen.CheckAndMark(evt.RequestID) {
		o.logger.Debug("duplicate terminal event ignored", "request_id", evt.RequestID)
		return
	}

	if o.pending == nil || o.pending.requestID != evt.RequestID {
		return
	}

	if o.pending.toolName != "" && evt.ToolTaskID != "" {
		o.tasks.Bind(o.pending.toolName, evt.ToolTaskID)
		o.logger.Debug("tool task bound",
			"tool", o.pending.toolName,
			"task_id", evt.ToolTaskID)
	}

	// The backend assigns session identity lazily on the first turn.
	if evt.SessionID != "" {
		o.log.SetSessionID(evt.SessionID)
		o.log.SetMessageSession(o.pending.userMessageID, evt.SessionID)
		o.log.SetMessageSession(evt.RequestID, evt.SessionID)
	}

	o.pending = nil
	o.mode = ModeIdle

	o.logger.Debug("turn completed", "request_id", evt.RequestID)

	if o.store != nil && o.log.SessionID() != "" {
		snapshot := o.snapshotLocked()
		go o.persistSnapshot(snapshot)
	}
}

// Cancel aborts the in-flight turn, if any. The backend cancel is best
// effort; local rollback always converges the session store to its exact
// pre-turn state, even while stale events keep arriving.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked(ctx)
}

// cancelLocked performs cancellation. Must be called with mu held.
func (o *Orchestrator) cancelLocked(ctx context.Context) {
	if o.pending == nil {
		return
	}
	p := o.pending

	if err := o.backend.Cancel(ctx, p.requestID); err != nil {
		o.logger.Warn("backend cancel failed, rolling back locally anyway",
			"request_id", p.requestID,
			"error", err)
	}

	o.log.Remove(p.requestID)
	o.log.Remove(p.userMessageID)
	o.pending = nil
	o.mode = ModeIdle

	o.logger.Debug("turn cancelled", "request_id", p.requestID)
}

// watchStall cancels a request that never delivered its terminal event.
func (o *Orchestrator) watchStall(requestID string, timeout time.Duration) {
	time.Sleep(timeout)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending == nil || o.pending.requestID != requestID {
		return
	}

	o.logger.Warn("stream stalled, cancelling", "request_id", requestID, "timeout", timeout)
	o.cancelLocked(context.Background())
}

// LoadSession replaces the active conversation wholesale with the given
// session: message log, session id, and tool task bindings. Any in-flight
// turn's bookkeeping is abandoned; its stale events will miss correlation.
func (o *Orchestrator) LoadSession(sess *session.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.log.Replace(sess)
	o.tasks.Restore(sess.TaskBindings)
	o.pending = nil
	o.mode = ModeIdle

	o.logger.Debug("session loaded",
		"session_id", sess.ID,
		"message_count", len(sess.Messages))
}

// Load fetches a persisted session by id and makes it the active one.
func (o *Orchestrator) Load(ctx context.Context, id string) error {
	if o.store == nil {
		return ErrNoStore
	}
	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	o.LoadSession(sess)
	return nil
}

// Clear empties the active conversation: message log, session id, tool task
// bindings, and pending bookkeeping. Persistent storage is untouched.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.log.Clear()
	o.tasks.Reset()
	o.pending = nil
	o.mode = ModeIdle

	o.logger.Debug("conversation cleared")
}

// ListSessions proxies to the persistence collaborator.
func (o *Orchestrator) ListSessions(ctx context.Context, workspaceID string, limit int) ([]*persist.Summary, error) {
	if o.store == nil {
		return nil, ErrNoStore
	}
	return o.store.ListSessions(ctx, workspaceID, limit)
}

// RenameSession proxies to the persistence collaborator.
func (o *Orchestrator) RenameSession(ctx context.Context, id, name string) (*session.Session, error) {
	if o.store == nil {
		return nil, ErrNoStore
	}
	return o.store.RenameSession(ctx, id, name)
}

// RemoveSession deletes a persisted session. If the removed session is the
// active one, local state is cleared as well.
func (o *Orchestrator) RemoveSession(ctx context.Context, id string) error {
	if o.store == nil {
		return ErrNoStore
	}
	if err := o.store.DeleteSession(ctx, id); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.log.SessionID() == id {
		o.log.Clear()
		o.tasks.Reset()
		o.pending = nil
		o.mode = ModeIdle
	}
	return nil
}

// Mode reports whether the orchestrator is idle or streaming.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SessionID returns the active session id, empty until the backend assigns one.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.log.SessionID()
}

// Messages returns a read-only snapshot of the active message log.
func (o *Orchestrator) Messages() []session.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.log.Messages()
}

// TaskBinding returns the resumable task id bound to a tool, if any.
func (o *Orchestrator) TaskBinding(tool string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tasks.Lookup(tool)
}

// Close releases internal resources.
func (o *Orchestrator) Close() {
	o.seen.Close()
}

// snapshotLocked captures the active conversation as a Session for
// persistence. Must be called with mu held.
func (o *Orchestrator) snapshotLocked() *session.Session {
	return &session.Session{
		ID:           o.log.SessionID(),
		WorkspaceID:  o.log.WorkspaceID(),
		Messages:     o.log.Messages(),
		TaskBindings: o.tasks.Snapshot(),
	}
}

// persistSnapshot saves a completed turn with a detached timeout context, so
// persistence continues even if the caller's context is gone. Failures are
// logged, never surfaced: history is a record of the conversation, not a
// gate on it.
func (o *Orchestrator) persistSnapshot(sess *session.Session) {
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := o.store.SaveSession(saveCtx, sess); err != nil {
		o.logger.Error("failed to persist session",
			"error", err,
			"session_id", sess.ID)
	}
}
