// ABOUTME: Backend interface and stream event types for the AI streaming collaborator.
// ABOUTME: Defines the begin-stream/cancel contract and the event shape used for correlation.

package backend

import (
	"context"
	"time"
)

// BeginStreamRequest carries everything the backend needs to start a streamed reply.
type BeginStreamRequest struct {
	Content      string
	Files        []string
	ToolName     string
	Model        string
	SessionID    string
	WorkspaceID  string
	WorkspaceDir string

	// ToolChanged signals a fresh tool invocation. When false, ResumeTaskID
	// carries the task to re-attach to.
	ToolChanged  bool
	ResumeTaskID string
}

// StreamEvent is one incremental fragment of a streamed reply, keyed by the
// opaque request id returned from BeginStream. Events for a single request id
// arrive in send order; no ordering holds across request ids.
type StreamEvent struct {
	RequestID string
	Delta     string
	Done      bool

	// SessionID is set on terminal events when the backend assigns session
	// identity lazily on the first turn.
	SessionID string
	// ToolTaskID is the backend tool's resumable task id, reported on
	// terminal events when a tool ran during the turn.
	ToolTaskID string

	Timestamp time.Time
}

// Backend is the streaming collaborator that produces assistant replies.
// BeginStream returns synchronously with an opaque request id; the reply
// itself arrives later as StreamEvents on the event channel.
type Backend interface {
	BeginStream(ctx context.Context, req *BeginStreamRequest) (string, error)

	// Cancel is fire-and-forget, best effort. A backend that keeps
	// delivering events after Cancel is tolerated by the correlator.
	Cancel(ctx context.Context, requestID string) error
}
