// Package orchestrator coordinates multi-turn conversations with a streaming
// AI backend.
//
// # Overview
//
// The orchestrator sits between a UI layer and the streaming backend. It
// reconciles three independent timelines: user-issued turns, delivery events
// keyed only by an opaque request id, and per-tool resumable task identity
// that persists across turns and saved sessions.
//
// # Turn lifecycle
//
// A turn moves through three phases:
//
//  1. Send appends the user message, asks the backend to begin a stream, and
//     appends an empty assistant placeholder whose id IS the request id.
//  2. HandleEvent appends each delta onto the placeholder as events arrive.
//  3. The terminal event binds the tool task id, commits the lazily assigned
//     session id, and persists the completed turn.
//
// At most one request is outstanding at a time; Send returns ErrBusy while a
// stream is in flight.
//
// # Cancellation
//
// Cancel is local-first: the backend cancel is best effort, and rollback
// removes both the placeholder and the originating user message so the
// session store converges to its exact pre-turn state. Events that arrive
// for a rolled-back request id miss correlation and are dropped, which is
// what makes a late or ignored backend cancel harmless.
//
// # Tool resume
//
// Each turn names at most one external tool. If the task registry holds a
// binding for that tool, the turn resumes its existing task
// (toolChanged=false plus the stored task id); otherwise the turn is a fresh
// invocation and the terminal event's task id creates the binding. Bindings
// travel with saved sessions, so loading a conversation also restores its
// tools' task state.
//
// # Concurrency
//
// Delivery events fan in from the bus on their own goroutine, so the
// orchestrator serializes all state behind one mutex. Callers on any
// goroutine may invoke Send, Cancel, HandleEvent, and the lifecycle methods
// concurrently.
package orchestrator
