// ABOUTME: Tool task registry mapping external tool names to their resumable task ids.
// ABOUTME: A binding means "resume" semantics; absence means a fresh tool invocation.

package session

// TaskRegistry tracks the last-known resumable task id per external tool.
// Bindings are part of session state: they are snapshotted into a Session on
// save and restored wholesale on load.
type TaskRegistry struct {
	bindings map[string]string
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{bindings: make(map[string]string)}
}

// Bind records or overwrites the task id for a tool.
func (r *TaskRegistry) Bind(tool, taskID string) {
	r.bindings[tool] = taskID
}

// Lookup returns the task id bound to a tool, if any.
func (r *TaskRegistry) Lookup(tool string) (string, bool) {
	id, ok := r.bindings[tool]
	return id, ok
}

// Invalidate drops the binding for a tool.
func (r *TaskRegistry) Invalidate(tool string) {
	delete(r.bindings, tool)
}

// Reset drops all bindings.
func (r *TaskRegistry) Reset() {
	r.bindings = make(map[string]string)
}

// Snapshot returns a copy of all bindings, for carrying into a saved Session.
func (r *TaskRegistry) Snapshot() map[string]string {
	out := make(map[string]string, len(r.bindings))
	for tool, id := range r.bindings {
		out[tool] = id
	}
	return out
}

// Restore replaces all bindings with those from a loaded session.
func (r *TaskRegistry) Restore(bindings map[string]string) {
	r.bindings = make(map[string]string, len(bindings))
	for tool, id := range bindings {
		r.bindings[tool] = id
	}
}
