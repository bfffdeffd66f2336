// ABOUTME: Streaming backend that shells out to the codeagent-wrapper binary.
// ABOUTME: Streams stdout lines as deltas and parses the SESSION_ID trailer into a tool task id.

package wrapper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codelane/chatkit/internal/backend"
	"github.com/codelane/chatkit/internal/bus"
)

// sessionIDPrefix is the stdout trailer line carrying the wrapper's
// resumable task id:
//
//	<message>
//	---
//	SESSION_ID: <id>
const sessionIDPrefix = "SESSION_ID:"

// Config controls how the wrapper binary is located and invoked.
type Config struct {
	// BinaryPath is an optional explicit path to codeagent-wrapper.
	// When empty, PATH and the usual install locations are searched.
	BinaryPath string
	// Backend overrides the CLI backend (codex, claude, gemini). When
	// empty it is derived from the turn's tool name or model.
	Backend string
	// SkipPermissions skips CLI permission prompts (dangerous).
	SkipPermissions bool
	// Timeout is passed to the wrapper as CODEX_TIMEOUT (milliseconds).
	Timeout time.Duration
	// MaxParallelWorkers maps to CODEAGENT_MAX_PARALLEL_WORKERS.
	MaxParallelWorkers int
}

// Backend runs codeagent-wrapper once per turn and publishes its output as
// stream events. It implements backend.Backend.
type Backend struct {
	cfg    Config
	bus    *bus.Broadcaster
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// New creates a wrapper backend publishing to the given broadcaster.
// Pass nil logger for default.
func New(cfg Config, b *bus.Broadcaster, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		bus:     b,
		logger:  logger.With("component", "wrapper"),
		running: make(map[string]*exec.Cmd),
	}
}

// BeginStream starts one wrapper run for the turn and returns its request id
// immediately. Output arrives asynchronously on the broadcaster.
func (b *Backend) BeginStream(ctx context.Context, req *backend.BeginStreamRequest) (string, error) {
	bin, err := findWrapper(b.cfg.BinaryPath)
	if err != nil {
		return "", err
	}

	cliBackend := b.cfg.Backend
	if cliBackend == "" {
		cliBackend = deriveBackend(req.ToolName, req.Model)
	}

	workdir := req.WorkspaceDir
	if workdir == "" {
		workdir = "."
	}

	args := buildArgs(cliBackend, b.cfg.SkipPermissions, req.ToolChanged, req.ResumeTaskID, workdir)

	cmd := exec.Command(bin, args...)
	cmd.Dir = workdir
	cmd.Env = b.buildEnv(cliBackend, req.Model)
	cmd.Stdin = strings.NewReader(req.Content)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("opening stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting codeagent-wrapper: %w", err)
	}

	requestID := uuid.New().String()

	// The chat session id is assigned lazily on the first turn and echoed
	// back on the terminal event.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	b.mu.Lock()
	b.running[requestID] = cmd
	b.mu.Unlock()

	b.logger.Info("codeagent-wrapper started",
		"request_id", requestID,
		"backend", cliBackend,
		"workdir", workdir,
		"resume_task_id", req.ResumeTaskID,
		"tool_changed", req.ToolChanged)

	go b.stream(requestID, sessionID, cmd, stdout, &stderr)

	return requestID, nil
}

// Cancel kills the wrapper process for a request. Fire-and-forget: a process
// that already exited is not an error.
func (b *Backend) Cancel(ctx context.Context, requestID string) error {
	b.mu.Lock()
	cmd, ok := b.running[requestID]
	b.mu.Unlock()

	if !ok {
		return nil
	}

	b.logger.Debug("killing codeagent-wrapper", "request_id", requestID)
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("killing wrapper process: %w", err)
	}
	return nil
}

// stream reads wrapper stdout line by line, publishing content lines as
// deltas and holding back the SESSION_ID trailer, then publishes the
// terminal event once the process exits.
func (b *Backend) stream(requestID, sessionID string, cmd *exec.Cmd, stdout io.Reader, stderr *strings.Builder) {
	defer func() {
		b.mu.Lock()
		delete(b.running, requestID)
		b.mu.Unlock()
	}()

	var taskID string
	inTrailer := false
	emitted := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if inTrailer {
			if id := strings.TrimSpace(strings.TrimPrefix(line, sessionIDPrefix)); strings.HasPrefix(line, sessionIDPrefix) && id != "" {
				taskID = id
			}
			continue
		}
		if line == "---" {
			inTrailer = true
			continue
		}
		// Some wrapper versions omit the --- separator.
		if strings.HasPrefix(line, sessionIDPrefix) {
			if id := strings.TrimSpace(strings.TrimPrefix(line, sessionIDPrefix)); id != "" {
				taskID = id
			}
			continue
		}

		delta := line + "\n"
		if emitted || line != "" {
			emitted = true
			b.bus.Publish(&backend.StreamEvent{
				RequestID: requestID,
				Delta:     delta,
				Timestamp: time.Now(),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("reading wrapper stdout", "request_id", requestID, "error", err)
	}

	err := cmd.Wait()

	evt := &backend.StreamEvent{
		RequestID: requestID,
		Done:      true,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
	if err != nil {
		tail := strings.TrimSpace(stderr.String())
		b.logger.Warn("codeagent-wrapper failed",
			"request_id", requestID,
			"error", err,
			"stderr_tail", tailSnippet(tail, 4000))
		if tail != "" {
			evt.Delta = "error: " + tailSnippet(tail, 1000)
		}
	} else {
		evt.ToolTaskID = taskID
	}

	b.bus.Publish(evt)

	b.logger.Debug("codeagent-wrapper finished",
		"request_id", requestID,
		"task_id", taskID,
		"exit_error", err != nil)
}

// buildArgs assembles the wrapper argument list. Resume only applies when the
// tool did not change and a task id is available; content always goes via
// stdin ("-") to avoid shell quoting issues.
func buildArgs(cliBackend string, skipPermissions, toolChanged bool, resumeTaskID, workdir string) []string {
	var args []string
	if cliBackend != "" {
		args = append(args, "--backend", cliBackend)
	}
	if skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if !toolChanged && strings.TrimSpace(resumeTaskID) != "" {
		args = append(args, "resume", strings.TrimSpace(resumeTaskID))
	}
	args = append(args, "-", workdir)
	return args
}

// buildEnv extends the process environment with wrapper knobs.
func (b *Backend) buildEnv(cliBackend, model string) []string {
	env := os.Environ()
	if b.cfg.Timeout > 0 {
		env = append(env, fmt.Sprintf("CODEX_TIMEOUT=%d", b.cfg.Timeout.Milliseconds()))
	}
	if b.cfg.SkipPermissions {
		env = append(env, "CODEAGENT_SKIP_PERMISSIONS=1")
	}
	if b.cfg.MaxParallelWorkers > 0 {
		env = append(env, fmt.Sprintf("CODEAGENT_MAX_PARALLEL_WORKERS=%d", b.cfg.MaxParallelWorkers))
	}
	// The wrapper does not accept --model for codex; pass a hint via env.
	if strings.EqualFold(cliBackend, "codex") && strings.TrimSpace(model) != "" {
		env = append(env, "CODEX_MODEL="+strings.TrimSpace(model))
	}
	return env
}

// deriveBackend maps a tool name or model id onto a wrapper backend name.
// OpenAI-style model ids fall back to the codex CLI backend.
func deriveBackend(toolName, model string) string {
	for _, v := range []string{strings.ToLower(toolName), strings.ToLower(model)} {
		switch {
		case v == "":
			continue
		case strings.Contains(v, "claude"):
			return "claude"
		case strings.Contains(v, "gemini"):
			return "gemini"
		case strings.Contains(v, "codex"):
			return "codex"
		}
	}
	return "codex"
}

// findWrapper locates the codeagent-wrapper binary: explicit path first,
// then PATH, then the usual install locations under the home directory.
func findWrapper(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("codeagent-wrapper path %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if p, err := exec.LookPath("codeagent-wrapper"); err == nil {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("codeagent-wrapper not found in PATH: %w", err)
	}
	candidates := []string{
		filepath.Join(home, "bin", "codeagent-wrapper"),
		filepath.Join(home, ".claude", "bin", "codeagent-wrapper"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("codeagent-wrapper not found in PATH, %s, or %s", candidates[0], candidates[1])
}

// tailSnippet returns at most max characters from the end of s.
func tailSnippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return "…" + string(runes[len(runes)-max:])
}
