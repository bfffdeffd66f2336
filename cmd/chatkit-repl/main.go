// ABOUTME: Interactive REPL for chatkit conversations
// ABOUTME: Wires the orchestrator, wrapper backend, event bus, and SQLite session store

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/codelane/chatkit/internal/bus"
	"github.com/codelane/chatkit/internal/config"
	"github.com/codelane/chatkit/internal/orchestrator"
	"github.com/codelane/chatkit/internal/persist"
	"github.com/codelane/chatkit/internal/wrapper"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _   _    _ _
   ___| |__   __ _| |_| | _(_) |_
  / __| '_ \ / _' | __| |/ / | __|
 | (__| | | | (_| | |_|   <| | |_
  \___|_| |_|\__,_|\__|_|\_\_|\__|
`

// getConfigPath returns the path to the chatkit config file.
// Priority: CHATKIT_CONFIG env var > XDG_CONFIG_HOME/chatkit/chatkit.yaml > ~/.config/chatkit/chatkit.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATKIT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chatkit.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatkit", "chatkit.yaml")
}

// getDataPath returns the path to the chatkit data directory.
// Priority: XDG_DATA_HOME/chatkit > ~/.local/share/chatkit
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatkit")
}

// loadConfig loads the config file, falling back to defaults when absent.
func loadConfig() *config.Config {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config: %v (using defaults)\n", err)
		}
		return &config.Config{
			Storage: config.StorageConfig{
				Path: filepath.Join(getDataPath(), "sessions.db"),
			},
		}
	}
	return cfg
}

// setupLogger configures slog from the logging config.
func setupLogger(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	cfg := loadConfig()
	setupLogger(cfg.Logging)

	color.Cyan(banner)
	fmt.Printf("chatkit %s — /help for commands\n\n", version)

	store, err := persist.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	broadcaster := bus.New(nil)
	defer broadcaster.Close()

	wrapperBackend := wrapper.New(wrapper.Config{
		BinaryPath:         cfg.Wrapper.BinaryPath,
		Backend:            cfg.Wrapper.Backend,
		SkipPermissions:    cfg.Wrapper.SkipPermissions,
		Timeout:            cfg.Wrapper.Timeout,
		MaxParallelWorkers: cfg.Wrapper.MaxParallelWorkers,
	}, broadcaster, nil)

	orch := orchestrator.New(wrapperBackend, store, nil)
	defer orch.Close()
	if cfg.Stream.StallTimeout > 0 {
		orch.SetStallTimeout(cfg.Stream.StallTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.Attach(ctx, broadcaster)

	// Second subscription renders deltas as they stream in.
	events, _ := broadcaster.Subscribe(ctx)
	done := make(chan string, 1)
	go func() {
		for evt := range events {
			if evt.Delta != "" {
				fmt.Print(evt.Delta)
			}
			if evt.Done {
				select {
				case done <- evt.RequestID:
				default:
				}
			}
		}
	}()

	repl(ctx, cfg, orch, done)
}

// repl runs the interactive loop until EOF or /quit.
func repl(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, done <-chan string) {
	prompt := color.New(color.FgGreen)
	tool := ""

	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, orch, line, &tool); quit {
				return
			}
			continue
		}

		err := orch.Send(ctx, orchestrator.Turn{
			Content:      line,
			ToolName:     tool,
			WorkspaceID:  cfg.Workspace.ID,
			WorkspaceDir: cfg.Workspace.Dir,
		})
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		<-done
		fmt.Println()
	}
}

// command handles a slash command. Returns true when the REPL should exit.
func command(ctx context.Context, orch *orchestrator.Orchestrator, line string, tool *string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return true

	case "/help":
		fmt.Println("  /sessions           List saved sessions")
		fmt.Println("  /load <id>          Load a saved session")
		fmt.Println("  /rename <id> <name> Rename a saved session")
		fmt.Println("  /rm <id>            Delete a saved session")
		fmt.Println("  /tool [name]        Set or clear the active tool")
		fmt.Println("  /cancel             Cancel the in-flight turn")
		fmt.Println("  /clear              Clear the active conversation")
		fmt.Println("  /quit               Exit")

	case "/sessions":
		summaries, err := orch.ListSessions(ctx, "", 20)
		if err != nil {
			color.Red("Error: %v\n", err)
			break
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMSGS\tUPDATED\tPREVIEW")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				s.ID, s.Name, s.MessageCount,
				s.UpdatedAt.Format("2006-01-02 15:04"),
				s.FirstMessagePreview)
		}
		w.Flush()

	case "/load":
		if len(fields) < 2 {
			color.Yellow("usage: /load <id>\n")
			break
		}
		if err := orch.Load(ctx, fields[1]); err != nil {
			color.Red("Error: %v\n", err)
			break
		}
		for _, msg := range orch.Messages() {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		}

	case "/rename":
		if len(fields) < 3 {
			color.Yellow("usage: /rename <id> <name>\n")
			break
		}
		if _, err := orch.RenameSession(ctx, fields[1], strings.Join(fields[2:], " ")); err != nil {
			color.Red("Error: %v\n", err)
		}

	case "/rm":
		if len(fields) < 2 {
			color.Yellow("usage: /rm <id>\n")
			break
		}
		if err := orch.RemoveSession(ctx, fields[1]); err != nil {
			color.Red("Error: %v\n", err)
		}

	case "/tool":
		if len(fields) < 2 {
			*tool = ""
			fmt.Println("tool cleared")
			break
		}
		*tool = fields[1]
		if taskID, ok := orch.TaskBinding(*tool); ok {
			fmt.Printf("tool %s (will resume task %s)\n", *tool, taskID)
		} else {
			fmt.Printf("tool %s (fresh invocation)\n", *tool)
		}

	case "/cancel":
		orch.Cancel(ctx)

	case "/clear":
		orch.Clear()

	default:
		color.Yellow("unknown command %s\n", fields[0])
	}
	return false
}
