// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers YAML parsing, env var expansion, duration parsing, and validation errors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
workspace:
  id: w1
  dir: /tmp/project
wrapper:
  binary_path: /usr/local/bin/codeagent-wrapper
  backend: codex
  skip_permissions: true
  max_parallel_workers: 4
  timeout: 90s
storage:
  path: /tmp/sessions.db
stream:
  stall_timeout: 2m
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "w1", cfg.Workspace.ID)
	assert.Equal(t, "/tmp/project", cfg.Workspace.Dir)
	assert.Equal(t, "/usr/local/bin/codeagent-wrapper", cfg.Wrapper.BinaryPath)
	assert.Equal(t, "codex", cfg.Wrapper.Backend)
	assert.True(t, cfg.Wrapper.SkipPermissions)
	assert.Equal(t, 4, cfg.Wrapper.MaxParallelWorkers)
	assert.Equal(t, 90*time.Second, cfg.Wrapper.Timeout)
	assert.Equal(t, "/tmp/sessions.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Minute, cfg.Stream.StallTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/chatkit.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "storage: [not: valid")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATKIT_TEST_DB", "/var/data/sessions.db")
	t.Setenv("CHATKIT_TEST_WS", "workspace-from-env")

	path := writeConfig(t, `
workspace:
  id: ${CHATKIT_TEST_WS}
storage:
  path: ${CHATKIT_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "workspace-from-env", cfg.Workspace.ID)
	assert.Equal(t, "/var/data/sessions.db", cfg.Storage.Path)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
workspace:
  id: ${CHATKIT_DEFINITELY_UNSET_VAR}
storage:
  path: /tmp/sessions.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Workspace.ID)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/sessions.db
wrapper:
  timeout: ninety seconds
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing durations")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing storage path",
			cfg:     Config{},
			wantErr: "storage.path is required",
		},
		{
			name: "unknown backend",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/db"},
				Wrapper: WrapperConfig{Backend: "gpt5"},
			},
			wantErr: "wrapper.backend",
		},
		{
			name: "empty backend is allowed",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/db"},
			},
		},
		{
			name: "gemini backend is allowed",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/db"},
				Wrapper: WrapperConfig{Backend: "gemini"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
