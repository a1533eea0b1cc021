package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and XDG_CONFIG_HOME at a fresh directory and clears
// every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	for _, key := range []string{
		"EXECUTOR_CONFIG", "EXECUTOR_CONFIG_CONTENT", "EXECUTOR_MODEL",
		"EXECUTOR_HOST", "EXECUTOR_PORT", "EXECUTOR_LOG_LEVEL",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY", "ARK_MODEL_ID", "ARK_BASE_URL",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Empty(t, cfg.Model)
	assert.NotNil(t, cfg.Provider)
}

func TestLoadProjectConfig(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".executor", "executor.json"), `{
		"$schema": "https://example.com/executor.json",
		"model": "anthropic/claude-sonnet-4-20250514",
		"server": {"host": "0.0.0.0", "port": 9001, "allowedOrigins": ["localhost:*"]},
		"provider": {
			"anthropic": {"options": {"apiKey": "sk-ant-test123"}}
		},
		"shell": {"timeout": 30}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/executor.json", cfg.Schema)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "0.0.0.0:9001", cfg.Server.Addr())
	assert.Equal(t, []string{"localhost:*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Shell.Timeout)

	// Nested options are normalized into direct fields
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
}

func TestJSONCComments(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "executor.jsonc"), `{
		// This is a single-line comment
		"model": "openai/gpt-4o",
		/* This is a
		   multi-line comment */
		"provider": {
			"openai": {
				"apiKey": "test-key" // inline comment
			}
		}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, "test-key", cfg.Provider["openai"].APIKey)
}

func TestEnvInterpolation(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_API_KEY", "interpolated-key")

	writeFile(t, filepath.Join(tmpDir, ".executor", "executor.json"), `{
		"provider": {"anthropic": {"apiKey": "{env:TEST_API_KEY}"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "interpolated-key", cfg.Provider["anthropic"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "prompt.txt"), "Line one\n\"quoted\"\n")
	writeFile(t, filepath.Join(tmpDir, ".executor", "executor.json"), `{
		"command": {"review": {"template": "{file:../prompt.txt}"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "Line one\n\"quoted\"", cfg.Command["review"].Template)
}

func TestConfigMerge(t *testing.T) {
	tmpHome := isolate(t)
	tmpProject := t.TempDir()

	writeFile(t, filepath.Join(tmpHome, ".config", "executor", "executor.json"), `{
		"model": "anthropic/claude-sonnet-4",
		"provider": {"anthropic": {"apiKey": "global-key"}},
		"command": {"explain": {"template": "Explain $ARGUMENTS"}},
		"shell": {"env": {"A": "1"}}
	}`)

	writeFile(t, filepath.Join(tmpProject, ".executor", "executor.json"), `{
		"model": "openai/gpt-4o",
		"command": {"review": {"template": "Review $1"}},
		"shell": {"env": {"B": "2"}}
	}`)

	cfg, err := Load(tmpProject)
	require.NoError(t, err)

	// Project model should override global
	assert.Equal(t, "openai/gpt-4o", cfg.Model)

	// Global provider should be preserved
	assert.Equal(t, "global-key", cfg.Provider["anthropic"].APIKey)

	// Maps are merged
	assert.Contains(t, cfg.Command, "explain")
	assert.Contains(t, cfg.Command, "review")
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, cfg.Shell.Env)
}

func TestEnvVarOverride(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("EXECUTOR_MODEL", "env-model")
	t.Setenv("EXECUTOR_HOST", "0.0.0.0")
	t.Setenv("EXECUTOR_PORT", "7070")
	t.Setenv("EXECUTOR_LOG_LEVEL", "debug")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")

	writeFile(t, filepath.Join(tmpDir, "executor.json"), `{"model": "file-model", "server": {"port": 9000}}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Model)
	assert.Equal(t, "0.0.0.0:7070", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "env-anthropic-key", cfg.Provider["anthropic"].APIKey)
}

func TestEnvKeyDoesNotOverrideFileKey(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("OPENAI_API_KEY", "env-key")

	writeFile(t, filepath.Join(tmpDir, "executor.json"), `{"provider": {"openai": {"apiKey": "file-key"}}}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Provider["openai"].APIKey)
}

func TestArkEnv(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("ARK_MODEL_ID", "ep-123")
	t.Setenv("ARK_BASE_URL", "https://ark.example.com/api/v3")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	ark := cfg.Provider["ark"]
	assert.Equal(t, "ark-key", ark.APIKey)
	assert.Equal(t, "ep-123", ark.Model)
	assert.Equal(t, "https://ark.example.com/api/v3", ark.BaseURL)
}

func TestInvalidPort(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("EXECUTOR_PORT", "eighty")

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestMalformedFile(t *testing.T) {
	tmpDir := isolate(t)
	writeFile(t, filepath.Join(tmpDir, "executor.json"), `{"model": `)

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestEXECUTOR_CONFIG(t *testing.T) {
	tmpDir := isolate(t)

	customConfigPath := filepath.Join(tmpDir, "custom-config.json")
	writeFile(t, customConfigPath, `{"model": "custom-config-model"}`)
	t.Setenv("EXECUTOR_CONFIG", customConfigPath)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "custom-config-model", cfg.Model)
}

func TestEXECUTOR_CONFIG_CONTENT(t *testing.T) {
	isolate(t)
	t.Setenv("EXECUTOR_CONFIG_CONTENT", `{"model": "inline-model", /* jsonc */ "server": {"port": 8181}}`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "inline-model", cfg.Model)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	paths := GetPaths()
	assert.Equal(t, "/xdg/config/executor", paths.Config)
	assert.Equal(t, "/xdg/state/executor/history", paths.HistoryPath())
	assert.Equal(t, "/xdg/config/executor/executor.json", GlobalConfigPath())
	assert.Equal(t, "/proj/.executor/executor.json", ProjectConfigPath("/proj"))
}
