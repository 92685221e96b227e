package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	require.NoError(t, Initialize(""))
	t.Cleanup(ResetForTesting)

	assert.Equal(t, StorageSettings{Backend: "file", Path: "mediations"}, GetStorageSettings())
	cs := GetConsultSettings()
	assert.Equal(t, "anthropic", cs.Provider)
	assert.Equal(t, int64(1024), cs.MaxTokens)
	assert.Equal(t, 0, cs.MaxRetries, "consultations are sent once unless retries are configured")
	assert.False(t, cs.DryRun)
	chat := GetChatSettings()
	assert.Equal(t, 3, chat.MinGroupMembers)
	assert.Equal(t, 255, chat.MaxTitleLength)
	assert.Equal(t, "info", GetString(KeyLogLevel))
	assert.Empty(t, ConfigFileUsed())
}

func TestExplicitFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
storage:
  backend: sqlite
  path: /var/lib/mediator/db.sqlite
consult:
  provider: openai
  dry-run: true
chat:
  min-group-members: 2
`)
	t.Setenv("MEDIATOR_STORAGE_PATH", "/tmp/override.sqlite")
	t.Setenv("MEDIATOR_CONSULT_MAX_TOKENS", "77")

	require.NoError(t, Initialize(path))
	t.Cleanup(ResetForTesting)

	assert.Equal(t, path, ConfigFileUsed())
	assert.Equal(t, "sqlite", GetStorageSettings().Backend)
	assert.Equal(t, "/tmp/override.sqlite", GetStorageSettings().Path, "env beats file")
	cs := GetConsultSettings()
	assert.Equal(t, "openai", cs.Provider)
	assert.True(t, cs.DryRun)
	assert.Equal(t, int64(77), cs.MaxTokens)
	assert.Equal(t, 2, GetChatSettings().MinGroupMembers)
}

func TestConfigFromWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	writeConfig(t, wd, "log:\n  level: debug\n")
	t.Cleanup(func() { _ = os.Remove(filepath.Join(wd, ConfigFileName)) })

	require.NoError(t, Initialize(""))
	t.Cleanup(ResetForTesting)
	assert.Equal(t, "debug", GetString(KeyLogLevel))
}

func TestExplicitFileMissing(t *testing.T) {
	err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	ResetForTesting()
}

func TestSetOverrides(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	Set(KeyConsultDryRun, true)
	assert.True(t, GetBool(KeyConsultDryRun))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")
	require.NoError(t, Initialize(path))
	t.Cleanup(ResetForTesting)

	changed := make(chan string, 4)
	Watch(func(fsnotify.Event) { changed <- GetString(KeyLogLevel) })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	select {
	case level := <-changed:
		assert.Equal(t, "warn", level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config change observed")
	}
}
