package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
)

func TestConfigInit_WritesFolderConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// When: initializing twice
	out, err := execute(newConfigCmd(), "init", dir)
	require.NoError(t, err)
	again, err := execute(newConfigCmd(), "init", dir)
	require.NoError(t, err)

	// Then: the template is written once and still loads
	assert.Contains(t, out, "Configuration created")
	assert.Contains(t, again, "already exists")
	assert.FileExists(t, filepath.Join(dir, config.ProjectConfigName))
	_, err = config.Load(dir)
	assert.NoError(t, err)
}

func TestConfigInit_UserConfig(t *testing.T) {
	isolate(t)

	_, err := execute(newConfigCmd(), "init", "--user")

	require.NoError(t, err)
	assert.FileExists(t, config.GetUserConfigPath())
}

func TestConfigShow_MergesFolderConfigAndMasksKey(t *testing.T) {
	isolate(t)
	dir := writeFolder(t, map[string]string{
		config.ProjectConfigName: "retrieval:\n  top_k: 3\nvectors:\n  qdrant_api_key: secret\n",
	})

	out, err := execute(newConfigCmd(), "show", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "top_k: 3")
	assert.NotContains(t, out, "secret")
}

func TestConfigShow_JSON(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	out, err := execute(newConfigCmd(), "show", dir, "--json")

	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Contains(t, cfg, "ingest")
	assert.Contains(t, cfg, "generation")
}

func TestConfigShow_InvalidConfigFails(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigName), []byte("cache:\n  threshold: 7\n"), 0o644))

	_, err := execute(newConfigCmd(), "show", dir)

	assert.Error(t, err)
}
