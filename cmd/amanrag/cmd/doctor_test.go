package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_JSONOutput(t *testing.T) {
	isolate(t)
	dir := writeFolder(t, sampleFiles)

	// When: running offline diagnostics as JSON
	out, _ := execute(newDoctorCmd(), dir, "--offline", "--json")

	// Then: the output carries a status and the local checks only
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res, "status")
	checks, ok := res["checks"].([]any)
	require.True(t, ok)
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "folder")
	assert.NotContains(t, names, "generation_model")
}

func TestDoctorCmd_TextOutput(t *testing.T) {
	isolate(t)
	dir := writeFolder(t, sampleFiles)

	out, _ := execute(newDoctorCmd(), dir, "--offline")

	assert.Contains(t, out, "amanrag doctor")
	assert.Contains(t, out, "2 supported file(s)")
}

func TestDoctorCmd_MissingFolder(t *testing.T) {
	isolate(t)

	_, err := execute(newDoctorCmd(), "/nonexistent/amanrag/folder", "--offline")

	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30 seconds", formatDuration(30*time.Second))
	assert.Equal(t, "5 minutes", formatDuration(5*time.Minute))
	assert.Equal(t, "3 hours", formatDuration(3*time.Hour))
	assert.Equal(t, "2 days", formatDuration(48*time.Hour))
}
