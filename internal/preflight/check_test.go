package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
)

func TestCheckStatus_StringAndJSON(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}

	data, err := json.Marshal(CheckResult{Name: "folder", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name   string
		result CheckResult
		want   bool
	}{
		{"required pass", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail", CheckResult{Status: StatusFail}, false},
		{"required warn", CheckResult{Status: StatusWarn, Required: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New(nil)

	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready"},
		{"warning", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"optional failure", []CheckResult{{Status: StatusFail}}, "ready_with_warnings"},
		{"critical failure", []CheckResult{{Status: StatusFail, Required: true}}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.want == "failed", checker.HasCriticalFailures(tt.results))
		})
	}
}

// ============================================================================
// Local checks
// ============================================================================

func TestChecker_CheckFolder(t *testing.T) {
	checker := New(nil)

	t.Run("missing folder fails", func(t *testing.T) {
		result := checker.CheckFolder(filepath.Join(t.TempDir(), "nope"))
		assert.True(t, result.IsCritical())
	})

	t.Run("no supported files warns", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), []byte("x"), 0o644))

		result := checker.CheckFolder(dir)

		assert.Equal(t, StatusWarn, result.Status)
		assert.Contains(t, result.Details, ".pdf")
	})

	t.Run("counts supported files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "call.mp3"), []byte("x"), 0o644))

		result := checker.CheckFolder(dir)

		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "2 supported file(s)", result.Message)
		assert.Equal(t, "call.mp3, notes.txt", result.Details)
	})
}

func TestChecker_CheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist
	dataDir := filepath.Join(t.TempDir(), ".amanrag")

	// When: checking write permissions
	result := New(nil).CheckWritePermissions(dataDir)

	// Then: it is created and passes
	assert.Equal(t, StatusPass, result.Status)
	assert.DirExists(t, dataDir)
	assert.NoFileExists(t, filepath.Join(dataDir, ".amanrag-preflight-test"))
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	result := New(nil).CheckWritePermissions(dir)

	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Message, "permission denied")
}

func TestChecker_RunAll_Offline(t *testing.T) {
	// Given: a folder with one document and an offline checker
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("# Q3"), 0o644))
	checker := New(config.NewConfig(), WithOffline(true))

	// When: running all checks
	results := checker.RunAll(context.Background(), dir)

	// Then: only local checks run, and they pass
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"folder", "write_permissions", "disk_space", "file_descriptors"}, names)
	assert.False(t, checker.HasCriticalFailures(results))
	assert.DirExists(t, filepath.Join(dir, ".amanrag"))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: mixed results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "generation_model", Status: StatusWarn, Message: "model llama3.2 not installed", Details: "Run 'ollama pull llama3.2'"},
		{Name: "folder", Status: StatusFail, Message: "not found", Required: true},
	}
	buf := &bytes.Buffer{}

	// When: printing verbosely
	New(nil, WithOutput(buf), WithVerbose(true)).PrintResults(results)

	// Then: every line, the details, and the summary appear
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 50 GB free")
	assert.Contains(t, out, "ollama pull llama3.2")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}

func TestCheckFileDescriptors_ScalesWithConcurrency(t *testing.T) {
	// Given: a modest configuration
	cfg := config.NewConfig()
	cfg.Ingest.LoadConcurrency = 1
	cfg.Ingest.BuildConcurrency = 1
	modest := New(cfg).CheckFileDescriptors()
	var rLimit syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit))
	if modest.Status == StatusFail || uint64(rLimit.Cur) > 1<<40 {
		t.Skip("open-file limit below the floor or unlimited on this machine")
	}

	// When: concurrency asks for far more descriptors than any limit allows
	greedy := config.NewConfig()
	greedy.Ingest.LoadConcurrency = 1 << 30
	greedy.Ingest.BuildConcurrency = 1 << 30
	result := New(greedy).CheckFileDescriptors()

	// Then: the check warns without becoming critical
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
	assert.Contains(t, result.Details, "load_concurrency")
}
