package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the user config at temp dirs and clears the
// AMANRAG_* variables a developer machine may set.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, key := range []string{
		"AMANRAG_OLLAMA_HOST", "AMANRAG_EMBEDDINGS_PROVIDER", "AMANRAG_RERANKER_PROVIDER",
		"AMANRAG_CACHE_DISABLED", "AMANRAG_VECTORS_BACKEND", "AMANRAG_LOG_LEVEL", "AMANRAG_LOG_DIR",
	} {
		t.Setenv(key, "")
	}
}

// writeFolder creates a folder holding files.
func writeFolder(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// execute runs cmd with args and returns stdout and the error.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// fakeChat serves /api/chat, streaming the configured words as NDJSON.
type fakeChat struct {
	words    []string
	requests atomic.Int64
}

func newFakeChat(t *testing.T, words ...string) *fakeChat {
	t.Helper()
	f := &fakeChat{words: words}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		f.requests.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, word := range f.words {
			_ = enc.Encode(map[string]any{
				"model":   body["model"],
				"message": map[string]string{"role": "assistant", "content": word},
				"done":    false,
			})
		}
		_ = enc.Encode(map[string]any{
			"model":   body["model"],
			"message": map[string]string{"role": "assistant", "content": ""},
			"done":    true,
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("AMANRAG_OLLAMA_HOST", srv.URL)
	return f
}

var sampleFiles = map[string]string{
	"budget.txt":  "The marketing budget for next year is forty thousand euros, split across four quarters.",
	"meeting.md":  "# Planning meeting\n\nAlice opened the meeting. The team agreed to ship the mobile app in March.",
	"ignored.csv": "a,b,c",
}
