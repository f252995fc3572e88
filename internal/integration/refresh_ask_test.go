package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
)

func TestIntegration_RefreshThenAskNamedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a refreshed folder of three notes
	e := newEnv(t, notes)
	res := e.refresh(t)
	require.ElementsMatch(t, []string{"budget.txt", "hiring.md", "meeting.md"}, res.Built)

	// When: a question names one file
	ans, err := e.pipeline.Ask(context.Background(), pipeline.Request{Question: "what is the budget according to budget.txt?"})

	// Then: only that file is searched and cited
	require.NoError(t, err)
	assert.Equal(t, "See the documents.", ans.Text)
	assert.Equal(t, []string{"budget.txt"}, ans.Sources)
	assert.False(t, ans.Scope.All)
	assert.Contains(t, e.gen.lastContext(), "forty thousand euros")
	assert.NotContains(t, e.gen.lastContext(), "Alice")
}

func TestIntegration_UnscopedQuestionSearchesEveryFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := newEnv(t, notes)
	e.refresh(t)

	ans, err := e.pipeline.Ask(context.Background(), pipeline.Request{Question: "who opened the planning session?"})

	require.NoError(t, err)
	assert.True(t, ans.Scope.All)
	assert.ElementsMatch(t, []string{"budget.txt", "hiring.md", "meeting.md"}, ans.Scope.Files)
	assert.NotEmpty(t, ans.Sources)
}

func TestIntegration_IncrementalRefreshRebuildsChangedFileOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a refreshed folder
	e := newEnv(t, notes)
	e.refresh(t)

	// When: one file changes and the folder is refreshed again
	writeFile(t, e.folder, "meeting.md", "# Planning meeting\n\nBob opened the meeting. The launch moved to May.")
	res := e.refresh(t)

	// Then: only that file is rebuilt and its new content is retrievable
	assert.Equal(t, []string{"meeting.md"}, res.Built)
	assert.ElementsMatch(t, []string{"budget.txt", "hiring.md"}, res.Unchanged)
	assert.Len(t, res.Collections, 3)

	_, err := e.pipeline.Ask(context.Background(), pipeline.Request{Question: "when is the launch in meeting.md?"})
	require.NoError(t, err)
	assert.Contains(t, e.gen.lastContext(), "moved to May")
	assert.NotContains(t, e.gen.lastContext(), "March")
}

func TestIntegration_RemovedFileLeavesPipelineAndIsReported(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a refreshed folder
	e := newEnv(t, notes)
	e.refresh(t)

	// When: a file is deleted and the folder refreshed
	require.NoError(t, os.Remove(filepath.Join(e.folder, "hiring.md")))
	e.refresh(t)

	// Then: the pipeline no longer offers it
	assert.Equal(t, []string{"budget.txt", "meeting.md"}, e.pipeline.Files())

	// And: the consistency check reports the orphaned record
	check, err := index.NewConsistencyChecker(e.tracking, e.index).Check(context.Background(), e.folder)
	require.NoError(t, err)
	require.Len(t, check.Inconsistencies, 1)
	assert.Equal(t, index.InconsistencyMissingFile, check.Inconsistencies[0].Type)
	assert.Equal(t, "hiring.md", check.Inconsistencies[0].Filename)
}

func TestIntegration_ConsistencyDetectsStaleFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := newEnv(t, notes)
	e.refresh(t)

	// When: a file changes without a refresh
	writeFile(t, e.folder, "budget.txt", "The budget was cut to thirty thousand euros.")

	check, err := index.NewConsistencyChecker(e.tracking, e.index).Check(context.Background(), e.folder)

	require.NoError(t, err)
	require.Len(t, check.Inconsistencies, 1)
	assert.Equal(t, index.InconsistencyStale, check.Inconsistencies[0].Type)
	assert.Len(t, check.Records, 3)
}

func TestIntegration_RepeatedQuestionIsCached(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an answered question
	e := newEnv(t, notes)
	e.refresh(t)
	ctx := context.Background()
	first, err := e.pipeline.Ask(ctx, pipeline.Request{Question: "how many engineers will we hire?"})
	require.NoError(t, err)

	// When: the same question is asked again over the same files
	var fragments []string
	second, err := e.pipeline.AskStream(ctx, pipeline.Request{Question: "how many engineers will we hire?"}, func(s string) error {
		fragments = append(fragments, s)
		return nil
	})

	// Then: the answer comes from the cache in one fragment
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, []string{first.Text}, fragments)
	assert.Equal(t, 1, e.gen.calls())
}

func TestIntegration_EditedFileInvalidatesCachedAnswer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an answered question about hiring
	e := newEnv(t, notes)
	e.refresh(t)
	ctx := context.Background()
	first, err := e.pipeline.Ask(ctx, pipeline.Request{Question: "how many engineers will we hire?"})
	require.NoError(t, err)
	require.False(t, first.Cached)

	// When: hiring.md is rewritten and the folder refreshed
	writeFile(t, e.folder, "hiring.md", "# Hiring\n\nThe hiring freeze means no new engineers this year.")
	res := e.refresh(t)
	require.Equal(t, []string{"hiring.md"}, res.Built)

	// Then: the same question is answered again from the new content
	second, err := e.pipeline.Ask(ctx, pipeline.Request{Question: "how many engineers will we hire?"})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, e.gen.calls())
	assert.Contains(t, e.gen.lastContext(), "hiring freeze")
}

func TestIntegration_ReopenedIndexServesExistingCollections(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a refreshed folder
	e := newEnv(t, notes)
	res := e.refresh(t)

	// When: the collections are loaded again without scanning
	records, err := e.tracking.List(context.Background())
	require.NoError(t, err)

	// Then: every record has a stored collection under its derived name
	require.Len(t, records, 3)
	for _, rec := range records {
		collection := index.CollectionName(rec.Filename)
		assert.Equal(t, res.Collections[rec.Filename], collection)
		exists, err := e.index.Exists(context.Background(), collection)
		require.NoError(t, err)
		assert.True(t, exists, rec.Filename)
		require.NoError(t, e.index.Load(context.Background(), collection))
	}
}
