package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskCmd_AnswersFromNamedFile(t *testing.T) {
	isolate(t)
	chat := newFakeChat(t, "Forty ", "thousand euros.")
	dir := writeFolder(t, sampleFiles)

	// When: asking about one file without a prior index
	out, err := execute(newAskCmd(), "-C", dir, "--offline", "--no-stream", "what is the budget in budget.txt?")

	// Then: the folder is refreshed and the answer cites that file only
	require.NoError(t, err)
	assert.Contains(t, out, "Forty thousand euros.")
	assert.Contains(t, out, "Sources: budget.txt")
	assert.NotContains(t, out, "meeting.md")
	assert.Equal(t, int64(1), chat.requests.Load())
}

func TestAskCmd_StreamsFragments(t *testing.T) {
	isolate(t)
	newFakeChat(t, "The team ", "ships ", "in March.")
	dir := writeFolder(t, sampleFiles)

	out, err := execute(newAskCmd(), "-C", dir, "--offline", "when", "does", "the", "app", "ship?")

	require.NoError(t, err)
	assert.Contains(t, out, "The team ships in March.")
	assert.Contains(t, out, "Sources:")
}

func TestAskCmd_JSONOutput(t *testing.T) {
	isolate(t)
	newFakeChat(t, "Alice.")
	dir := writeFolder(t, sampleFiles)

	out, err := execute(newAskCmd(), "-C", dir, "--offline", "--json", "who opened the meeting in meeting.md?")

	require.NoError(t, err)
	var res askResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Alice.", res.Answer)
	assert.Equal(t, []string{"meeting.md"}, res.Sources)
	assert.Equal(t, []string{"meeting.md"}, res.Scope)
	assert.False(t, res.Cached)
}

func TestAskCmd_SessionKeepsHistory(t *testing.T) {
	isolate(t)
	newFakeChat(t, "Forty thousand euros.")
	dir := writeFolder(t, sampleFiles)

	// Given: two questions in the same session
	_, err := execute(newAskCmd(), "-C", dir, "--offline", "--no-stream", "--session", "q3", "budget in budget.txt?")
	require.NoError(t, err)
	_, err = execute(newAskCmd(), "-C", dir, "--offline", "--no-stream", "--session", "q3", "and per quarter?")
	require.NoError(t, err)

	// When: listing sessions
	out, err := execute(newSessionsCmd(), "-C", dir)

	// Then: the session holds both turns
	require.NoError(t, err)
	assert.Contains(t, out, "q3")
	assert.Regexp(t, `q3\s+2\s`, out)
}

func TestAskCmd_InvalidSessionName(t *testing.T) {
	isolate(t)
	newFakeChat(t, "x")
	dir := writeFolder(t, sampleFiles)

	_, err := execute(newAskCmd(), "-C", dir, "--offline", "--session", "../escape", "question?")

	assert.Error(t, err)
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	_, err := execute(newAskCmd())
	assert.Error(t, err)
}
