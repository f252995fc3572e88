package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

func TestNew_SetsFields(t *testing.T) {
	s := New("budget", "/docs", "/docs/.amanrag/sessions/budget.json")

	assert.Equal(t, "budget", s.Name)
	assert.Equal(t, "/docs", s.Folder)
	assert.Equal(t, version.Version, s.Version)
	assert.Equal(t, s.CreatedAt, s.LastUsed)
	assert.Empty(t, s.Turns)
	assert.Equal(t, "/docs/.amanrag/sessions/budget.json", s.Path())
}

func TestSession_Append_SkipsBlankAnswers(t *testing.T) {
	s := New("a", "/docs", "")

	s.Append(Turn{Question: "q1", Answer: ""})
	s.Append(Turn{Question: "q2", Answer: "a2"})

	assert.Len(t, s.Turns, 1)
	assert.False(t, s.Turns[0].At.IsZero())
	assert.Equal(t, s.Turns[0].At, s.LastUsed)
}

func TestSession_History_KeepsMostRecentTurns(t *testing.T) {
	// Given: three turns
	s := New("a", "/docs", "")
	s.Append(Turn{Question: "q1", Answer: "a1"})
	s.Append(Turn{Question: "q2", Answer: "a2"})
	s.Append(Turn{Question: "q3", Answer: "a3"})

	// When: asking for the last two
	h := s.History(2)

	// Then: user/assistant pairs, oldest first
	assert.Equal(t, []generate.Message{
		{Role: generate.RoleUser, Content: "q2"},
		{Role: generate.RoleAssistant, Content: "a2"},
		{Role: generate.RoleUser, Content: "q3"},
		{Role: generate.RoleAssistant, Content: "a3"},
	}, h)
}

func TestSession_History_DefaultLimit(t *testing.T) {
	s := New("a", "/docs", "")
	for i := 0; i < DefaultHistoryTurns+3; i++ {
		s.Append(Turn{Question: "q", Answer: "a"})
	}

	assert.Len(t, s.History(0), 2*DefaultHistoryTurns)
}

func TestSession_IsStale(t *testing.T) {
	s := New("a", "/docs", "")
	s.LastUsed = time.Now().Add(-48 * time.Hour)

	assert.True(t, s.IsStale(24*time.Hour))
	assert.False(t, s.IsStale(72*time.Hour))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"budget-2024", false},
		{"q3_review", false},
		{"", true},
		{"has space", true},
		{"../escape", true},
		{string(make([]byte, 65)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
