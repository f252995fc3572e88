// Package session persists named conversations so follow-up questions carry
// their chat history into generation.
package session

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// DefaultHistoryTurns is how many recent turns are replayed as history.
const DefaultHistoryTurns = 6

// Turn is one answered question.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Sources  []string  `json:"sources,omitempty"`
	Cached   bool      `json:"cached,omitempty"`
	At       time.Time `json:"at"`
}

// Session is a named conversation over one folder.
type Session struct {
	Name      string    `json:"name"`
	Folder    string    `json:"folder"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	// Version is the amanrag version that created the session.
	Version string `json:"version"`
	Turns   []Turn `json:"turns"`

	path string
}

// Info summarizes a session for listing.
type Info struct {
	Name     string
	Folder   string
	Turns    int
	LastUsed time.Time
	Size     int64
	// Valid is false when the folder no longer exists.
	Valid bool
}

// New creates an empty session stored at path.
func New(name, folder, path string) *Session {
	now := time.Now()
	return &Session{
		Name:      name,
		Folder:    folder,
		CreatedAt: now,
		LastUsed:  now,
		Version:   version.Version,
		path:      path,
	}
}

// Append records a turn. Blank answers are not history and are dropped.
func (s *Session) Append(t Turn) {
	if t.Answer == "" {
		return
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.Turns = append(s.Turns, t)
	s.LastUsed = t.At
}

// History returns the last maxTurns turns as alternating user and
// assistant messages, oldest first. maxTurns <= 0 means
// DefaultHistoryTurns.
func (s *Session) History(maxTurns int) []generate.Message {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	turns := s.Turns
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	msgs := make([]generate.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			generate.Message{Role: generate.RoleUser, Content: t.Question},
			generate.Message{Role: generate.RoleAssistant, Content: t.Answer})
	}
	return msgs
}

// IsStale reports whether the session has been unused for longer than maxAge.
func (s *Session) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUsed) > maxAge
}

// Path returns the session's file.
func (s *Session) Path() string { return s.path }

func (s *Session) info(size int64, valid bool) Info {
	return Info{
		Name:     s.Name,
		Folder:   s.Folder,
		Turns:    len(s.Turns),
		LastUsed: s.LastUsed,
		Size:     size,
		Valid:    valid,
	}
}
