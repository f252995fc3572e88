// Package async runs folder refreshes in the background and tracks their
// status for long-running processes such as the MCP server.
package async

import (
	"slices"
	"time"

	"github.com/Aman-CERP/amanrag/internal/index"
)

// Status is the refresher's overall state.
type Status string

const (
	// StatusIdle means no refresh has run yet.
	StatusIdle Status = "idle"
	// StatusRefreshing means a refresh is in progress.
	StatusRefreshing Status = "refreshing"
	// StatusReady means the last refresh finished; some files may have failed.
	StatusReady Status = "ready"
	// StatusError means the last refresh failed as a whole.
	StatusError Status = "error"
)

// Snapshot is an immutable view of the refresher state.
type Snapshot struct {
	Status     Status            `json:"status"`
	RunID      string            `json:"run_id,omitempty"`
	Files      []string          `json:"files"`
	Built      []string          `json:"built,omitempty"`
	Unchanged  []string          `json:"unchanged,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
	Chunks     int               `json:"chunks"`
	Refreshes  int               `json:"refreshes"`
	StartedAt  time.Time         `json:"started_at,omitzero"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// Busy reports whether a refresh is in progress.
func (s Snapshot) Busy() bool {
	return s.Status == StatusRefreshing
}

func (s *Snapshot) apply(res *index.RefreshResult) {
	s.RunID = res.RunID
	s.Files = res.Files()
	s.Built = slices.Clone(res.Built)
	s.Unchanged = slices.Clone(res.Unchanged)
	s.Failed = nil
	if len(res.Failed) > 0 {
		s.Failed = make(map[string]string, len(res.Failed))
		for name, err := range res.Failed {
			s.Failed[name] = err.Error()
		}
	}
	s.Chunks = res.Chunks
	s.DurationMS = res.Duration.Milliseconds()
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Files = slices.Clone(s.Files)
	out.Built = slices.Clone(s.Built)
	out.Unchanged = slices.Clone(s.Unchanged)
	if s.Failed != nil {
		out.Failed = make(map[string]string, len(s.Failed))
		for k, v := range s.Failed {
			out.Failed[k] = v
		}
	}
	return out
}
