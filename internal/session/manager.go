package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxSessions bounds stored sessions.
const DefaultMaxSessions = 50

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StoragePath is the directory holding one JSON file per session,
	// usually <folder>/.amanrag/sessions.
	StoragePath string
	// MaxSessions defaults to DefaultMaxSessions.
	MaxSessions int
}

// Manager creates, loads and removes sessions.
type Manager struct {
	storagePath string
	maxSessions int
}

// NewManager creates the storage directory if needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{storagePath: cfg.StoragePath, maxSessions: maxSessions}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.storagePath, name+fileExt)
}

// Open loads the named session or creates it. An existing session bound to
// another folder is an error.
func (m *Manager) Open(name, folder string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid session name: %w", err)
	}

	if m.Exists(name) {
		s, err := load(m.path(name))
		if err != nil {
			return nil, err
		}
		if s.Folder != folder {
			return nil, fmt.Errorf("session '%s' belongs to %s (requested: %s)", name, s.Folder, folder)
		}
		return s, nil
	}

	names, err := m.names()
	if err != nil {
		return nil, err
	}
	if len(names) >= m.maxSessions {
		return nil, fmt.Errorf("maximum %d sessions reached; delete old sessions first", m.maxSessions)
	}

	s := New(name, folder, m.path(name))
	if err := save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save persists s.
func (m *Manager) Save(s *Session) error {
	if s.path == "" {
		s.path = m.path(s.Name)
	}
	return save(s)
}

// Get loads a session without creating it.
func (m *Manager) Get(name string) (*Session, error) {
	if !m.Exists(name) {
		return nil, fmt.Errorf("session '%s' not found", name)
	}
	return load(m.path(name))
}

// Exists reports whether the named session is stored.
func (m *Manager) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(m.path(name))
	return err == nil
}

// List returns every readable session, most recently used first.
func (m *Manager) List() ([]Info, error) {
	names, err := m.names()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		path := m.path(name)
		s, err := load(path)
		if err != nil {
			continue
		}
		var size int64
		if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}
		_, statErr := os.Stat(s.Folder)
		infos = append(infos, s.info(size, statErr == nil))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastUsed.After(infos[j].LastUsed) })
	return infos, nil
}

// Delete removes the named session.
func (m *Manager) Delete(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("session '%s' not found", name)
	}
	if err := os.Remove(m.path(name)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Prune deletes sessions unused for longer than olderThan and returns how
// many were removed.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, info := range infos {
		if time.Since(info.LastUsed) <= olderThan {
			continue
		}
		if err := m.Delete(info.Name); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (m *Manager) names() ([]string, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	return names, nil
}
