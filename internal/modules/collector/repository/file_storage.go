package repository

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

const stateFileName = "assistant_state.json"

type stateDocument struct {
	LastIDs map[string]int64 `json:"last_ids"`
}

// FileStorage implements Repository on a single JSON state file that is
// rewritten wholesale on every mutation.
type FileStorage struct {
	path  string
	mu    sync.RWMutex
	state stateDocument
}

// NewFileStorage loads (or initializes) the checkpoint state under dataDir.
// A corrupt state file is logged and treated as empty rather than failing
// startup.
func NewFileStorage(dataDir string) (*FileStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, oops.With("data_dir", dataDir, "context", "failed to create data directory").Wrap(err)
	}

	s := &FileStorage{
		path:  filepath.Join(dataDir, stateFileName),
		state: stateDocument{LastIDs: make(map[string]int64)},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, oops.With("path", s.path, "context", "failed to read state file").Wrap(err)
		}
		return s, nil
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		slog.Warn("State file is corrupt, starting with empty state", "path", s.path, "error", err)
		s.state = stateDocument{LastIDs: make(map[string]int64)}
	}
	if s.state.LastIDs == nil {
		s.state.LastIDs = make(map[string]int64)
	}

	return s, nil
}

// LastID returns the checkpoint for a chat key, zero when none is stored.
func (s *FileStorage) LastID(chatKey string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastIDs[chatKey]
}

// SetLastID advances the checkpoint for a chat key and persists immediately.
// The stored value never decreases.
func (s *FileStorage) SetLastID(chatKey string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id <= s.state.LastIDs[chatKey] {
		return nil
	}
	s.state.LastIDs[chatKey] = id
	return s.save()
}

// Reset clears the checkpoint for one chat key.
func (s *FileStorage) Reset(chatKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state.LastIDs, chatKey)
	return s.save()
}

// ResetAll clears every checkpoint.
func (s *FileStorage) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastIDs = make(map[string]int64)
	return s.save()
}

// save rewrites the whole document through a temp file and an atomic rename
// so a crash mid-write cannot leave a truncated state file.
func (s *FileStorage) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return oops.With("path", s.path, "context", "failed to marshal state").Wrap(err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return oops.With("path", tmp, "context", "failed to write state file").Wrap(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return oops.With("path", s.path, "context", "failed to replace state file").Wrap(err)
	}
	return nil
}
