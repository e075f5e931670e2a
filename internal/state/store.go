package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

// ErrNoRecord is returned when no configuration has been used yet.
var ErrNoRecord = errors.New("no last used configuration")

// LastUsed records the configuration most recently used.
type LastUsed struct {
	ConfigPath string    `toml:"config_path"`
	Timestamp  time.Time `toml:"timestamp"`
}

// Store persists the last used record.
type Store interface {
	// LastUsed returns the record or ErrNoRecord.
	LastUsed() (LastUsed, error)

	// SetLastUsed replaces the record.
	SetLastUsed(record LastUsed) error
}

// FileStore keeps the record in a TOML file.
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

// DefaultStorePath returns ~/.claude-habitat/last-used.toml.
func DefaultStorePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.StateDirName, constants.LastUsedFileName), nil
}

// NewFileStore returns a store at path, or at DefaultStorePath when path
// is empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		defaultPath, err := DefaultStorePath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return &FileStore{Path: path}, nil
}

func (s *FileStore) LastUsed() (LastUsed, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return LastUsed{}, ErrNoRecord
		}
		return LastUsed{}, fmt.Errorf("reading state file: %w", err)
	}

	var record LastUsed
	if err := toml.Unmarshal(data, &record); err != nil {
		return LastUsed{}, fmt.Errorf("parsing state file: %w", err)
	}
	if record.ConfigPath == "" {
		return LastUsed{}, ErrNoRecord
	}
	return record, nil
}

// SetLastUsed writes the record atomically (write temp + rename).
func (s *FileStore) SetLastUsed(record LastUsed) error {
	data, err := toml.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), constants.DirPermissions); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.FilePermissions); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming state file: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory.
type MemoryStore struct {
	mu     sync.Mutex
	record *LastUsed
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) LastUsed() (LastUsed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return LastUsed{}, ErrNoRecord
	}
	return *s.record, nil
}

func (s *MemoryStore) SetLastUsed(record LastUsed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = &record
	return nil
}

// RecordUse stores path as the last used configuration at now.
func RecordUse(store Store, path string, now time.Time) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	return store.SetLastUsed(LastUsed{ConfigPath: absPath, Timestamp: now.UTC().Truncate(time.Second)})
}
