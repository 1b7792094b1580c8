package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the serialized session set between restarts.
type Store interface {
	// Save persists the given data.
	Save(data []byte) error

	// Load retrieves the stored data, or nil if nothing was saved.
	Load() ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}

// JSONStore implements Store with a JSON file.
type JSONStore struct {
	FilePath string
	mu       sync.Mutex
}

// NewJSONStore creates a JSON file store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{FilePath: path}
}

// Save writes data to the file, replacing it atomically.
func (s *JSONStore) Save(data []byte) error {
	if s.FilePath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Load reads data from the file.
func (s *JSONStore) Load() ([]byte, error) {
	if s.FilePath == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op for JSON files.
func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)
