package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// FileStore persists envelopes as a single JSON array. Every append is a
// whole-file read-modify-write, which caps throughput and is not safe for
// concurrent writers across processes; acceptable at the reference scale.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the given path. The file is created
// on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Append reads the full log, adds the envelope, and rewrites the file.
func (s *FileStore) Append(e models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries = append(entries, e)

	data, err := json.Marshal(entries)
	if err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// FindByKey loads the log and filters by equality on the keyType field.
func (s *FileStore) FindByKey(key string, keyType models.KeyType) ([]models.Envelope, error) {
	if key == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	var matches []models.Envelope
	for _, e := range entries {
		if e.CorrelationKey(keyType) == key {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

func (s *FileStore) load() ([]models.Envelope, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Op: "read", Path: s.path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []models.Envelope
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &IOError{Op: "decode", Path: s.path, Err: err}
	}
	return entries, nil
}
