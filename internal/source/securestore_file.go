package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// FileSecureStore is a SecureStore backed by a mode-0600 JSON file. It
// stands in for a platform keychain on headless deployments.
type FileSecureStore struct {
	mu      sync.Mutex
	path    string
	secrets map[string]string
}

// OpenFileSecureStore loads (or initializes) the secrets file at path.
func OpenFileSecureStore(path string) (*FileSecureStore, error) {
	s := &FileSecureStore{path: path, secrets: make(map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secure store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.secrets); err != nil {
		return nil, fmt.Errorf("secure store: decode %s: %w", path, err)
	}
	return s, nil
}

func (s *FileSecureStore) Put(key, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = secret
	return s.flushLocked()
}

func (s *FileSecureStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[key]
	return v, ok, nil
}

func (s *FileSecureStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return s.flushLocked()
}

// flushLocked writes via a temp file and rename so a crash never leaves a
// torn secrets file. Caller holds s.mu.
func (s *FileSecureStore) flushLocked() error {
	data, err := json.Marshal(s.secrets)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
