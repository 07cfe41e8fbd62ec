package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenStore is durable storage for the access/refresh token pair. It holds
// no policy: expiry checks and rotation live in the SessionManager.
// Implementations must be safe for concurrent use.
type TokenStore interface {
	// Access returns the stored access token, or "" when absent.
	Access() string

	// Refresh returns the stored refresh token, or "" when absent.
	Refresh() string

	// SetTokens stores a new token pair, replacing any previous one.
	SetTokens(access, refresh string) error

	// Clear removes both tokens.
	Clear() error
}

// MemoryStore is an in-process TokenStore for tests and ephemeral sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemoryStore) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemoryStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	return nil
}

// FileStore persists the token pair as a JSON object in a single file, keyed
// by configurable key names. Only these two values are durable client state.
type FileStore struct {
	mu         sync.Mutex
	path       string
	accessKey  string
	refreshKey string
	values     map[string]string
}

// NewFileStore creates a token store backed by the file at path, creating
// parent directories as needed. Existing contents are loaded; a missing file
// is treated as an empty store.
func NewFileStore(path, accessKey, refreshKey string) (*FileStore, error) {
	if accessKey == "" || refreshKey == "" || accessKey == refreshKey {
		return nil, fmt.Errorf("invalid token storage keys %q/%q", accessKey, refreshKey)
	}

	s := &FileStore{
		path:       path,
		accessKey:  accessKey,
		refreshKey: refreshKey,
		values:     map[string]string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	// A corrupt token file is equivalent to being logged out.
	if err := json.Unmarshal(data, &s.values); err != nil {
		s.values = map[string]string{}
	}
	return s, nil
}

func (s *FileStore) Access() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[s.accessKey]
}

func (s *FileStore) Refresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[s.refreshKey]
}

func (s *FileStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[s.accessKey] = access
	s.values[s.refreshKey] = refresh
	return s.persist()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, s.accessKey)
	delete(s.values, s.refreshKey)
	return s.persist()
}

// persist writes the store atomically via a temp file rename.
// Caller must hold s.mu.
func (s *FileStore) persist() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
