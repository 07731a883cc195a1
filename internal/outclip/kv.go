package outclip

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

// KV is the capability interface the core depends on for both the synced
// configuration store and the local collection-reference cache. Backends
// guarantee atomic single-key reads and writes, nothing more.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type kvCloser interface {
	Close() error
}

// CloseKV releases whatever the backend holds open. Backends without a Close
// method, and nil stores, are a no-op.
func CloseKV(store KV) error {
	if closer, ok := store.(kvCloser); ok && closer != nil {
		return closer.Close()
	}
	return nil
}

type InMemoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{values: map[string]string{}}
}

func (s *InMemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *InMemoryKV) Set(ctx context.Context, key, value string) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *InMemoryKV) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// JSONFileKV persists the key space as a single JSON object, written with a
// tmp file and rename so a crash never leaves a torn file.
type JSONFileKV struct {
	mu   sync.Mutex
	path string
}

func NewJSONFileKV(path string) *JSONFileKV {
	return &JSONFileKV{path: strings.TrimSpace(path)}
}

func (s *JSONFileKV) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *JSONFileKV) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.path == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (s *JSONFileKV) Set(ctx context.Context, key, value string) error {
	if s == nil || s.path == "" || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.loadLocked()
	if err != nil {
		return err
	}
	values[key] = value
	return s.saveLocked(values)
}

func (s *JSONFileKV) Delete(ctx context.Context, key string) error {
	if s == nil || s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.saveLocked(values)
}

func (s *JSONFileKV) loadLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *JSONFileKV) saveLocked(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
