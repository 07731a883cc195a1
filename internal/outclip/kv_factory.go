package outclip

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type KVFactory func(dsn string) (KV, error)

var kvFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]KVFactory
}{
	factories: map[string]KVFactory{},
}

// RegisterKVFactory lets embedders plug additional store schemes into
// BuildKVFromDSN. Built-in schemes always win.
func RegisterKVFactory(scheme string, factory KVFactory) {
	scheme = normalizeKVScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	kvFactoryRegistry.mu.Lock()
	defer kvFactoryRegistry.mu.Unlock()
	kvFactoryRegistry.factories[scheme] = factory
}

func lookupKVFactory(scheme string) (KVFactory, bool) {
	scheme = normalizeKVScheme(scheme)
	kvFactoryRegistry.mu.RLock()
	defer kvFactoryRegistry.mu.RUnlock()
	factory, ok := kvFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeKVScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildKVFromDSN maps a DSN to a store implementation: a bare path or file://
// becomes a JSON file store, memory:// an in-memory store, postgres:// a
// table-backed store.
func BuildKVFromDSN(dsn string) (KV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeKVScheme(parsed.Scheme)
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileKV(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryKV(), nil
	case "postgres", "postgresql":
		return NewPostgresKV(dsn)
	}
	if factory, ok := lookupKVFactory(scheme); ok {
		return factory(dsn)
	}
	return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
