package outclip

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	ConfigKeyServiceBaseURL       = "serviceBaseUrl"
	ConfigKeyAPIToken             = "apiToken"
	ConfigKeyDocsCollectionName   = "docsCollectionName"
	ConfigKeySheetsCollectionName = "sheetsCollectionName"

	DefaultDocsCollectionName   = "google-docs"
	DefaultSheetsCollectionName = "google-sheets"

	minAPITokenLength = 10
)

type Config struct {
	ServiceBaseURL       string
	APIToken             string
	DocsCollectionName   string
	SheetsCollectionName string
}

// ConfigProvider loads the runtime configuration from the synced store on
// first use and caches it until Invalidate is called. The cache is an
// optimization only: invalidation also forgets both persisted collection
// references, since a changed base URL or token makes any previously resolved
// collection id meaningless.
type ConfigProvider struct {
	mu     sync.Mutex
	store  KV
	cached *Config

	// onInvalidate clears derived state (collection references).
	onInvalidate func(ctx context.Context)
}

func NewConfigProvider(store KV) *ConfigProvider {
	return &ConfigProvider{store: store}
}

// SetInvalidateHook registers the callback run on every Invalidate. Set once
// during wiring, before the provider is shared.
func (p *ConfigProvider) SetInvalidateHook(hook func(ctx context.Context)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInvalidate = hook
}

func (p *ConfigProvider) Load(ctx context.Context) (Config, error) {
	if p == nil || p.store == nil {
		return Config{}, fmt.Errorf("%w: configuration store is not set", ErrConfiguration)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return *p.cached, nil
	}
	cfg, err := p.loadLocked(ctx)
	if err != nil {
		return Config{}, err
	}
	p.cached = &cfg
	return cfg, nil
}

func (p *ConfigProvider) Invalidate(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.cached = nil
	hook := p.onInvalidate
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
}

func (p *ConfigProvider) loadLocked(ctx context.Context) (Config, error) {
	baseURL, _, err := p.store.Get(ctx, ConfigKeyServiceBaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, ConfigKeyServiceBaseURL, err)
	}
	token, _, err := p.store.Get(ctx, ConfigKeyAPIToken)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, ConfigKeyAPIToken, err)
	}
	docsName, _, err := p.store.Get(ctx, ConfigKeyDocsCollectionName)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, ConfigKeyDocsCollectionName, err)
	}
	sheetsName, _, err := p.store.Get(ctx, ConfigKeySheetsCollectionName)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, ConfigKeySheetsCollectionName, err)
	}

	cfg := Config{
		ServiceBaseURL:       normalizeBaseURL(baseURL),
		APIToken:             strings.TrimSpace(token),
		DocsCollectionName:   strings.TrimSpace(docsName),
		SheetsCollectionName: strings.TrimSpace(sheetsName),
	}
	if cfg.DocsCollectionName == "" {
		cfg.DocsCollectionName = DefaultDocsCollectionName
	}
	if cfg.SheetsCollectionName == "" {
		cfg.SheetsCollectionName = DefaultSheetsCollectionName
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func validateConfig(cfg Config) error {
	if cfg.ServiceBaseURL == "" {
		return fmt.Errorf("%w: service base URL is not set", ErrConfiguration)
	}
	parsed, err := url.Parse(cfg.ServiceBaseURL)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: service base URL %q is not an absolute http(s) URL", ErrConfiguration, cfg.ServiceBaseURL)
	}
	if cfg.APIToken == "" {
		return fmt.Errorf("%w: API token is not set", ErrConfiguration)
	}
	if len(cfg.APIToken) < minAPITokenLength {
		return fmt.Errorf("%w: API token is too short", ErrConfiguration)
	}
	return nil
}
