package outclip

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultActionTimeout = 45 * time.Second

// KnowledgeBaseAPI is everything the coordinator needs from the remote
// service. *Client satisfies it; tests substitute fakes.
type KnowledgeBaseAPI interface {
	CollectionAPI
	DocumentAPI
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (Document, error)
	ImportDocument(ctx context.Context, req ImportDocumentRequest) (Document, error)
}

type ClientFactory func(cfg Config) KnowledgeBaseAPI

type CoordinatorOptions struct {
	ConfigStore   KV
	CacheStore    KV
	Logger        *zap.Logger
	ActionTimeout time.Duration
	HTTPClient    *http.Client
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	ClientFactory ClientFactory
}

// Coordinator is the single entry point for export actions. It owns the
// configuration cache, dispatches each request to its handler under a bounded
// timeout, and always produces exactly one Result.
type Coordinator struct {
	provider      *ConfigProvider
	cache         KV
	logger        *zap.Logger
	actionTimeout time.Duration
	clientFactory ClientFactory
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = defaultActionTimeout
	}
	configStore := opts.ConfigStore
	if configStore == nil {
		configStore = NewInMemoryKV()
	}
	cache := opts.CacheStore
	if cache == nil {
		cache = NewInMemoryKV()
	}
	clientFactory := opts.ClientFactory
	if clientFactory == nil {
		clientFactory = func(cfg Config) KnowledgeBaseAPI {
			return NewClient(ClientOptions{
				BaseURL:     cfg.ServiceBaseURL,
				Token:       cfg.APIToken,
				HTTPClient:  opts.HTTPClient,
				MaxAttempts: opts.MaxAttempts,
				BaseDelay:   opts.BaseDelay,
				MaxDelay:    opts.MaxDelay,
			})
		}
	}

	c := &Coordinator{
		provider:      NewConfigProvider(configStore),
		cache:         cache,
		logger:        logger,
		actionTimeout: actionTimeout,
		clientFactory: clientFactory,
	}
	// Collection references derive from the configuration; a config change
	// must never leave them behind. The hook only forgets cached ids, so the
	// resolver needs no remote client here.
	forgetter := NewResolver(nil, cache, logger)
	c.provider.SetInvalidateHook(func(ctx context.Context) {
		forgetter.Forget(ctx, DocsCollectionKey, SheetsCollectionKey)
	})
	return c
}

// Config returns the coordinator's configuration provider, for wiring the
// change watcher.
func (c *Coordinator) Config() *ConfigProvider {
	if c == nil {
		return nil
	}
	return c.provider
}

// Execute dispatches the wire envelope onto the closed action set. It never
// panics out and never returns more or less than one Result.
func (c *Coordinator) Execute(ctx context.Context, req ActionRequest) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("action handler panicked", zap.Any("panic", recovered), zap.String("action", req.Action))
			result = failure(fmt.Errorf("internal error: %v", recovered))
		}
	}()

	switch Action(strings.TrimSpace(req.Action)) {
	case ActionSaveDocument:
		return c.SaveDocument(ctx, SaveDocumentRequest{
			Title:          req.Title,
			Content:        req.Content,
			HeaderBlock:    req.HeaderBlock,
			HeaderPosition: HeaderPosition(req.HeaderPosition),
		})
	case ActionImportSheet:
		return c.ImportSheet(ctx, ImportSheetRequest{
			FileContent:    req.FileContent,
			Title:          req.Title,
			HeaderBlock:    req.HeaderBlock,
			HeaderPosition: HeaderPosition(req.HeaderPosition),
		})
	case ActionAppendHeader:
		return c.AppendHeader(ctx, AppendHeaderRequest{
			DocID:          req.DocID,
			HeaderBlock:    req.HeaderBlock,
			HeaderPosition: HeaderPosition(req.HeaderPosition),
		})
	default:
		return failure(fmt.Errorf("%w: %q", ErrUnknownAction, req.Action))
	}
}

func (c *Coordinator) SaveDocument(ctx context.Context, req SaveDocumentRequest) Result {
	if err := req.validate(); err != nil {
		return failure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.actionTimeout)
	defer cancel()

	cfg, api, err := c.session(ctx)
	if err != nil {
		return failure(err)
	}
	resolver := NewResolver(api, c.cache, c.logger)
	collectionID, err := resolver.Resolve(ctx, DocsCollectionKey, cfg.DocsCollectionName)
	if err != nil {
		return failure(err)
	}

	doc, err := api.CreateDocument(ctx, CreateDocumentRequest{
		Title:        req.Title,
		Text:         req.Content,
		CollectionID: collectionID,
		Publish:      true,
	})
	if err != nil {
		return failure(fmt.Errorf("creating document: %w", err))
	}
	docURL := documentURL(cfg.ServiceBaseURL, doc.ID)

	if req.HeaderBlock != "" {
		injector := NewHeaderInjector(api)
		if err := injector.Inject(ctx, doc.ID, req.HeaderBlock, req.HeaderPosition); err != nil {
			return partialFailure(err, doc.ID, docURL)
		}
	}
	c.logger.Info("document exported", zap.String("documentId", doc.ID), zap.String("collectionId", collectionID))
	return success(doc.ID, docURL)
}

func (c *Coordinator) ImportSheet(ctx context.Context, req ImportSheetRequest) Result {
	if err := req.validate(); err != nil {
		return failure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.actionTimeout)
	defer cancel()

	cfg, api, err := c.session(ctx)
	if err != nil {
		return failure(err)
	}
	resolver := NewResolver(api, c.cache, c.logger)
	collectionID, err := resolver.Resolve(ctx, SheetsCollectionKey, cfg.SheetsCollectionName)
	if err != nil {
		return failure(err)
	}

	fileName := strings.TrimSpace(req.Title)
	if fileName == "" {
		fileName = "import"
	}
	doc, err := api.ImportDocument(ctx, ImportDocumentRequest{
		CollectionID: collectionID,
		FileBytes:    []byte(req.FileContent),
		FileName:     fileName + ".csv",
		Publish:      true,
	})
	if err != nil {
		return failure(fmt.Errorf("importing sheet: %w", err))
	}
	docURL := documentURL(cfg.ServiceBaseURL, doc.ID)

	if title := strings.TrimSpace(req.Title); title != "" && title != doc.Title {
		// Rename preserves the imported body through a read-then-update round trip.
		current, err := api.GetDocument(ctx, doc.ID)
		if err != nil {
			return partialFailure(fmt.Errorf("fetching imported sheet for rename: %w", err), doc.ID, docURL)
		}
		if _, err := api.UpdateDocument(ctx, UpdateDocumentRequest{
			ID:      doc.ID,
			Title:   title,
			Text:    current.Text,
			Append:  false,
			Publish: true,
			Done:    true,
		}); err != nil {
			return partialFailure(fmt.Errorf("renaming imported sheet: %w", err), doc.ID, docURL)
		}
	}

	if req.HeaderBlock != "" {
		injector := NewHeaderInjector(api)
		if err := injector.Inject(ctx, doc.ID, req.HeaderBlock, req.HeaderPosition); err != nil {
			return partialFailure(err, doc.ID, docURL)
		}
	}
	c.logger.Info("sheet imported", zap.String("documentId", doc.ID), zap.String("collectionId", collectionID))
	return success(doc.ID, docURL)
}

func (c *Coordinator) AppendHeader(ctx context.Context, req AppendHeaderRequest) Result {
	if err := req.validate(); err != nil {
		return failure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.actionTimeout)
	defer cancel()

	cfg, api, err := c.session(ctx)
	if err != nil {
		return failure(err)
	}
	injector := NewHeaderInjector(api)
	if err := injector.Inject(ctx, req.DocID, req.HeaderBlock, req.HeaderPosition); err != nil {
		return failure(err)
	}
	return success(req.DocID, documentURL(cfg.ServiceBaseURL, req.DocID))
}

// session loads (or reuses) the validated configuration and builds the client
// bound to it.
func (c *Coordinator) session(ctx context.Context) (Config, KnowledgeBaseAPI, error) {
	cfg, err := c.provider.Load(ctx)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, c.clientFactory(cfg), nil
}

func documentURL(baseURL, docID string) string {
	return baseURL + "/doc/" + docID
}

func success(docID, url string) Result {
	return Result{
		Success:    true,
		URL:        url,
		DocumentID: docID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

func failure(err error) Result {
	return Result{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: ClassifyError(err),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// partialFailure reports a failed step that happened after the document was
// created. The created document's id and url are kept on the result.
func partialFailure(err error, docID, url string) Result {
	result := failure(err)
	result.DocumentID = docID
	result.URL = url
	return result
}
