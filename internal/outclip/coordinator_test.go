package outclip

import (
	"context"
	"strings"
	"testing"
)

func newTestCoordinator(t *testing.T, api KnowledgeBaseAPI) (*Coordinator, KV) {
	t.Helper()
	configStore := NewInMemoryKV()
	seedConfig(t, configStore, "https://kb.example.com", "secret-token-123")
	cache := NewInMemoryKV()
	c := NewCoordinator(CoordinatorOptions{
		ConfigStore:   configStore,
		CacheStore:    cache,
		ClientFactory: func(Config) KnowledgeBaseAPI { return api },
	})
	return c, cache
}

func TestSaveDocumentRoundTrip(t *testing.T) {
	api := newFakeKnowledgeBase()
	api.nextDocumentID = "doc123"
	c, cache := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:  string(ActionSaveDocument),
		Title:   "Notes",
		Content: "body",
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.DocumentID != "doc123" {
		t.Fatalf("unexpected document id %q", result.DocumentID)
	}
	if result.URL != "https://kb.example.com/doc/doc123" {
		t.Fatalf("unexpected url %q", result.URL)
	}
	if result.Timestamp == "" {
		t.Fatalf("expected a timestamp on every result")
	}
	if api.createCollectionCalls != 1 {
		t.Fatalf("expected the docs collection to be created once, got %d", api.createCollectionCalls)
	}
	if id, ok, _ := cache.Get(context.Background(), DocsCollectionKey); !ok || id == "" {
		t.Fatalf("expected the collection id to be cached")
	}
}

func TestSaveDocumentReusesCachedCollection(t *testing.T) {
	api := newFakeKnowledgeBase()
	c, _ := newTestCoordinator(t, api)

	first := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "a", Content: "x"})
	second := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "b", Content: "y"})
	if !first.Success || !second.Success {
		t.Fatalf("expected both exports to succeed: %+v %+v", first, second)
	}
	if api.createCollectionCalls != 1 {
		t.Fatalf("expected a single collection creation across exports, got %d", api.createCollectionCalls)
	}
}

func TestSaveDocumentValidationShortCircuits(t *testing.T) {
	api := newFakeKnowledgeBase()
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "   ", Content: "x"})
	if result.Success {
		t.Fatalf("expected failure for blank title")
	}
	if result.ErrorKind != KindValidation {
		t.Fatalf("expected validation kind, got %q", result.ErrorKind)
	}
	if api.createCollectionCalls+api.createDocumentCalls != 0 {
		t.Fatalf("validation failure must not reach the remote service")
	}
}

func TestSaveDocumentRejectsOverlongTitle(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeKnowledgeBase())
	result := c.Execute(context.Background(), ActionRequest{
		Action:  string(ActionSaveDocument),
		Title:   strings.Repeat("x", maxTitleLength+1),
		Content: "body",
	})
	if result.Success || result.ErrorKind != KindValidation {
		t.Fatalf("expected validation failure, got %+v", result)
	}
}

func TestSaveDocumentHeaderFailureKeepsDocumentReference(t *testing.T) {
	api := newFakeKnowledgeBase()
	api.nextDocumentID = "doc123"
	api.updateDocumentErr = &APIError{Status: 500, Kind: KindServer, Body: "boom"}
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:      string(ActionSaveDocument),
		Title:       "Notes",
		Content:     "body",
		HeaderBlock: "header",
	})
	if result.Success {
		t.Fatalf("expected failure when header injection fails")
	}
	if result.DocumentID != "doc123" || result.URL != "https://kb.example.com/doc/doc123" {
		t.Fatalf("expected the created document reference on the result, got %+v", result)
	}
	if result.ErrorKind != KindServer {
		t.Fatalf("expected server kind, got %q", result.ErrorKind)
	}
}

func TestImportSheetRenamesAndKeepsBody(t *testing.T) {
	api := newFakeKnowledgeBase()
	api.nextDocumentID = "sheet1"
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:      string(ActionImportSheet),
		Title:       "Budget 2026",
		FileContent: "a,b\n1,2\n",
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if api.lastImport.FileName != "Budget 2026.csv" {
		t.Fatalf("unexpected import file name %q", api.lastImport.FileName)
	}
	if api.lastUpdate.Title != "Budget 2026" {
		t.Fatalf("expected rename to the requested title, got %q", api.lastUpdate.Title)
	}
	if api.lastUpdate.Append || api.lastUpdate.Text != "a,b\n1,2\n" {
		t.Fatalf("rename must rewrite with the imported body, got %+v", api.lastUpdate)
	}
}

func TestImportSheetWithoutTitleUsesDefaultFileName(t *testing.T) {
	api := newFakeKnowledgeBase()
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:      string(ActionImportSheet),
		FileContent: "a,b\n",
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if api.lastImport.FileName != "import.csv" {
		t.Fatalf("unexpected default file name %q", api.lastImport.FileName)
	}
	if api.updateDocumentCalls != 0 {
		t.Fatalf("no rename expected without a requested title")
	}
}

func TestImportSheetRenameFailureKeepsDocumentReference(t *testing.T) {
	api := newFakeKnowledgeBase()
	api.nextDocumentID = "sheet1"
	api.updateDocumentErr = &APIError{Status: 500, Kind: KindServer, Body: "boom"}
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:      string(ActionImportSheet),
		Title:       "Budget",
		FileContent: "a,b\n",
	})
	if result.Success {
		t.Fatalf("expected failure when rename fails")
	}
	if result.DocumentID != "sheet1" {
		t.Fatalf("expected the imported document reference, got %+v", result)
	}
}

func TestAppendHeaderDispatch(t *testing.T) {
	api := newFakeKnowledgeBase()
	api.documents["doc9"] = Document{ID: "doc9", Title: "t", Text: "body"}
	c, _ := newTestCoordinator(t, api)

	result := c.Execute(context.Background(), ActionRequest{
		Action:         string(ActionAppendHeader),
		DocID:          "doc9",
		HeaderBlock:    "header",
		HeaderPosition: string(HeaderBottom),
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.DocumentID != "doc9" || result.URL != "https://kb.example.com/doc/doc9" {
		t.Fatalf("unexpected reference on result: %+v", result)
	}
	if !api.lastUpdate.Append {
		t.Fatalf("expected bottom injection to append")
	}
}

func TestExecuteRejectsUnknownAction(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeKnowledgeBase())
	result := c.Execute(context.Background(), ActionRequest{Action: "explodeQuietly"})
	if result.Success {
		t.Fatalf("expected failure for unknown action")
	}
	if result.ErrorKind != KindUnknownAction {
		t.Fatalf("expected unknown-action kind, got %q", result.ErrorKind)
	}
	if !strings.Contains(result.Error, "explodeQuietly") {
		t.Fatalf("expected the action name in the error, got %q", result.Error)
	}
}

type panickyKnowledgeBase struct{ fakeKnowledgeBase }

func (p *panickyKnowledgeBase) CreateCollection(ctx context.Context, name string) (Collection, error) {
	panic("remote client misbehaved")
}

func TestExecuteRecoversFromHandlerPanic(t *testing.T) {
	c, _ := newTestCoordinator(t, &panickyKnowledgeBase{fakeKnowledgeBase: *newFakeKnowledgeBase()})
	result := c.Execute(context.Background(), ActionRequest{
		Action:  string(ActionSaveDocument),
		Title:   "Notes",
		Content: "body",
	})
	if result.Success {
		t.Fatalf("expected failure from a panicking handler")
	}
	if result.Error == "" {
		t.Fatalf("expected an error message on the result")
	}
}

func TestConfigInvalidationDropsBothCollectionReferences(t *testing.T) {
	api := newFakeKnowledgeBase()
	c, cache := newTestCoordinator(t, api)

	docs := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "a", Content: "x"})
	sheets := c.Execute(context.Background(), ActionRequest{Action: string(ActionImportSheet), FileContent: "a,b\n"})
	if !docs.Success || !sheets.Success {
		t.Fatalf("expected both exports to succeed: %+v %+v", docs, sheets)
	}

	c.Config().Invalidate(context.Background())
	for _, key := range []string{DocsCollectionKey, SheetsCollectionKey} {
		if _, ok, _ := cache.Get(context.Background(), key); ok {
			t.Fatalf("expected %s dropped on invalidation", key)
		}
	}

	// The next export resolves fresh collections.
	before := api.createCollectionCalls
	again := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "b", Content: "y"})
	if !again.Success {
		t.Fatalf("expected export after invalidation to succeed: %+v", again)
	}
	if api.createCollectionCalls != before+1 {
		t.Fatalf("expected a fresh collection resolution after invalidation")
	}
}

func TestExecuteFailsWithoutConfiguration(t *testing.T) {
	c := NewCoordinator(CoordinatorOptions{
		ClientFactory: func(Config) KnowledgeBaseAPI { return newFakeKnowledgeBase() },
	})
	result := c.Execute(context.Background(), ActionRequest{Action: string(ActionSaveDocument), Title: "a", Content: "x"})
	if result.Success {
		t.Fatalf("expected failure without configuration")
	}
	if result.ErrorKind != KindConfiguration {
		t.Fatalf("expected configuration kind, got %q", result.ErrorKind)
	}
}
