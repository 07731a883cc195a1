package outclip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string, maxAttempts int) *Client {
	return NewClient(ClientOptions{
		BaseURL:     serverURL,
		Token:       "token_test_123",
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
}

func TestClientSendsBearerAndJSONContentType(t *testing.T) {
	var capturedAuth string
	var capturedContentType string
	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedContentType = r.Header.Get("Content-Type")
		capturedPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"id":"col_1","name":"google-docs"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	col, err := client.CreateCollection(context.Background(), "google-docs")
	if err != nil {
		t.Fatalf("create collection failed: %v", err)
	}
	if col.ID != "col_1" {
		t.Fatalf("expected col_1, got %q", col.ID)
	}
	if capturedPath != "/api/collections.create" {
		t.Fatalf("expected collections.create path, got %s", capturedPath)
	}
	if capturedAuth != "Bearer token_test_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", capturedContentType)
	}
}

func TestClientImportUsesMultipartBoundary(t *testing.T) {
	var capturedContentType string
	var capturedFileName string
	var capturedFileBody string
	var capturedCollection string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		capturedCollection = r.FormValue("collectionId")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			capturedFileName = header.Filename
			buf := make([]byte, header.Size)
			n, _ := file.Read(buf)
			capturedFileBody = string(buf[:n])
		}
		_, _ = w.Write([]byte(`{"data":{"id":"doc_99","title":"Budget"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	doc, err := client.ImportDocument(context.Background(), ImportDocumentRequest{
		CollectionID: "col_sheets",
		FileBytes:    []byte("a,b\n1,2\n"),
		FileName:     "Budget.csv",
		Publish:      true,
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if doc.ID != "doc_99" {
		t.Fatalf("expected doc_99, got %q", doc.ID)
	}
	if !strings.HasPrefix(capturedContentType, "multipart/form-data; boundary=") {
		t.Fatalf("expected auto-derived multipart boundary, got %q", capturedContentType)
	}
	if capturedFileName != "Budget.csv" {
		t.Fatalf("expected Budget.csv, got %q", capturedFileName)
	}
	if capturedFileBody != "a,b\n1,2\n" {
		t.Fatalf("unexpected file body %q", capturedFileBody)
	}
	if capturedCollection != "col_sheets" {
		t.Fatalf("expected collectionId field, got %q", capturedCollection)
	}
}

func TestClientRetriesServerErrorsToTheBound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.GetDocument(context.Background(), "doc_1")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected last status 500, got %d", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "upstream exploded") {
		t.Fatalf("expected last body in error, got %q", apiErr.Body)
	}
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected server classification, got %v", err)
	}
}

func TestClientNeverRetriesAuthFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.GetCollection(context.Background(), "col_1")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one call, got %d", got)
	}
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected auth classification, got %v", err)
	}
}

func TestClientNeverRetriesNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.GetCollection(context.Background(), "col_gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one call, got %d", got)
	}
}

func TestClientRetriesRateLimitWithRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"doc_1","title":"T","text":"body"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	doc, err := client.GetDocument(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("expected recovery after rate limit, got %v", err)
	}
	if doc.Text != "body" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestClientFlagsDeletedAndArchivedCollections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req["id"] {
		case "col_deleted":
			_, _ = w.Write([]byte(`{"data":{"id":"col_deleted","deletedAt":"2026-01-01T00:00:00Z"}}`))
		case "col_archived":
			_, _ = w.Write([]byte(`{"data":{"id":"col_archived","archivedAt":"2026-01-01T00:00:00Z"}}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"id":"col_live","name":"docs"}}`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	if _, err := client.GetCollection(context.Background(), "col_live"); err != nil {
		t.Fatalf("live collection should verify: %v", err)
	}
	for _, id := range []string{"col_deleted", "col_archived"} {
		_, err := client.GetCollection(context.Background(), id)
		if !errors.Is(err, ErrResourceState) {
			t.Fatalf("expected resource-state error for %s, got %v", id, err)
		}
	}
}

func TestClientCancellationSurfacesAsTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := newTestClient(server.URL, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.GetDocument(ctx, "doc_1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestRetryDelayHonorsCeiling(t *testing.T) {
	client := NewClient(ClientOptions{
		BaseURL:   "https://kb.example.com",
		Token:     "token_test_123",
		BaseDelay: time.Second,
		MaxDelay:  2 * time.Second,
	})
	for attempt := 1; attempt <= 6; attempt++ {
		if delay := client.retryDelay(attempt, ""); delay > 2*time.Second {
			t.Fatalf("attempt %d exceeded ceiling: %s", attempt, delay)
		}
	}
	if delay := client.retryDelay(1, "30"); delay != 2*time.Second {
		t.Fatalf("expected Retry-After capped to ceiling, got %s", delay)
	}
	if delay := client.retryDelay(1, "1"); delay != time.Second {
		t.Fatalf("expected Retry-After of 1s, got %s", delay)
	}
}
