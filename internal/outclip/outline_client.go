package outclip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxErrorBodyBytes = 2048

type ClientOptions struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	UserAgent   string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client speaks the knowledge-base's POST-per-operation RPC surface
// (collections.create, documents.create, documents.import, ...). Transient
// failures (429, 5xx, transport) are retried with exponential backoff and
// jitter; auth and not-found failures are surfaced immediately.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	userAgent   string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 750 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		token:       strings.TrimSpace(opts.Token),
		httpClient:  httpClient,
		userAgent:   strings.TrimSpace(opts.UserAgent),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

type Collection struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeletedAt  string `json:"deletedAt"`
	ArchivedAt string `json:"archivedAt"`
}

type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type CreateDocumentRequest struct {
	Title        string
	Text         string
	CollectionID string
	ParentID     string
	Publish      bool
}

type ImportDocumentRequest struct {
	CollectionID string
	FileBytes    []byte
	FileName     string
	ParentID     string
	Template     bool
	Publish      bool
}

type UpdateDocumentRequest struct {
	ID      string
	Title   string
	Text    string
	Append  bool
	Publish bool
	Done    bool
}

func (c *Client) CreateCollection(ctx context.Context, name string) (Collection, error) {
	var out struct {
		Data Collection `json:"data"`
	}
	err := c.doJSON(ctx, "/api/collections.create", map[string]any{
		"name":       name,
		"private":    false,
		"permission": "read_write",
		"color":      "#4E5C6E",
	}, &out)
	if err != nil {
		return Collection{}, err
	}
	return out.Data, nil
}

func (c *Client) GetCollection(ctx context.Context, id string) (Collection, error) {
	var out struct {
		Data Collection `json:"data"`
	}
	if err := c.doJSON(ctx, "/api/collections.info", map[string]any{"id": id}, &out); err != nil {
		return Collection{}, err
	}
	if out.Data.DeletedAt != "" {
		return Collection{}, &ResourceStateError{ID: id, State: "deleted"}
	}
	if out.Data.ArchivedAt != "" {
		return Collection{}, &ResourceStateError{ID: id, State: "archived"}
	}
	return out.Data, nil
}

func (c *Client) CreateDocument(ctx context.Context, req CreateDocumentRequest) (Document, error) {
	payload := map[string]any{
		"title":        req.Title,
		"text":         req.Text,
		"collectionId": req.CollectionID,
		"publish":      req.Publish,
	}
	if req.ParentID != "" {
		payload["parentDocumentId"] = req.ParentID
	}
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.doJSON(ctx, "/api/documents.create", payload, &out); err != nil {
		return Document{}, err
	}
	return out.Data, nil
}

func (c *Client) ImportDocument(ctx context.Context, req ImportDocumentRequest) (Document, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return Document{}, err
	}
	if _, err := part.Write(req.FileBytes); err != nil {
		return Document{}, err
	}
	fields := map[string]string{
		"collectionId": req.CollectionID,
		"template":     strconv.FormatBool(req.Template),
		"publish":      strconv.FormatBool(req.Publish),
	}
	if req.ParentID != "" {
		fields["parentDocumentId"] = req.ParentID
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return Document{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Document{}, err
	}
	var out struct {
		Data Document `json:"data"`
	}
	// Content type carries the multipart boundary; do not override it.
	if err := c.do(ctx, "/api/documents.import", buf.Bytes(), writer.FormDataContentType(), &out); err != nil {
		return Document{}, err
	}
	return out.Data, nil
}

func (c *Client) UpdateDocument(ctx context.Context, req UpdateDocumentRequest) (Document, error) {
	payload := map[string]any{
		"id":      req.ID,
		"text":    req.Text,
		"append":  req.Append,
		"publish": req.Publish,
		"done":    req.Done,
	}
	if req.Title != "" {
		payload["title"] = req.Title
	}
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.doJSON(ctx, "/api/documents.update", payload, &out); err != nil {
		return Document{}, err
	}
	return out.Data, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.doJSON(ctx, "/api/documents.info", map[string]any{"id": id}, &out); err != nil {
		return Document{}, err
	}
	return out.Data, nil
}

func (c *Client) doJSON(ctx context.Context, path string, payload any, out any) error {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, path, bodyBytes, "application/json", out)
}

func (c *Client) do(ctx context.Context, path string, body []byte, contentType string, out any) error {
	if c == nil {
		return fmt.Errorf("knowledge-base client is nil")
	}
	if c.baseURL == "" {
		return fmt.Errorf("%w: base URL is empty", ErrConfiguration)
	}
	url := c.baseURL + path

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Content-Type", contentType)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
			}
			lastErr = fmt.Errorf("%w: %v", ErrNetwork, err)
			if attempt < c.maxAttempts {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt, "")); waitErr != nil {
					return fmt.Errorf("%w: %v", ErrTimeout, waitErr)
				}
				continue
			}
			return lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %v", ErrNetwork, readErr)
			if attempt < c.maxAttempts {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt, "")); waitErr != nil {
					return fmt.Errorf("%w: %v", ErrTimeout, waitErr)
				}
				continue
			}
			return lastErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding knowledge-base response: %w", err)
			}
			return nil
		}

		kind := classifyStatus(resp.StatusCode)
		apiErr := &APIError{
			Status:   resp.StatusCode,
			Body:     truncateBody(respBody),
			Kind:     kind,
			Attempts: attempt,
		}
		if kind != KindRateLimited && kind != KindServer {
			return apiErr
		}
		lastErr = apiErr
		if attempt < c.maxAttempts {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt, resp.Header.Get("Retry-After"))); waitErr != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, waitErr)
			}
			continue
		}
	}
	return lastErr
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServer
	default:
		return KindInternal
	}
}

// retryDelay grows base*2^(attempt-1) with ±20% jitter, capped at maxDelay.
// A parseable Retry-After header wins, still subject to the cap.
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			delay = c.maxDelay
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	delay = time.Duration(float64(delay) * jitter)
	if delay > c.maxDelay {
		return c.maxDelay
	}
	if delay <= 0 {
		return c.baseDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		text = text[:maxErrorBodyBytes]
	}
	return text
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
