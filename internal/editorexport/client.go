// Package editorexport fetches exported content from an online editor and
// hands it to the outclip daemon as an export action. It is the capture side
// of the bridge: the daemon owns the knowledge-base session, this package only
// pulls bytes and forwards them.
package editorexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/outclip/outclip/internal/outclip"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ExportedFile is the fetched editor export.
type ExportedFile struct {
	Content     []byte
	ContentType string
	FileName    string
}

// Fetcher downloads editor exports over plain GET. Export endpoints of the
// big online editors answer unauthenticated requests for shared documents; a
// private document comes back as an HTML sign-in page instead of an error
// status, which Fetch treats as a failure.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  "outclip-export/1.0",
	}
}

// FetchDocument downloads a text or markdown export.
func (f *Fetcher) FetchDocument(ctx context.Context, exportURL string) (ExportedFile, error) {
	return f.fetch(ctx, exportURL, "text/")
}

// FetchSheet downloads a tabular export. Editors serve these as CSV or
// tab-separated text depending on the chosen export format.
func (f *Fetcher) FetchSheet(ctx context.Context, exportURL string) (ExportedFile, error) {
	return f.fetch(ctx, exportURL, "text/csv", "text/tab-separated-values", "text/plain")
}

func (f *Fetcher) fetch(ctx context.Context, exportURL string, wantContentTypePrefixes ...string) (ExportedFile, error) {
	exportURL = strings.TrimSpace(exportURL)
	if exportURL == "" {
		return ExportedFile{}, fmt.Errorf("export URL is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return ExportedFile{}, fmt.Errorf("building export request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return ExportedFile{}, fmt.Errorf("fetching export: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExportedFile{}, fmt.Errorf("reading export body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ExportedFile{}, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(truncate(string(body), 256)),
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ExportedFile{}, fmt.Errorf("export is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if parsed, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		mediaType = parsed
	}
	if looksLikeSignInPage(mediaType, body) {
		return ExportedFile{}, fmt.Errorf("export returned a sign-in page; the document is likely not shared")
	}
	if mediaType != "" && !matchesAnyPrefix(mediaType, wantContentTypePrefixes) {
		return ExportedFile{}, fmt.Errorf("unexpected export content type %q", mediaType)
	}

	return ExportedFile{
		Content:     body,
		ContentType: mediaType,
		FileName:    fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}, nil
}

func matchesAnyPrefix(mediaType string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

func looksLikeSignInPage(mediaType string, body []byte) bool {
	if mediaType == "text/html" {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// DaemonClient submits an action to a running outclip daemon and returns its
// result. The daemon does the remote work; any transport-level failure here is
// distinct from a failed result, which is returned as-is.
type DaemonClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewDaemonClient(baseURL, authToken string, httpClient *http.Client) *DaemonClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8930"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &DaemonClient{
		baseURL:    baseURL,
		authToken:  strings.TrimSpace(authToken),
		httpClient: httpClient,
	}
}

func (c *DaemonClient) Execute(ctx context.Context, action outclip.ActionRequest) (outclip.Result, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return outclip.Result{}, fmt.Errorf("encoding action: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/actions", bytes.NewReader(payload))
	if err != nil {
		return outclip.Result{}, fmt.Errorf("building action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outclip.Result{}, fmt.Errorf("reaching daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outclip.Result{}, fmt.Errorf("reading daemon response: %w", err)
	}
	var result outclip.Result
	if err := json.Unmarshal(body, &result); err != nil || result.Timestamp == "" {
		// Not a result envelope: an auth or routing failure from the daemon.
		return outclip.Result{}, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(truncate(string(body), 256)),
		}
	}
	return result, nil
}
