package outclip

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type HeaderPosition string

const (
	HeaderTop    HeaderPosition = "top"
	HeaderBottom HeaderPosition = "bottom"
)

// DocumentAPI is the slice of the knowledge-base client the injector needs.
type DocumentAPI interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	UpdateDocument(ctx context.Context, req UpdateDocumentRequest) (Document, error)
}

// HeaderInjector attaches a metadata block to an existing document without
// losing its content. Failures propagate unchanged; the coordinator decides
// what a failed injection means for the overall action.
type HeaderInjector struct {
	api DocumentAPI
}

func NewHeaderInjector(api DocumentAPI) *HeaderInjector {
	return &HeaderInjector{api: api}
}

func (h *HeaderInjector) Inject(ctx context.Context, docID, headerBlock string, position HeaderPosition) error {
	if h == nil || h.api == nil {
		return fmt.Errorf("header injector is not configured")
	}
	if docID == "" || headerBlock == "" {
		return fmt.Errorf("%w: document id and header block are required", ErrValidation)
	}
	switch position {
	case "", HeaderTop:
		doc, err := h.api.GetDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("fetching document for header injection: %w", err)
		}
		_, err = h.api.UpdateDocument(ctx, UpdateDocumentRequest{
			ID:      docID,
			Title:   doc.Title,
			Text:    headerBlock + "\n\n" + doc.Text,
			Append:  false,
			Publish: true,
			Done:    true,
		})
		if err != nil {
			return fmt.Errorf("rewriting document with header: %w", err)
		}
		return nil
	case HeaderBottom:
		// The remote service concatenates; only the block is sent.
		_, err := h.api.UpdateDocument(ctx, UpdateDocumentRequest{
			ID:      docID,
			Text:    headerBlock,
			Append:  true,
			Publish: true,
			Done:    true,
		})
		if err != nil {
			return fmt.Errorf("appending header to document: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: header position %q is not supported", ErrValidation, position)
	}
}

// HeaderMeta describes the exported document for BuildHeaderBlock.
type HeaderMeta struct {
	Title     string
	SourceURL string
	Author    string
	CreatedAt time.Time
	ClippedAt time.Time
}

// BuildHeaderBlock renders the metadata table prepended or appended to an
// exported document.
func BuildHeaderBlock(meta HeaderMeta) string {
	author := meta.Author
	if author == "" {
		author = "unknown"
	}
	clipped := meta.ClippedAt
	if clipped.IsZero() {
		clipped = time.Now().UTC()
	}
	rows := []struct {
		label string
		value string
	}{
		{"Title", meta.Title},
		{"Source", meta.SourceURL},
		{"Author", author},
		{"Created", formatHeaderTime(meta.CreatedAt)},
		{"Clipped", formatHeaderTime(clipped)},
	}
	var b strings.Builder
	b.WriteString("| | |\n|---|---|\n")
	for _, row := range rows {
		if row.value == "" {
			continue
		}
		b.WriteString("| ")
		b.WriteString(row.label)
		b.WriteString(" | ")
		b.WriteString(row.value)
		b.WriteString(" |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHeaderTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
