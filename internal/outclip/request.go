package outclip

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxTitleLength = 255

type Action string

const (
	ActionSaveDocument Action = "saveDocument"
	ActionImportSheet  Action = "importSheet"
	ActionAppendHeader Action = "appendHeader"
)

// ActionRequest is the wire envelope received from the caller. The action
// field is only a string here; Execute maps it onto the closed set of typed
// requests below, so an unknown action exists solely at this boundary.
type ActionRequest struct {
	Action         string `json:"action"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content,omitempty"`
	FileContent    string `json:"fileContent,omitempty"`
	DocID          string `json:"docId,omitempty"`
	HeaderBlock    string `json:"headerBlock,omitempty"`
	HeaderPosition string `json:"headerPosition,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

type SaveDocumentRequest struct {
	Title          string
	Content        string
	HeaderBlock    string
	HeaderPosition HeaderPosition
}

func (r SaveDocumentRequest) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(r.Title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLength)
	}
	if r.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	return validateHeaderPosition(r.HeaderPosition)
}

type ImportSheetRequest struct {
	FileContent    string
	Title          string
	HeaderBlock    string
	HeaderPosition HeaderPosition
}

func (r ImportSheetRequest) validate() error {
	if r.FileContent == "" {
		return fmt.Errorf("%w: fileContent is required", ErrValidation)
	}
	if utf8.RuneCountInString(r.Title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLength)
	}
	return validateHeaderPosition(r.HeaderPosition)
}

type AppendHeaderRequest struct {
	DocID          string
	HeaderBlock    string
	HeaderPosition HeaderPosition
}

func (r AppendHeaderRequest) validate() error {
	if strings.TrimSpace(r.DocID) == "" {
		return fmt.Errorf("%w: docId is required", ErrValidation)
	}
	if r.HeaderBlock == "" {
		return fmt.Errorf("%w: headerBlock is required", ErrValidation)
	}
	return validateHeaderPosition(r.HeaderPosition)
}

func validateHeaderPosition(position HeaderPosition) error {
	switch position {
	case "", HeaderTop, HeaderBottom:
		return nil
	default:
		return fmt.Errorf("%w: header position %q is not supported", ErrValidation, position)
	}
}

// Result is the single response produced for every request. Success carries
// url and documentId; failure carries a one-line error plus its stable kind.
// A failure after the document was already created still carries the created
// document's id and url so the caller can surface the link.
type Result struct {
	Success    bool      `json:"success"`
	URL        string    `json:"url,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	Timestamp  string    `json:"timestamp"`
}
