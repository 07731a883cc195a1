package outclip

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrAuth          = errors.New("authentication error")
	ErrNotFound      = errors.New("not found")
	ErrResourceState = errors.New("resource unusable")
	ErrRateLimited   = errors.New("rate limited")
	ErrServer        = errors.New("server error")
	ErrNetwork       = errors.New("network error")
	ErrTimeout       = errors.New("timed out")
	ErrUnknownAction = errors.New("unknown action")
)

// ErrorKind is the stable discriminant exposed on every failed Result so the
// caller can pick iconography without parsing message text.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindValidation    ErrorKind = "validation"
	KindAuth          ErrorKind = "auth"
	KindNotFound      ErrorKind = "not_found"
	KindResourceState ErrorKind = "resource_state"
	KindRateLimited   ErrorKind = "rate_limited"
	KindServer        ErrorKind = "server"
	KindNetwork       ErrorKind = "network"
	KindTimeout       ErrorKind = "timeout"
	KindUnknownAction ErrorKind = "unknown_action"
	KindInternal      ErrorKind = "internal"
)

// APIError is a classified failure from the knowledge-base API. Status is the
// last HTTP status observed, Body the last response body (truncated).
type APIError struct {
	Status   int
	Body     string
	Kind     ErrorKind
	Attempts int
}

func (e *APIError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("knowledge-base request failed after %d attempts: status=%d body=%s", e.Attempts, e.Status, e.Body)
	}
	return fmt.Sprintf("knowledge-base request failed: status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrServer:
		return e.Kind == KindServer
	}
	return false
}

// ResourceStateError marks a collection that exists remotely but is deleted or
// archived. Resolution treats it the same as not-found.
type ResourceStateError struct {
	ID    string
	State string
}

func (e *ResourceStateError) Error() string {
	return fmt.Sprintf("collection %s is %s", e.ID, e.State)
}

func (e *ResourceStateError) Is(target error) bool {
	return target == ErrResourceState
}

// ClassifyError maps any failure from the pipeline to its ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrUnknownAction):
		return KindUnknownAction
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrResourceState):
		return KindResourceState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrTimeout), isContextError(err):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindInternal
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
