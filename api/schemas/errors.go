package schemas

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// -- Error Taxonomy --

var (
	// ErrUnknownQueryType is returned for a query type no table knows about.
	ErrUnknownQueryType = errors.New("unknown query type")
	// ErrSessionClosed is returned by a session after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// Error kinds reported in per-item error descriptors.
const (
	KindValidation      = "validation"
	KindSessionInit     = "session_init"
	KindFormInteraction = "form_interaction"
	KindDownloadTimeout = "download_timeout"
	KindInternal        = "internal"
)

// ValidationError reports malformed or incomplete caller input. It is raised
// before any browser work starts. Missing maps item index to the absent fields.
type ValidationError struct {
	Message string
	Missing map[int][]string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Message
	}
	idx := make([]int, 0, len(e.Missing))
	for i := range e.Missing {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("item %d is missing required fields: %s", i, strings.Join(e.Missing[i], ", ")))
	}
	return strings.Join(parts, "; ")
}

// SessionInitError means the browser could not be launched or logged in.
type SessionInitError struct {
	Stage string
	Err   error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("session initialization failed during %s: %v", e.Stage, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// FormInteractionError carries the selector of a required control that could
// not be filled or clicked.
type FormInteractionError struct {
	Selector string
	Action   string
	Err      error
}

func (e *FormInteractionError) Error() string {
	return fmt.Sprintf("form interaction failed: %s %q: %v", e.Action, e.Selector, e.Err)
}

func (e *FormInteractionError) Unwrap() error { return e.Err }

// DownloadTimeoutError means the portal never produced the expected file.
type DownloadTimeoutError struct {
	QueryType QueryType
	Timeout   time.Duration
	Err       error
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download for %s query did not complete within %s", e.QueryType, e.Timeout)
}

func (e *DownloadTimeoutError) Unwrap() error { return e.Err }

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	var (
		valErr  *ValidationError
		initErr *SessionInitError
		formErr *FormInteractionError
		dlErr   *DownloadTimeoutError
	)
	switch {
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &initErr):
		return KindSessionInit
	case errors.As(err, &formErr):
		return KindFormInteraction
	case errors.As(err, &dlErr):
		return KindDownloadTimeout
	default:
		return KindInternal
	}
}

// IsClientError reports whether err should be answered as a bad request.
func IsClientError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr) || errors.Is(err, ErrUnknownQueryType)
}
