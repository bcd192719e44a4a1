// -----------------------------------------------------------------------
// Extraction errors - stable codes, templated messages, per-kind policy
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction failures
type ErrorKind string

const (
	ErrorKindNotFound              ErrorKind = "not_found"
	ErrorKindInProgress            ErrorKind = "in_progress"
	ErrorKindNotCancellable        ErrorKind = "not_cancellable"
	ErrorKindUnsupportedType       ErrorKind = "unsupported_type"
	ErrorKindTooLarge              ErrorKind = "too_large"
	ErrorKindNotAccessible         ErrorKind = "not_accessible"
	ErrorKindInvalidContent        ErrorKind = "invalid_content"
	ErrorKindContentCorrupted      ErrorKind = "content_corrupted"
	ErrorKindParsingError          ErrorKind = "parsing_error"
	ErrorKindExtractionFailed      ErrorKind = "extraction_failed"
	ErrorKindTimeout               ErrorKind = "timeout"
	ErrorKindResourceExhausted     ErrorKind = "resource_exhausted"
	ErrorKindDependencyError       ErrorKind = "dependency_error"
	ErrorKindLocked                ErrorKind = "locked"
	ErrorKindVersionConflict       ErrorKind = "version_conflict"
	ErrorKindConfiguration         ErrorKind = "configuration"
	ErrorKindServiceNotInitialized ErrorKind = "service_not_initialized"
	ErrorKindPersistence           ErrorKind = "persistence"
	ErrorKindUnexpected            ErrorKind = "unexpected"
)

type kindPolicy struct {
	code          string
	recoverable   bool
	userAttention bool
}

var kindPolicies = map[ErrorKind]kindPolicy{
	ErrorKindNotFound:              {"EXTRACTION_NOT_FOUND", false, true},
	ErrorKindInProgress:            {"EXTRACTION_IN_PROGRESS", true, true},
	ErrorKindNotCancellable:        {"EXTRACTION_NOT_CANCELLABLE", false, true},
	ErrorKindUnsupportedType:       {"EXTRACTION_UNSUPPORTED_TYPE", false, true},
	ErrorKindTooLarge:              {"EXTRACTION_TOO_LARGE", false, true},
	ErrorKindNotAccessible:         {"EXTRACTION_NOT_ACCESSIBLE", true, true},
	ErrorKindInvalidContent:        {"EXTRACTION_INVALID_CONTENT", true, true},
	ErrorKindContentCorrupted:      {"EXTRACTION_CONTENT_CORRUPTED", true, true},
	ErrorKindParsingError:          {"EXTRACTION_PARSING_ERROR", true, true},
	ErrorKindExtractionFailed:      {"EXTRACTION_FAILED", true, true},
	ErrorKindTimeout:               {"EXTRACTION_TIMEOUT", true, false},
	ErrorKindResourceExhausted:     {"EXTRACTION_RESOURCE_EXHAUSTED", true, true},
	ErrorKindDependencyError:       {"EXTRACTION_DEPENDENCY_ERROR", true, false},
	ErrorKindLocked:                {"EXTRACTION_LOCKED", true, false},
	ErrorKindVersionConflict:       {"EXTRACTION_VERSION_CONFLICT", true, false},
	ErrorKindConfiguration:         {"EXTRACTION_CONFIGURATION", false, false},
	ErrorKindServiceNotInitialized: {"EXTRACTION_SERVICE_NOT_INITIALIZED", false, false},
	ErrorKindPersistence:           {"EXTRACTION_PERSISTENCE", true, false},
	ErrorKindUnexpected:            {"EXTRACTION_UNEXPECTED", true, false},
}

// Code returns the stable machine-readable code for the kind
func (k ErrorKind) Code() string {
	if p, ok := kindPolicies[k]; ok {
		return p.code
	}
	return kindPolicies[ErrorKindUnexpected].code
}

// Recoverable reports whether retrying later (or with another method) may succeed
func (k ErrorKind) Recoverable() bool {
	if p, ok := kindPolicies[k]; ok {
		return p.recoverable
	}
	return true
}

// RequiresUserAttention reports whether the failure should be surfaced to the user
// rather than only logged for operators
func (k ErrorKind) RequiresUserAttention() bool {
	if p, ok := kindPolicies[k]; ok {
		return p.userAttention
	}
	return false
}

// ExtractionError is the error type returned across the extraction pipeline
type ExtractionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Code returns the stable machine-readable code
func (e *ExtractionError) Code() string {
	return e.Kind.Code()
}

// Is matches another ExtractionError of the same kind, so errors.Is(err, &ExtractionError{Kind: k}) works
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewExtractionError wraps err with a kind and message
func NewExtractionError(kind ErrorKind, err error, format string, args ...any) *ExtractionError {
	return &ExtractionError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of err, or unexpected for errors outside the taxonomy
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrorKindUnexpected
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func NewNotFoundError(entity, id string) *ExtractionError {
	return NewExtractionError(ErrorKindNotFound, nil, "%s not found: %s", entity, id)
}

func NewInProgressError(documentID string) *ExtractionError {
	return NewExtractionError(ErrorKindInProgress, nil, "extraction in progress for document %s", documentID)
}

func NewNotCancellableError(attemptID string, status ExtractionStatus) *ExtractionError {
	return NewExtractionError(ErrorKindNotCancellable, nil, "attempt %s is not cancellable in status %s", attemptID, status)
}

func NewUnsupportedTypeError(docType DocumentType) *ExtractionError {
	return NewExtractionError(ErrorKindUnsupportedType, nil, "unsupported document type: %q", docType)
}

func NewTooLargeError(size, max int64) *ExtractionError {
	return NewExtractionError(ErrorKindTooLarge, nil, "file too large: %d bytes (max %d)", size, max)
}

func NewNotAccessibleError(path string, err error) *ExtractionError {
	return NewExtractionError(ErrorKindNotAccessible, err, "file not accessible: %s", path)
}

func NewResourceExhaustedError(active, limit int) *ExtractionError {
	return NewExtractionError(ErrorKindResourceExhausted, nil, "resource limit exceeded: %d of %d concurrent extractions active", active, limit)
}

func NewPersistenceError(op string, err error) *ExtractionError {
	return NewExtractionError(ErrorKindPersistence, err, "failed to %s", op)
}
