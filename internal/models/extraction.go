package models

import (
	"fmt"
	"time"
)

// ExtractionStatus is the lifecycle state of an extraction attempt.
//
// Pending -> Processing -> {Completed, Error}; Pending -> Error on cancellation.
// Completed and Error are terminal.
type ExtractionStatus string

const (
	ExtractionStatusPending    ExtractionStatus = "pending"
	ExtractionStatusProcessing ExtractionStatus = "processing"
	ExtractionStatusCompleted  ExtractionStatus = "completed"
	ExtractionStatusError      ExtractionStatus = "error"
)

// IsTerminal reports whether no further transition may leave this status
func (s ExtractionStatus) IsTerminal() bool {
	return s == ExtractionStatusCompleted || s == ExtractionStatusError
}

// IsActive reports whether the attempt still occupies the document
func (s ExtractionStatus) IsActive() bool {
	return s == ExtractionStatusPending || s == ExtractionStatusProcessing
}

// CanTransitionTo reports whether moving from s to next is a legal state machine edge
func (s ExtractionStatus) CanTransitionTo(next ExtractionStatus) bool {
	switch s {
	case ExtractionStatusPending:
		return next == ExtractionStatusProcessing || next == ExtractionStatusError
	case ExtractionStatusProcessing:
		return next == ExtractionStatusCompleted || next == ExtractionStatusError
	default:
		return false
	}
}

// ExtractionMethod is the format-specific conversion strategy chosen for an attempt
type ExtractionMethod string

const (
	ExtractionMethodPDFText       ExtractionMethod = "PDF text extraction"
	ExtractionMethodPDFOCR        ExtractionMethod = "PDF OCR extraction"
	ExtractionMethodDOCXStructure ExtractionMethod = "DOCX structure extraction"
	ExtractionMethodMarkdown      ExtractionMethod = "Markdown conversion"
)

// DefaultExtractionMethod returns the method used when the caller does not choose one
func DefaultExtractionMethod(t DocumentType) (ExtractionMethod, error) {
	switch t {
	case DocumentTypePDF:
		return ExtractionMethodPDFText, nil
	case DocumentTypeDOCX:
		return ExtractionMethodDOCXStructure, nil
	case DocumentTypeMarkdown:
		return ExtractionMethodMarkdown, nil
	default:
		return "", fmt.Errorf("no extraction method for document type %q", t)
	}
}

// Supports reports whether the method can convert documents of type t
func (m ExtractionMethod) Supports(t DocumentType) bool {
	switch m {
	case ExtractionMethodPDFText, ExtractionMethodPDFOCR:
		return t == DocumentTypePDF
	case ExtractionMethodDOCXStructure:
		return t == DocumentTypeDOCX
	case ExtractionMethodMarkdown:
		return t == DocumentTypeMarkdown
	default:
		return false
	}
}

// ExtractionAttempt is one execution of the conversion pipeline for one document.
// CompletedAt and ProcessingDurationMs are set together; ErrorMessage is set only in the error status.
type ExtractionAttempt struct {
	ID                   string           `json:"attempt_id"`
	DocumentID           string           `json:"document_id"`
	ProjectID            string           `json:"project_id"`
	Status               ExtractionStatus `json:"status"`
	Method               ExtractionMethod `json:"method,omitempty"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	ProcessingDurationMs *int64           `json:"processing_duration_ms,omitempty"`
	RetryCount           int              `json:"retry_count"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Complete moves the attempt to completed and stamps completion fields together
func (a *ExtractionAttempt) Complete(at time.Time) {
	a.Status = ExtractionStatusCompleted
	a.ErrorMessage = ""
	a.stampCompletion(at)
}

// Fail moves the attempt to the error status with a message and completion fields
func (a *ExtractionAttempt) Fail(message string, at time.Time) {
	a.Status = ExtractionStatusError
	a.ErrorMessage = message
	a.stampCompletion(at)
}

func (a *ExtractionAttempt) stampCompletion(at time.Time) {
	completed := at
	duration := at.Sub(a.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	a.CompletedAt = &completed
	a.ProcessingDurationMs = &duration
	a.UpdatedAt = at
}

// ProcessingDuration returns the recorded duration, or zero while the attempt is active
func (a *ExtractionAttempt) ProcessingDuration() time.Duration {
	if a.ProcessingDurationMs == nil {
		return 0
	}
	return time.Duration(*a.ProcessingDurationMs) * time.Millisecond
}
