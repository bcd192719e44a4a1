package models

import "time"

// ProgressEntry is the transient, in-memory view of an active attempt.
// Progress is advisory (coarse milestones 0-100).
type ProgressEntry struct {
	AttemptID   string           `json:"attempt_id"`
	DocumentID  string           `json:"document_id"`
	ProjectID   string           `json:"project_id"`
	Status      ExtractionStatus `json:"status"`
	Method      ExtractionMethod `json:"method,omitempty"`
	Progress    int              `json:"progress"`
	Error       string           `json:"error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ProgressFromAttempt builds a status snapshot from a persisted attempt
func ProgressFromAttempt(a *ExtractionAttempt) *ProgressEntry {
	progress := 0
	switch a.Status {
	case ExtractionStatusCompleted:
		progress = 100
	case ExtractionStatusProcessing:
		progress = 10
	}
	return &ProgressEntry{
		AttemptID:   a.ID,
		DocumentID:  a.DocumentID,
		ProjectID:   a.ProjectID,
		Status:      a.Status,
		Method:      a.Method,
		Progress:    progress,
		Error:       a.ErrorMessage,
		RetryCount:  a.RetryCount,
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
