package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/folio/internal/models"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrTerminalState is returned when a transition targets an attempt that is already completed or failed
	ErrTerminalState = errors.New("attempt already in terminal state")
	// ErrConflict is returned when a concurrent writer modified the same record
	ErrConflict = errors.New("concurrent modification")
)

// AttemptStorage persists extraction attempt records.
// All methods are safe to call concurrently for different attempt ids.
type AttemptStorage interface {
	GetAttempt(ctx context.Context, attemptID string) (*models.ExtractionAttempt, error)
	GetLatestAttemptByDocument(ctx context.Context, documentID string) (*models.ExtractionAttempt, error)
	ListAttemptsByDocument(ctx context.Context, documentID string) ([]*models.ExtractionAttempt, error)

	// SaveAttempt inserts or replaces the record keyed by attempt id
	SaveAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error

	// UpdateAttemptStatus moves an active attempt to a non-terminal status.
	// Returns ErrTerminalState if the attempt already finished.
	UpdateAttemptStatus(ctx context.Context, attemptID string, status models.ExtractionStatus) error

	// MarkAttemptCompleted and MarkAttemptFailed set the terminal status together with
	// completed_at and processing_duration. Both return ErrTerminalState for finished attempts.
	MarkAttemptCompleted(ctx context.Context, attemptID string, completedAt time.Time) (*models.ExtractionAttempt, error)
	MarkAttemptFailed(ctx context.Context, attemptID string, message string, completedAt time.Time) (*models.ExtractionAttempt, error)

	// IncrementRetryCount adds one to the attempt's retry count and returns the new value
	IncrementRetryCount(ctx context.Context, attemptID string) (int, error)

	// HasActiveAttempt reports whether a pending or processing attempt exists for the document
	HasActiveAttempt(ctx context.Context, documentID string) (bool, error)

	// GetStuckAttempts returns processing attempts started and last updated before cutoff
	GetStuckAttempts(ctx context.Context, cutoff time.Time) ([]*models.ExtractionAttempt, error)

	// DeleteCompletedBefore removes terminal attempts completed before cutoff and returns how many were removed
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ArtifactStorage persists extracted artifacts, one live artifact per document
type ArtifactStorage interface {
	GetArtifact(ctx context.Context, artifactID string) (*models.ExtractedArtifact, error)
	GetArtifactByDocument(ctx context.Context, documentID string) (*models.ExtractedArtifact, error)

	// SaveArtifact upserts keyed by document id; a newer artifact replaces the prior one
	SaveArtifact(ctx context.Context, artifact *models.ExtractedArtifact) error

	// UpdateArtifactContent replaces the content tree with recomputed stats and preview
	UpdateArtifactContent(ctx context.Context, documentID string, content *models.NormalizedContent) (*models.ExtractedArtifact, error)

	DeleteArtifactByDocument(ctx context.Context, documentID string) error
	CountArtifacts(ctx context.Context) (int, error)
}

// DocumentStorage is the document catalog consumed by the extraction pipeline
type DocumentStorage interface {
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	SaveDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, documentID string) error
	ListDocumentsByProject(ctx context.Context, projectID string) ([]*models.Document, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	AttemptStorage() AttemptStorage
	ArtifactStorage() ArtifactStorage
	DocumentStorage() DocumentStorage
	Close() error
}
