package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/folio/internal/models"
)

// StartOptions tune a single StartExtraction call
type StartOptions struct {
	Force bool
	// Method overrides the type's default method; it must support the document type
	Method models.ExtractionMethod
	// RetryCount seeds the new attempt's retry count (used by the stuck sweep)
	RetryCount int
}

// ExtractionService is the extraction orchestrator
type ExtractionService interface {
	StartExtraction(ctx context.Context, documentID string, force bool) (*models.ProgressEntry, error)
	StartExtractionWithOptions(ctx context.Context, documentID string, opts StartOptions) (*models.ProgressEntry, error)
	GetExtractionStatus(ctx context.Context, attemptID string) (*models.ProgressEntry, error)
	CancelExtraction(ctx context.Context, attemptID string) error
	RetryStuckExtractions(ctx context.Context) ([]string, error)
	CleanupOldAttempts(ctx context.Context, olderThan time.Duration) (int, error)

	ListActive() []models.ProgressEntry
	GetLatestAttempt(ctx context.Context, documentID string) (*models.ExtractionAttempt, error)
	GetArtifact(ctx context.Context, documentID string) (*models.ExtractedArtifact, error)
	UpdateArtifactContent(ctx context.Context, documentID string, tree *models.ContentNode) (*models.ExtractedArtifact, error)
	DeleteDocumentArtifacts(ctx context.Context, documentID string) error

	Shutdown(ctx context.Context) error
}
