package interfaces

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// FormatParser converts raw document bytes into a content tree.
// Implementations hold no state shared with the orchestrator and may be called concurrently.
type FormatParser interface {
	// Parse converts data with the given method or fails with a format-specific ExtractionError
	Parse(ctx context.Context, method models.ExtractionMethod, data []byte) (*models.ContentNode, error)

	// Supports reports whether the method is available in this deployment
	Supports(method models.ExtractionMethod) bool
}

// ContentNormalizer sanitizes and validates parser output and derives statistics and preview
type ContentNormalizer interface {
	Normalize(tree *models.ContentNode) (*models.NormalizedContent, error)
}
