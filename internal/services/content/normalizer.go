package content

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// DefaultPreviewLength is used when the configured preview length is not positive
const DefaultPreviewLength = 200

// Normalizer sanitizes, validates and measures parser output
type Normalizer struct {
	previewLength int
	logger        arbor.ILogger
}

var _ interfaces.ContentNormalizer = (*Normalizer)(nil)

// NewNormalizer creates a normalizer producing previews of up to previewLength runes
func NewNormalizer(previewLength int, logger arbor.ILogger) *Normalizer {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return &Normalizer{
		previewLength: previewLength,
		logger:        logger,
	}
}

// Normalize sanitizes the tree, re-validates it and computes stats and preview
func (n *Normalizer) Normalize(tree *models.ContentNode) (*models.NormalizedContent, error) {
	if tree == nil {
		return nil, invalid("content tree is empty")
	}

	clean := Sanitize(tree)
	if err := Validate(clean); err != nil {
		return nil, err
	}

	stats := ComputeStats(clean)
	preview := GeneratePreview(clean, n.previewLength)

	if n.logger != nil {
		n.logger.Debug().
			Int("nodes", stats.NodeCount).
			Int("words", stats.WordCount).
			Int("paragraphs", stats.ParagraphCount).
			Msg("Content normalized")
	}

	return &models.NormalizedContent{
		Tree:    clean,
		Stats:   stats,
		Preview: preview,
	}, nil
}
