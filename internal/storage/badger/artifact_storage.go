package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger.
// Records are keyed by document id so a newer artifact replaces the prior one.
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, artifactID string) (*models.ExtractedArtifact, error) {
	var artifacts []models.ExtractedArtifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("ID").Eq(artifactID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("artifact %s: %w", artifactID, interfaces.ErrNotFound)
	}
	return &artifacts[0], nil
}

func (s *ArtifactStorage) GetArtifactByDocument(ctx context.Context, documentID string) (*models.ExtractedArtifact, error) {
	var artifact models.ExtractedArtifact
	if err := s.db.Store().Get(documentID, &artifact); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("artifact for document %s: %w", documentID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

func (s *ArtifactStorage) SaveArtifact(ctx context.Context, artifact *models.ExtractedArtifact) error {
	if artifact.DocumentID == "" {
		return fmt.Errorf("artifact document ID is required")
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(artifact.DocumentID, artifact); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) UpdateArtifactContent(ctx context.Context, documentID string, content *models.NormalizedContent) (*models.ExtractedArtifact, error) {
	var artifact models.ExtractedArtifact
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(tx, documentID, &artifact); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("artifact for document %s: %w", documentID, interfaces.ErrNotFound)
			}
			return err
		}
		artifact.Content = content.Tree
		artifact.Preview = content.Preview
		artifact.WordCount = content.Stats.WordCount
		artifact.CharacterCount = content.Stats.CharacterCount
		artifact.UpdatedAt = time.Now()
		return s.db.Store().TxUpsert(tx, documentID, &artifact)
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return nil, fmt.Errorf("artifact for document %s: %w", documentID, interfaces.ErrConflict)
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update artifact content: %w", err)
	}
	return &artifact, nil
}

func (s *ArtifactStorage) DeleteArtifactByDocument(ctx context.Context, documentID string) error {
	if err := s.db.Store().Delete(documentID, &models.ExtractedArtifact{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) CountArtifacts(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ExtractedArtifact{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return int(count), nil
}
