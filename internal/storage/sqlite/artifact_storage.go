package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

const artifactColumns = `artifact_id, document_id, attempt_id, storage_path, content, method,
	extracted_at, updated_at, preview, word_count, character_count`

// ArtifactStorage implements the ArtifactStorage interface for SQLite.
// document_id is the primary key so a newer artifact replaces the prior one.
type ArtifactStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new artifact storage instance
func NewArtifactStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, artifactID string) (*models.ExtractedArtifact, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+artifactColumns+" FROM extracted_artifacts WHERE artifact_id = ?", artifactID)
	artifact, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", artifactID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return artifact, nil
}

func (s *ArtifactStorage) GetArtifactByDocument(ctx context.Context, documentID string) (*models.ExtractedArtifact, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+artifactColumns+" FROM extracted_artifacts WHERE document_id = ?", documentID)
	artifact, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact for document %s: %w", documentID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return artifact, nil
}

func (s *ArtifactStorage) SaveArtifact(ctx context.Context, artifact *models.ExtractedArtifact) error {
	if artifact.DocumentID == "" {
		return fmt.Errorf("artifact document ID is required")
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = time.Now()
	}

	content, err := json.Marshal(artifact.Content)
	if err != nil {
		return fmt.Errorf("failed to serialize content: %w", err)
	}

	query := `
		INSERT INTO extracted_artifacts (` + artifactColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			artifact_id = excluded.artifact_id,
			attempt_id = excluded.attempt_id,
			storage_path = excluded.storage_path,
			content = excluded.content,
			method = excluded.method,
			extracted_at = excluded.extracted_at,
			updated_at = excluded.updated_at,
			preview = excluded.preview,
			word_count = excluded.word_count,
			character_count = excluded.character_count`

	_, err = s.db.DB().ExecContext(ctx, query,
		artifact.ID,
		artifact.DocumentID,
		nullString(artifact.AttemptID),
		nullString(artifact.StoragePath),
		string(content),
		string(artifact.Method),
		toMillis(artifact.ExtractedAt),
		toMillis(artifact.UpdatedAt),
		artifact.Preview,
		artifact.WordCount,
		artifact.CharacterCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) UpdateArtifactContent(ctx context.Context, documentID string, content *models.NormalizedContent) (*models.ExtractedArtifact, error) {
	tree, err := json.Marshal(content.Tree)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content: %w", err)
	}

	result, err := s.db.DB().ExecContext(ctx, `
		UPDATE extracted_artifacts SET
			content = ?, preview = ?, word_count = ?, character_count = ?, updated_at = ?
		WHERE document_id = ?`,
		string(tree), content.Preview, content.Stats.WordCount, content.Stats.CharacterCount,
		toMillis(time.Now()), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to update artifact content: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("artifact for document %s: %w", documentID, interfaces.ErrNotFound)
	}
	return s.GetArtifactByDocument(ctx, documentID)
}

func (s *ArtifactStorage) DeleteArtifactByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.DB().ExecContext(ctx, "DELETE FROM extracted_artifacts WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) CountArtifacts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM extracted_artifacts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

func scanArtifact(row rowScanner) (*models.ExtractedArtifact, error) {
	var (
		a                      models.ExtractedArtifact
		attemptID, storagePath sql.NullString
		content, method        string
		extractedAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.DocumentID, &attemptID, &storagePath, &content, &method,
		&extractedAt, &updatedAt, &a.Preview, &a.WordCount, &a.CharacterCount)
	if err != nil {
		return nil, err
	}

	var tree models.ContentNode
	if err := json.Unmarshal([]byte(content), &tree); err != nil {
		return nil, fmt.Errorf("failed to decode content for document %s: %w", a.DocumentID, err)
	}

	a.Content = &tree
	a.AttemptID = attemptID.String
	a.StoragePath = storagePath.String
	a.Method = models.ExtractionMethod(method)
	a.ExtractedAt = fromMillis(extractedAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}
