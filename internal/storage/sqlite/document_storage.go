package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

const documentColumns = `id, project_id, file_path, type, size, checksum, modified_at, created_at`

// DocumentStorage implements the DocumentStorage interface for SQLite
type DocumentStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new document storage instance
func NewDocumentStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	var modifiedAt sql.NullInt64
	if !doc.ModifiedAt.IsZero() {
		modifiedAt = sql.NullInt64{Int64: toMillis(doc.ModifiedAt), Valid: true}
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			file_path = excluded.file_path,
			type = excluded.type,
			size = excluded.size,
			checksum = excluded.checksum,
			modified_at = excluded.modified_at`

	_, err := s.db.DB().ExecContext(ctx, query,
		doc.ID, doc.ProjectID, doc.FilePath, string(doc.Type), doc.Size,
		nullString(doc.Checksum), modifiedAt, toMillis(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	row := s.db.DB().QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", documentID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStorage) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.DB().ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) ListDocumentsByProject(ctx context.Context, projectID string) ([]*models.Document, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE project_id = ? ORDER BY created_at ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc        models.Document
		docType    string
		checksum   sql.NullString
		modifiedAt sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&doc.ID, &doc.ProjectID, &doc.FilePath, &docType, &doc.Size,
		&checksum, &modifiedAt, &createdAt); err != nil {
		return nil, err
	}

	doc.Type = models.DocumentType(docType)
	doc.Checksum = checksum.String
	doc.CreatedAt = fromMillis(createdAt)
	if modifiedAt.Valid {
		doc.ModifiedAt = fromMillis(modifiedAt.Int64)
	}
	return &doc, nil
}
