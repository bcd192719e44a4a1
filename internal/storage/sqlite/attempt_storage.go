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

const attemptColumns = `attempt_id, document_id, project_id, status, method, started_at,
	completed_at, error_message, processing_duration_ms, retry_count, updated_at`

// AttemptStorage implements the AttemptStorage interface for SQLite.
// Transitions are single guarded UPDATE statements so concurrent writers cannot regress a terminal status.
type AttemptStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewAttemptStorage creates a new attempt storage instance
func NewAttemptStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.AttemptStorage {
	return &AttemptStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AttemptStorage) GetAttempt(ctx context.Context, attemptID string) (*models.ExtractionAttempt, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM extraction_attempts WHERE attempt_id = ?", attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStorage) GetLatestAttemptByDocument(ctx context.Context, documentID string) (*models.ExtractionAttempt, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM extraction_attempts WHERE document_id = ? ORDER BY started_at DESC LIMIT 1",
		documentID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempts for document %s: %w", documentID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStorage) ListAttemptsByDocument(ctx context.Context, documentID string) ([]*models.ExtractionAttempt, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		"SELECT "+attemptColumns+" FROM extraction_attempts WHERE document_id = ? ORDER BY started_at DESC",
		documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return scanAttempts(rows)
}

func (s *AttemptStorage) SaveAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID is required")
	}
	if attempt.UpdatedAt.IsZero() {
		attempt.UpdatedAt = time.Now()
	}

	var duration sql.NullInt64
	if attempt.ProcessingDurationMs != nil {
		duration = sql.NullInt64{Int64: *attempt.ProcessingDurationMs, Valid: true}
	}

	query := `
		INSERT INTO extraction_attempts (` + attemptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			document_id = excluded.document_id,
			project_id = excluded.project_id,
			status = excluded.status,
			method = excluded.method,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error_message = excluded.error_message,
			processing_duration_ms = excluded.processing_duration_ms,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at`

	_, err := s.db.DB().ExecContext(ctx, query,
		attempt.ID,
		attempt.DocumentID,
		attempt.ProjectID,
		string(attempt.Status),
		nullString(string(attempt.Method)),
		toMillis(attempt.StartedAt),
		nullMillis(attempt.CompletedAt),
		nullString(attempt.ErrorMessage),
		duration,
		attempt.RetryCount,
		toMillis(attempt.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (s *AttemptStorage) UpdateAttemptStatus(ctx context.Context, attemptID string, status models.ExtractionStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("use MarkAttemptCompleted or MarkAttemptFailed for terminal status %s", status)
	}
	allowed := []models.ExtractionStatus{status}
	for _, from := range []models.ExtractionStatus{models.ExtractionStatusPending, models.ExtractionStatusProcessing} {
		if from.CanTransitionTo(status) {
			allowed = append(allowed, from)
		}
	}

	placeholders, args := statusArgs(allowed)
	query := "UPDATE extraction_attempts SET status = ?, updated_at = ? WHERE attempt_id = ? AND status IN (" + placeholders + ")"
	result, err := s.db.DB().ExecContext(ctx, query,
		append([]any{string(status), toMillis(time.Now()), attemptID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update attempt status: %w", err)
	}
	return s.checkTransition(ctx, result, attemptID)
}

func (s *AttemptStorage) MarkAttemptCompleted(ctx context.Context, attemptID string, completedAt time.Time) (*models.ExtractionAttempt, error) {
	query := `
		UPDATE extraction_attempts SET
			status = ?,
			completed_at = ?,
			error_message = NULL,
			processing_duration_ms = MAX(0, ? - started_at),
			updated_at = ?
		WHERE attempt_id = ? AND status = ?`

	at := toMillis(completedAt)
	result, err := s.db.DB().ExecContext(ctx, query,
		string(models.ExtractionStatusCompleted), at, at, at,
		attemptID, string(models.ExtractionStatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to mark attempt completed: %w", err)
	}
	if err := s.checkTransition(ctx, result, attemptID); err != nil {
		return nil, err
	}
	return s.GetAttempt(ctx, attemptID)
}

func (s *AttemptStorage) MarkAttemptFailed(ctx context.Context, attemptID string, message string, completedAt time.Time) (*models.ExtractionAttempt, error) {
	query := `
		UPDATE extraction_attempts SET
			status = ?,
			completed_at = ?,
			error_message = ?,
			processing_duration_ms = MAX(0, ? - started_at),
			updated_at = ?
		WHERE attempt_id = ? AND status IN (?, ?)`

	at := toMillis(completedAt)
	result, err := s.db.DB().ExecContext(ctx, query,
		string(models.ExtractionStatusError), at, message, at, at,
		attemptID, string(models.ExtractionStatusPending), string(models.ExtractionStatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if err := s.checkTransition(ctx, result, attemptID); err != nil {
		return nil, err
	}
	return s.GetAttempt(ctx, attemptID)
}

func (s *AttemptStorage) IncrementRetryCount(ctx context.Context, attemptID string) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx,
		"UPDATE extraction_attempts SET retry_count = retry_count + 1, updated_at = ? WHERE attempt_id = ? RETURNING retry_count",
		toMillis(time.Now()), attemptID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return count, nil
}

func (s *AttemptStorage) HasActiveAttempt(ctx context.Context, documentID string) (bool, error) {
	var exists int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM extraction_attempts WHERE document_id = ? AND status IN (?, ?))",
		documentID, string(models.ExtractionStatusPending), string(models.ExtractionStatusProcessing)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active attempts: %w", err)
	}
	return exists == 1, nil
}

func (s *AttemptStorage) GetStuckAttempts(ctx context.Context, cutoff time.Time) ([]*models.ExtractionAttempt, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		"SELECT "+attemptColumns+` FROM extraction_attempts
		WHERE status = ? AND started_at < ? AND updated_at < ?
		ORDER BY started_at ASC`,
		string(models.ExtractionStatusProcessing), toMillis(cutoff), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck attempts: %w", err)
	}
	return scanAttempts(rows)
}

func (s *AttemptStorage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM extraction_attempts WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?",
		string(models.ExtractionStatusCompleted), string(models.ExtractionStatusError), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// checkTransition distinguishes a missing attempt from one whose status guard rejected the update
func (s *AttemptStorage) checkTransition(ctx context.Context, result sql.Result, attemptID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetAttempt(ctx, attemptID); err != nil {
		return err
	}
	return fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrTerminalState)
}

func statusArgs(statuses []models.ExtractionStatus) (string, []any) {
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}
	return placeholders, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*models.ExtractionAttempt, error) {
	var (
		a                       models.ExtractionAttempt
		status                  string
		method, errorMessage    sql.NullString
		startedAt, updatedAt    int64
		completedAt, durationMs sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.DocumentID, &a.ProjectID, &status, &method, &startedAt,
		&completedAt, &errorMessage, &durationMs, &a.RetryCount, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = models.ExtractionStatus(status)
	a.Method = models.ExtractionMethod(method.String)
	a.StartedAt = fromMillis(startedAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		a.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		a.ProcessingDurationMs = &d
	}
	return &a, nil
}

func scanAttempts(rows *sql.Rows) ([]*models.ExtractionAttempt, error) {
	defer rows.Close()

	var attempts []*models.ExtractionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
