package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AttemptStorage implements the AttemptStorage interface for Badger
type AttemptStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAttemptStorage creates a new AttemptStorage instance
func NewAttemptStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AttemptStorage {
	return &AttemptStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AttemptStorage) GetAttempt(ctx context.Context, attemptID string) (*models.ExtractionAttempt, error) {
	var attempt models.ExtractionAttempt
	if err := s.db.Store().Get(attemptID, &attempt); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (s *AttemptStorage) GetLatestAttemptByDocument(ctx context.Context, documentID string) (*models.ExtractionAttempt, error) {
	attempts, err := s.ListAttemptsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("attempts for document %s: %w", documentID, interfaces.ErrNotFound)
	}
	return attempts[0], nil
}

// ListAttemptsByDocument returns the document's attempts, newest first
func (s *AttemptStorage) ListAttemptsByDocument(ctx context.Context, documentID string) ([]*models.ExtractionAttempt, error) {
	var attempts []models.ExtractionAttempt
	if err := s.db.Store().Find(&attempts, badgerhold.Where("DocumentID").Eq(documentID)); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return newestFirst(attempts), nil
}

func (s *AttemptStorage) SaveAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID is required")
	}
	if attempt.UpdatedAt.IsZero() {
		attempt.UpdatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(attempt.ID, attempt); err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (s *AttemptStorage) UpdateAttemptStatus(ctx context.Context, attemptID string, status models.ExtractionStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("use MarkAttemptCompleted or MarkAttemptFailed for terminal status %s", status)
	}
	_, err := s.transition(attemptID, func(a *models.ExtractionAttempt) error {
		if a.Status == status {
			a.UpdatedAt = time.Now()
			return nil
		}
		if !a.Status.CanTransitionTo(status) {
			return interfaces.ErrTerminalState
		}
		a.Status = status
		a.UpdatedAt = time.Now()
		return nil
	})
	return err
}

func (s *AttemptStorage) MarkAttemptCompleted(ctx context.Context, attemptID string, completedAt time.Time) (*models.ExtractionAttempt, error) {
	return s.transition(attemptID, func(a *models.ExtractionAttempt) error {
		if !a.Status.CanTransitionTo(models.ExtractionStatusCompleted) {
			return interfaces.ErrTerminalState
		}
		a.Complete(completedAt)
		return nil
	})
}

func (s *AttemptStorage) MarkAttemptFailed(ctx context.Context, attemptID string, message string, completedAt time.Time) (*models.ExtractionAttempt, error) {
	return s.transition(attemptID, func(a *models.ExtractionAttempt) error {
		if a.Status.IsTerminal() {
			return interfaces.ErrTerminalState
		}
		a.Fail(message, completedAt)
		return nil
	})
}

func (s *AttemptStorage) IncrementRetryCount(ctx context.Context, attemptID string) (int, error) {
	attempt, err := s.transition(attemptID, func(a *models.ExtractionAttempt) error {
		a.RetryCount++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempt.RetryCount, nil
}

func (s *AttemptStorage) HasActiveAttempt(ctx context.Context, documentID string) (bool, error) {
	query := badgerhold.Where("DocumentID").Eq(documentID).
		And("Status").In(models.ExtractionStatusPending, models.ExtractionStatusProcessing)
	count, err := s.db.Store().Count(&models.ExtractionAttempt{}, query)
	if err != nil {
		return false, fmt.Errorf("failed to check active attempts: %w", err)
	}
	return count > 0, nil
}

func (s *AttemptStorage) GetStuckAttempts(ctx context.Context, cutoff time.Time) ([]*models.ExtractionAttempt, error) {
	var processing []models.ExtractionAttempt
	if err := s.db.Store().Find(&processing, badgerhold.Where("Status").Eq(models.ExtractionStatusProcessing)); err != nil {
		return nil, fmt.Errorf("failed to find processing attempts: %w", err)
	}

	var stuck []*models.ExtractionAttempt
	for i := range processing {
		a := &processing[i]
		if a.StartedAt.Before(cutoff) && a.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, a)
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].StartedAt.Before(stuck[j].StartedAt)
	})
	return stuck, nil
}

func (s *AttemptStorage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var terminal []models.ExtractionAttempt
	query := badgerhold.Where("Status").In(models.ExtractionStatusCompleted, models.ExtractionStatusError)
	if err := s.db.Store().Find(&terminal, query); err != nil {
		return 0, fmt.Errorf("failed to find terminal attempts: %w", err)
	}

	deleted := 0
	for _, a := range terminal {
		if a.CompletedAt == nil || !a.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(a.ID, &models.ExtractionAttempt{}); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete attempt %s: %w", a.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// transition applies mutate to the stored attempt inside a single read-write transaction.
// Badger detects concurrent writers at commit time; those surface as ErrConflict.
func (s *AttemptStorage) transition(attemptID string, mutate func(a *models.ExtractionAttempt) error) (*models.ExtractionAttempt, error) {
	var attempt models.ExtractionAttempt
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(tx, attemptID, &attempt); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrNotFound)
			}
			return err
		}
		if err := mutate(&attempt); err != nil {
			return err
		}
		return s.db.Store().TxUpsert(tx, attemptID, &attempt)
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, interfaces.ErrConflict)
		}
		if errors.Is(err, interfaces.ErrNotFound) || errors.Is(err, interfaces.ErrTerminalState) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update attempt %s: %w", attemptID, err)
	}
	return &attempt, nil
}

func newestFirst(attempts []models.ExtractionAttempt) []*models.ExtractionAttempt {
	result := make([]*models.ExtractionAttempt, len(attempts))
	for i := range attempts {
		result[i] = &attempts[i]
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}
