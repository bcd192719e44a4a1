package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// RetryStuckExtractions finds processing attempts that made no progress within the stuck
// timeout. Attempts superseded by a newer completed attempt are closed, attempts out of
// retries are failed, and the rest get their retry count bumped and are re-submitted.
// Returns the ids of the stuck attempts that were retried.
func (s *Service) RetryStuckExtractions(ctx context.Context) ([]string, error) {
	if !s.sweepMu.TryLock() {
		s.logger.Debug().Msg("Stuck sweep already running, skipping")
		return nil, nil
	}
	defer s.sweepMu.Unlock()

	if flushed := s.flushPending(); flushed > 0 {
		s.logger.Info().Int("flushed", flushed).Msg("Flushed pending terminal statuses")
	}

	cutoff := time.Now().Add(-s.cfg.StuckTimeoutDuration())
	stuck, err := s.attempts.GetStuckAttempts(ctx, cutoff)
	if err != nil {
		return nil, models.NewPersistenceError("load stuck attempts", err)
	}
	if len(stuck) == 0 {
		return nil, nil
	}

	s.logger.Info().Int("count", len(stuck)).Msg("Found stuck extraction attempts")

	var retried []string
	for _, attempt := range stuck {
		if err := ctx.Err(); err != nil {
			return retried, err
		}

		if s.tracker.UpdatedSince(attempt.ID, cutoff) {
			continue
		}

		logger := s.logger.WithCorrelationId(attempt.ID)

		newer, err := s.newerAttempts(ctx, attempt)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load newer attempts")
			continue
		}

		if winner := firstWithStatus(newer, models.ExtractionStatusCompleted); winner != nil {
			s.closeStuck(ctx, attempt.ID, supersededMessage(winner.ID), logger)
			continue
		}

		if attempt.RetryCount >= s.cfg.MaxRetries {
			s.closeStuck(ctx, attempt.ID, MaxRetriesExceededMessage, logger)
			continue
		}

		count, err := s.attempts.IncrementRetryCount(ctx, attempt.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to increment retry count")
			continue
		}
		s.evict(attempt.ID)
		retried = append(retried, attempt.ID)

		logger.Info().
			Str("document_id", attempt.DocumentID).
			Int("retry_count", count).
			Msg("Retrying stuck extraction attempt")

		if hasActive(newer) {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return retried, err
		}
		entry, err := s.StartExtractionWithOptions(ctx, attempt.DocumentID, interfaces.StartOptions{
			Force:      true,
			Method:     attempt.Method,
			RetryCount: count,
		})
		if err != nil {
			logger.Warn().Err(err).Str("kind", string(models.KindOf(err))).Msg("Failed to re-submit stuck attempt")
			continue
		}
		logger.Info().Str("new_attempt_id", entry.AttemptID).Msg("Stuck attempt re-submitted")
	}

	return retried, nil
}

// newerAttempts returns the document's attempts started after the given one
func (s *Service) newerAttempts(ctx context.Context, attempt *models.ExtractionAttempt) ([]*models.ExtractionAttempt, error) {
	all, err := s.attempts.ListAttemptsByDocument(ctx, attempt.DocumentID)
	if err != nil {
		return nil, err
	}

	var newer []*models.ExtractionAttempt
	for _, other := range all {
		if other.ID != attempt.ID && other.StartedAt.After(attempt.StartedAt) {
			newer = append(newer, other)
		}
	}
	return newer, nil
}

func firstWithStatus(attempts []*models.ExtractionAttempt, status models.ExtractionStatus) *models.ExtractionAttempt {
	for _, a := range attempts {
		if a.Status == status {
			return a
		}
	}
	return nil
}

func hasActive(attempts []*models.ExtractionAttempt) bool {
	for _, a := range attempts {
		if a.Status.IsActive() {
			return true
		}
	}
	return false
}

// closeStuck moves a stuck attempt to the error status, through the tracker when it is still registered
func (s *Service) closeStuck(ctx context.Context, attemptID, message string, logger arbor.ILogger) {
	if tracked := s.tracker.lookup(attemptID); tracked != nil {
		tracked.transition.Lock()
		defer tracked.transition.Unlock()
		if !s.tracker.isFinished(tracked) {
			s.finishLocked(tracked, attemptID, models.ExtractionStatusError, message, time.Now(), logger)
		}
		return
	}

	if _, err := s.attempts.MarkAttemptFailed(ctx, attemptID, message, time.Now()); err != nil {
		if !errors.Is(err, interfaces.ErrTerminalState) {
			logger.Warn().Err(err).Msg("Failed to close stuck attempt")
		}
		return
	}
	logger.Warn().Str("error", message).Msg("Stuck extraction attempt closed")
}

// evict drops a stuck attempt from the tracker. A late result from its work unit is discarded.
func (s *Service) evict(attemptID string) {
	tracked := s.tracker.lookup(attemptID)
	if tracked == nil {
		return
	}

	tracked.transition.Lock()
	defer tracked.transition.Unlock()

	s.tracker.mu.Lock()
	tracked.finished = true
	s.tracker.mu.Unlock()

	if tracked.cancel != nil {
		tracked.cancel()
	}
	s.tracker.Remove(attemptID)
}

// CleanupOldAttempts deletes terminal attempt records that completed more than olderThan ago
func (s *Service) CleanupOldAttempts(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, models.NewExtractionError(models.ErrorKindConfiguration, nil, "retention age must be positive, got %s", olderThan)
	}

	cutoff := time.Now().Add(-olderThan)
	deleted, err := s.attempts.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, models.NewPersistenceError("delete old attempts", err)
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Old extraction attempts cleaned up")
	}
	return deleted, nil
}
