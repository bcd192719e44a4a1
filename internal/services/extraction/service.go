// -----------------------------------------------------------------------
// Extraction orchestrator - admission, background work units, cancellation
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/content"
)

// Progress milestones reported by a work unit
const (
	progressProcessing = 10
	progressRead       = 30
	progressParsed     = 60
	progressNormalized = 80
)

// CancelledByUserMessage is recorded on attempts stopped through CancelExtraction
const CancelledByUserMessage = "cancelled by user"

// MaxRetriesExceededMessage is recorded on stuck attempts that used up their retries
const MaxRetriesExceededMessage = "exceeded maximum retry attempts"

const persistTimeout = 10 * time.Second

// Service implements ExtractionService
type Service struct {
	cfg        common.ExtractionConfig
	attempts   interfaces.AttemptStorage
	artifacts  interfaces.ArtifactStorage
	documents  interfaces.DocumentStorage
	parser     interfaces.FormatParser
	normalizer interfaces.ContentNormalizer
	tracker    *ProgressTracker
	limiter    *rate.Limiter
	logger     arbor.ILogger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     atomic.Bool
	sweepMu    sync.Mutex
	// commitMu orders artifact commits so an older attempt cannot overwrite a newer one
	commitMu sync.Mutex
}

var _ interfaces.ExtractionService = (*Service)(nil)

// NewService creates the extraction orchestrator.
// resubmitRate paces sweep re-submissions per second; zero or less disables pacing.
func NewService(
	cfg common.ExtractionConfig,
	storage interfaces.StorageManager,
	parser interfaces.FormatParser,
	normalizer interfaces.ContentNormalizer,
	resubmitRate float64,
	logger arbor.ILogger,
) *Service {
	limit := rate.Inf
	if resubmitRate > 0 {
		limit = rate.Limit(resubmitRate)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Service{
		cfg:        cfg,
		attempts:   storage.AttemptStorage(),
		artifacts:  storage.ArtifactStorage(),
		documents:  storage.DocumentStorage(),
		parser:     parser,
		normalizer: normalizer,
		tracker:    NewProgressTracker(),
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Tracker exposes the in-process progress registry
func (s *Service) Tracker() *ProgressTracker {
	return s.tracker
}

// StartExtraction admits a new attempt for the document with its default method
func (s *Service) StartExtraction(ctx context.Context, documentID string, force bool) (*models.ProgressEntry, error) {
	return s.StartExtractionWithOptions(ctx, documentID, interfaces.StartOptions{Force: force})
}

// StartExtractionWithOptions runs the admission checks, persists a pending attempt
// and schedules the work unit. It returns as soon as the attempt is recorded.
func (s *Service) StartExtractionWithOptions(ctx context.Context, documentID string, opts interfaces.StartOptions) (*models.ProgressEntry, error) {
	if s.closed.Load() {
		return nil, models.NewExtractionError(models.ErrorKindServiceNotInitialized, nil, "extraction service is shut down")
	}

	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewNotFoundError("document", documentID)
		}
		return nil, models.NewPersistenceError("load document", err)
	}

	if !doc.Type.IsSupported() || !s.cfg.IsTypeAllowed(doc.Type) {
		return nil, models.NewUnsupportedTypeError(doc.Type)
	}

	if err := s.checkFile(doc); err != nil {
		return nil, err
	}

	method, err := s.resolveMethod(doc.Type, opts.Method)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		if s.tracker.HasActiveForDocument(doc.ID) {
			return nil, models.NewInProgressError(doc.ID)
		}
		active, err := s.attempts.HasActiveAttempt(ctx, doc.ID)
		if err != nil {
			return nil, models.NewPersistenceError("check active attempts", err)
		}
		if active {
			return nil, models.NewInProgressError(doc.ID)
		}
	}

	now := time.Now()
	attempt := &models.ExtractionAttempt{
		ID:         common.NewAttemptID(),
		DocumentID: doc.ID,
		ProjectID:  doc.ProjectID,
		Status:     models.ExtractionStatusPending,
		Method:     method,
		StartedAt:  now,
		RetryCount: opts.RetryCount,
		UpdatedAt:  now,
	}
	entry := *models.ProgressFromAttempt(attempt)

	workCtx, cancel := context.WithCancel(s.baseCtx)
	tracked, err := s.admit(entry, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	// Cancellation and the sweep wait on the transition lock until the record exists
	err = s.attempts.SaveAttempt(ctx, attempt)
	if err != nil {
		s.tracker.markFinished(tracked, models.ExtractionStatusError, "failed to save attempt", time.Now())
		s.tracker.Remove(attempt.ID)
	}
	tracked.transition.Unlock()
	if err != nil {
		cancel()
		return nil, models.NewPersistenceError("save attempt", err)
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("document_id", doc.ID).
		Str("method", string(method)).
		Int("retry_count", attempt.RetryCount).
		Msg("Extraction attempt admitted")

	common.SafeGo(s.logger, &s.wg, "extraction-"+attempt.ID, func() {
		s.runAttempt(workCtx, tracked, attempt.ID, doc, method)
	})

	return &entry, nil
}

// admit registers the attempt in the tracker under the configured concurrency cap
func (s *Service) admit(entry models.ProgressEntry, cancel context.CancelFunc) (*trackedAttempt, error) {
	limit := s.cfg.MaxConcurrent

	if s.cfg.Admission == common.AdmissionStrict {
		tracked, active, ok := s.tracker.TryAdd(entry, cancel, limit)
		if !ok {
			return nil, models.NewResourceExhaustedError(active, limit)
		}
		return tracked, nil
	}

	if active := s.tracker.ActiveCount(); active >= limit {
		return nil, models.NewResourceExhaustedError(active, limit)
	}
	return s.tracker.Add(entry, cancel), nil
}

// checkFile verifies the declared and on-disk size and that the file can be opened
func (s *Service) checkFile(doc *models.Document) error {
	if doc.Size > s.cfg.MaxFileSize {
		return models.NewTooLargeError(doc.Size, s.cfg.MaxFileSize)
	}

	info, err := os.Stat(doc.FilePath)
	if err != nil {
		return models.NewNotAccessibleError(doc.FilePath, err)
	}
	if info.IsDir() {
		return models.NewNotAccessibleError(doc.FilePath, errors.New("path is a directory"))
	}
	if info.Size() > s.cfg.MaxFileSize {
		return models.NewTooLargeError(info.Size(), s.cfg.MaxFileSize)
	}

	f, err := os.Open(doc.FilePath)
	if err != nil {
		return models.NewNotAccessibleError(doc.FilePath, err)
	}
	return f.Close()
}

func (s *Service) resolveMethod(docType models.DocumentType, requested models.ExtractionMethod) (models.ExtractionMethod, error) {
	method := requested
	if method == "" {
		m, err := models.DefaultExtractionMethod(docType)
		if err != nil {
			return "", models.NewUnsupportedTypeError(docType)
		}
		method = m
	}

	if !method.Supports(docType) {
		return "", models.NewExtractionError(models.ErrorKindUnsupportedType, nil,
			"extraction method %q does not support %s documents", method, docType)
	}
	if !s.parser.Supports(method) {
		return "", models.NewExtractionError(models.ErrorKindConfiguration, nil,
			"extraction method %q is not enabled", method)
	}
	return method, nil
}

// runAttempt is the background work unit for one admitted attempt
func (s *Service) runAttempt(ctx context.Context, tracked *trackedAttempt, attemptID string, doc *models.Document, method models.ExtractionMethod) {
	logger := s.logger.WithCorrelationId(attemptID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Extraction work unit panicked")
			s.finish(tracked, attemptID, models.ExtractionStatusError, fmt.Sprintf("unexpected error: %v", r), logger)
		}
	}()

	if !s.beginProcessing(ctx, tracked, attemptID, logger) {
		return
	}

	data, err := s.readDocument(doc)
	if err != nil {
		s.finish(tracked, attemptID, models.ExtractionStatusError, err.Error(), logger)
		return
	}
	s.setProgress(attemptID, progressRead)

	tree, err := s.parser.Parse(ctx, method, data)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("kind", string(models.KindOf(err))).
			Str("method", string(method)).
			Msg("Document conversion failed")
		s.finish(tracked, attemptID, models.ExtractionStatusError, err.Error(), logger)
		return
	}
	s.setProgress(attemptID, progressParsed)

	normalized, err := s.normalizer.Normalize(tree)
	if err != nil {
		s.finish(tracked, attemptID, models.ExtractionStatusError, err.Error(), logger)
		return
	}
	s.setProgress(attemptID, progressNormalized)

	s.complete(tracked, attemptID, doc, method, normalized, logger)
}

// beginProcessing moves the attempt from pending to processing.
// Returns false when the attempt was finished elsewhere in the meantime.
func (s *Service) beginProcessing(ctx context.Context, tracked *trackedAttempt, attemptID string, logger arbor.ILogger) bool {
	tracked.transition.Lock()
	defer tracked.transition.Unlock()

	if s.tracker.isFinished(tracked) {
		return false
	}

	err := s.attempts.UpdateAttemptStatus(ctx, attemptID, models.ExtractionStatusProcessing)
	switch {
	case errors.Is(err, interfaces.ErrTerminalState):
		logger.Info().Msg("Attempt already finished before processing started")
		s.tracker.Remove(attemptID)
		return false
	case err != nil:
		s.finishLocked(tracked, attemptID, models.ExtractionStatusError,
			fmt.Sprintf("failed to record processing status: %v", err), time.Now(), logger)
		return false
	}

	s.tracker.Update(attemptID, func(e *models.ProgressEntry) {
		e.Status = models.ExtractionStatusProcessing
		e.Progress = progressProcessing
	})
	return true
}

func (s *Service) readDocument(doc *models.Document) ([]byte, error) {
	f, err := os.Open(doc.FilePath)
	if err != nil {
		return nil, models.NewNotAccessibleError(doc.FilePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, models.NewNotAccessibleError(doc.FilePath, err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, models.NewTooLargeError(int64(len(data)), s.cfg.MaxFileSize)
	}
	return data, nil
}

func (s *Service) setProgress(attemptID string, progress int) {
	s.tracker.Update(attemptID, func(e *models.ProgressEntry) {
		if progress > e.Progress {
			e.Progress = progress
		}
	})
}

// complete persists the artifact and marks the attempt completed, unless the attempt was
// finished while the parser was running or a newer attempt already owns the document's artifact.
// The content file is staged under an attempt-specific name and only replaces the live file
// once the artifact record is saved.
func (s *Service) complete(tracked *trackedAttempt, attemptID string, doc *models.Document, method models.ExtractionMethod, normalized *models.NormalizedContent, logger arbor.ILogger) {
	tracked.transition.Lock()
	defer tracked.transition.Unlock()

	if s.tracker.isFinished(tracked) {
		logger.Info().Msg("Discarding result of finished attempt")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	current, err := s.attempts.GetAttempt(ctx, attemptID)
	if err == nil && current.Status.IsTerminal() {
		logger.Info().Str("status", string(current.Status)).Msg("Discarding result of attempt finished in storage")
		s.tracker.Remove(attemptID)
		return
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if current != nil {
		if newer := s.newerArtifactOwner(ctx, doc.ID, current); newer != "" {
			logger.Info().Str("newer_attempt_id", newer).Msg("Discarding result superseded by a newer attempt")
			s.finishLocked(tracked, attemptID, models.ExtractionStatusError, supersededMessage(newer), time.Now(), logger)
			return
		}
	}

	now := time.Now()
	artifact := &models.ExtractedArtifact{
		ID:             common.NewArtifactID(),
		DocumentID:     doc.ID,
		AttemptID:      attemptID,
		Content:        normalized.Tree,
		Method:         method,
		ExtractedAt:    now,
		UpdatedAt:      now,
		Preview:        normalized.Preview,
		WordCount:      normalized.Stats.WordCount,
		CharacterCount: normalized.Stats.CharacterCount,
	}

	staged, err := s.stageArtifactFile(doc.ID, attemptID, normalized.Tree)
	if err != nil {
		s.finishLocked(tracked, attemptID, models.ExtractionStatusError,
			fmt.Sprintf("failed to write artifact: %v", err), now, logger)
		return
	}
	artifact.StoragePath = staged.path

	if err := s.artifacts.SaveArtifact(ctx, artifact); err != nil {
		staged.discard()
		s.finishLocked(tracked, attemptID, models.ExtractionStatusError,
			fmt.Sprintf("failed to save artifact: %v", err), now, logger)
		return
	}

	if err := staged.publish(); err != nil {
		logger.Error().Err(err).Str("path", staged.path).Msg("Failed to publish artifact file, the stored record still holds the content")
	}

	s.finishLocked(tracked, attemptID, models.ExtractionStatusCompleted, "", time.Now(), logger)

	logger.Info().
		Str("document_id", doc.ID).
		Str("artifact_id", artifact.ID).
		Int("words", normalized.Stats.WordCount).
		Int("paragraphs", normalized.Stats.ParagraphCount).
		Msg("Extraction completed")
}

// newerArtifactOwner returns the id of the attempt behind the document's live artifact
// when that attempt started after the given one
func (s *Service) newerArtifactOwner(ctx context.Context, documentID string, attempt *models.ExtractionAttempt) string {
	existing, err := s.artifacts.GetArtifactByDocument(ctx, documentID)
	if err != nil || existing.AttemptID == attempt.ID {
		return ""
	}
	owner, err := s.attempts.GetAttempt(ctx, existing.AttemptID)
	if err != nil {
		return ""
	}
	if owner.StartedAt.After(attempt.StartedAt) {
		return owner.ID
	}
	return ""
}

func supersededMessage(attemptID string) string {
	return fmt.Sprintf("superseded by attempt %s", attemptID)
}

// finish records a terminal outcome unless one was already decided
func (s *Service) finish(tracked *trackedAttempt, attemptID string, status models.ExtractionStatus, message string, logger arbor.ILogger) {
	tracked.transition.Lock()
	defer tracked.transition.Unlock()

	if s.tracker.isFinished(tracked) {
		return
	}
	s.finishLocked(tracked, attemptID, status, message, time.Now(), logger)
}

// finishLocked decides the terminal outcome in memory, then persists it.
// Callers hold tracked.transition.
func (s *Service) finishLocked(tracked *trackedAttempt, attemptID string, status models.ExtractionStatus, message string, at time.Time, logger arbor.ILogger) error {
	s.tracker.markFinished(tracked, status, message, at)
	if tracked.cancel != nil {
		tracked.cancel()
	}
	if status == models.ExtractionStatusError {
		logger.Warn().Str("error", message).Msg("Extraction attempt failed")
	}
	return s.persistTerminal(tracked, attemptID, status, message, at, logger)
}

// persistTerminal writes the terminal status to the store. On failure the entry stays
// in the tracker with flushPending set so a later sweep or shutdown retries the write.
func (s *Service) persistTerminal(tracked *trackedAttempt, attemptID string, status models.ExtractionStatus, message string, at time.Time, logger arbor.ILogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if status == models.ExtractionStatusCompleted {
		_, err = s.attempts.MarkAttemptCompleted(ctx, attemptID, at)
	} else {
		_, err = s.attempts.MarkAttemptFailed(ctx, attemptID, message, at)
	}

	if err != nil && !errors.Is(err, interfaces.ErrTerminalState) {
		s.tracker.setFlushPending(tracked, true)
		logger.Error().Err(err).Str("status", string(status)).Msg("Failed to persist terminal status, will retry")
		return models.NewPersistenceError("persist terminal status", err)
	}

	s.tracker.Remove(attemptID)
	return nil
}

// flushPending retries terminal writes that failed earlier
func (s *Service) flushPending() int {
	flushed := 0
	for _, tracked := range s.tracker.pendingFlush() {
		entry, ok := s.tracker.Get(s.attemptIDOf(tracked))
		if !ok {
			continue
		}

		tracked.transition.Lock()
		at := entry.UpdatedAt
		if entry.CompletedAt != nil {
			at = *entry.CompletedAt
		}
		logger := s.logger.WithCorrelationId(entry.AttemptID)
		s.tracker.setFlushPending(tracked, false)
		if err := s.persistTerminal(tracked, entry.AttemptID, entry.Status, entry.Error, at, logger); err == nil {
			flushed++
		}
		tracked.transition.Unlock()
	}
	return flushed
}

func (s *Service) attemptIDOf(tracked *trackedAttempt) string {
	s.tracker.mu.RLock()
	defer s.tracker.mu.RUnlock()
	return tracked.entry.AttemptID
}

// stagedFile is a content file written next to its final path, not yet visible there
type stagedFile struct {
	path string
	tmp  string
}

func (f *stagedFile) publish() error {
	if f.tmp == "" {
		return nil
	}
	if err := os.Rename(f.tmp, f.path); err != nil {
		os.Remove(f.tmp)
		return err
	}
	return nil
}

func (f *stagedFile) discard() {
	if f.tmp != "" {
		os.Remove(f.tmp)
	}
}

// stageArtifactFile writes the content tree as JSON to a temporary file owned by writer.
// The returned path is where publish moves it under the artifacts directory.
func (s *Service) stageArtifactFile(documentID, writer string, tree *models.ContentNode) (*stagedFile, error) {
	if s.cfg.ArtifactsDir == "" {
		return &stagedFile{}, nil
	}

	data, err := content.EncodeTree(tree)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.ArtifactsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	path := filepath.Join(s.cfg.ArtifactsDir, documentID+".json")
	tmp := path + "." + writer + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return &stagedFile{path: path, tmp: tmp}, nil
}

// writeArtifactFile replaces the document's content file
func (s *Service) writeArtifactFile(documentID string, tree *models.ContentNode) (string, error) {
	staged, err := s.stageArtifactFile(documentID, common.NewArtifactID(), tree)
	if err != nil {
		return "", err
	}
	return staged.path, staged.publish()
}

// GetExtractionStatus returns the tracker entry for an attempt, falling back to the store
func (s *Service) GetExtractionStatus(ctx context.Context, attemptID string) (*models.ProgressEntry, error) {
	if entry, ok := s.tracker.Get(attemptID); ok {
		return &entry, nil
	}

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewNotFoundError("attempt", attemptID)
		}
		return nil, models.NewPersistenceError("load attempt", err)
	}
	return models.ProgressFromAttempt(attempt), nil
}

// CancelExtraction stops a pending or processing attempt and records it as an error
func (s *Service) CancelExtraction(ctx context.Context, attemptID string) error {
	if tracked := s.tracker.lookup(attemptID); tracked != nil {
		tracked.transition.Lock()
		defer tracked.transition.Unlock()

		if s.tracker.isFinished(tracked) {
			return models.NewNotCancellableError(attemptID, s.tracker.statusOf(tracked))
		}

		logger := s.logger.WithCorrelationId(attemptID)
		logger.Info().Msg("Cancelling extraction attempt")
		return s.finishLocked(tracked, attemptID, models.ExtractionStatusError, CancelledByUserMessage, time.Now(), logger)
	}

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return models.NewNotFoundError("attempt", attemptID)
		}
		return models.NewPersistenceError("load attempt", err)
	}
	if attempt.Status.IsTerminal() {
		return models.NewNotCancellableError(attemptID, attempt.Status)
	}

	if _, err := s.attempts.MarkAttemptFailed(ctx, attemptID, CancelledByUserMessage, time.Now()); err != nil {
		if errors.Is(err, interfaces.ErrTerminalState) {
			status := models.ExtractionStatusCompleted
			if current, gerr := s.attempts.GetAttempt(ctx, attemptID); gerr == nil {
				status = current.Status
			}
			return models.NewNotCancellableError(attemptID, status)
		}
		return models.NewPersistenceError("cancel attempt", err)
	}

	s.logger.Info().Str("attempt_id", attemptID).Msg("Cancelled untracked extraction attempt")
	return nil
}

// ListActive returns the tracker entries, oldest first
func (s *Service) ListActive() []models.ProgressEntry {
	return s.tracker.Snapshot()
}

// GetLatestAttempt returns the most recently started attempt for a document
func (s *Service) GetLatestAttempt(ctx context.Context, documentID string) (*models.ExtractionAttempt, error) {
	attempt, err := s.attempts.GetLatestAttemptByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewNotFoundError("attempt for document", documentID)
		}
		return nil, models.NewPersistenceError("load latest attempt", err)
	}
	return attempt, nil
}

// GetArtifact returns the live artifact for a document
func (s *Service) GetArtifact(ctx context.Context, documentID string) (*models.ExtractedArtifact, error) {
	artifact, err := s.artifacts.GetArtifactByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewNotFoundError("artifact for document", documentID)
		}
		return nil, models.NewPersistenceError("load artifact", err)
	}
	return artifact, nil
}

// UpdateArtifactContent replaces an artifact's tree with an edited one.
// The tree is sanitized and validated, and stats and preview are recomputed.
func (s *Service) UpdateArtifactContent(ctx context.Context, documentID string, tree *models.ContentNode) (*models.ExtractedArtifact, error) {
	if _, err := s.GetArtifact(ctx, documentID); err != nil {
		return nil, err
	}

	if !content.AcceptsRoot(tree) {
		rootType := "<nil>"
		if tree != nil {
			rootType = tree.Type
		}
		return nil, models.NewExtractionError(models.ErrorKindInvalidContent, nil,
			"content root %q must be a doc or a block node", rootType)
	}

	normalized, err := s.normalizer.Normalize(tree)
	if err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	updated, err := s.artifacts.UpdateArtifactContent(ctx, documentID, normalized)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewNotFoundError("artifact for document", documentID)
		}
		if errors.Is(err, interfaces.ErrConflict) {
			return nil, models.NewExtractionError(models.ErrorKindVersionConflict, err, "artifact for document %s changed concurrently", documentID)
		}
		return nil, models.NewPersistenceError("update artifact", err)
	}

	if updated.StoragePath != "" {
		if _, err := s.writeArtifactFile(documentID, normalized.Tree); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Msg("Failed to rewrite artifact file")
		}
	}

	s.logger.Info().
		Str("document_id", documentID).
		Int("words", updated.WordCount).
		Msg("Artifact content updated")

	return updated, nil
}

// DeleteDocumentArtifacts removes the artifact record and its content file
func (s *Service) DeleteDocumentArtifacts(ctx context.Context, documentID string) error {
	artifact, err := s.artifacts.GetArtifactByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil
		}
		return models.NewPersistenceError("load artifact", err)
	}

	if err := s.artifacts.DeleteArtifactByDocument(ctx, documentID); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return models.NewPersistenceError("delete artifact", err)
	}

	if artifact.StoragePath != "" {
		if err := os.Remove(artifact.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", artifact.StoragePath).Msg("Failed to remove artifact file")
		}
	}

	s.logger.Info().Str("document_id", documentID).Msg("Document artifacts deleted")
	return nil
}

// Shutdown stops admission, waits for in-flight work units until ctx expires,
// then flushes terminal writes that are still pending
func (s *Service) Shutdown(ctx context.Context) error {
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		s.tracker.cancelAll()
		waitErr = ctx.Err()
	}
	s.baseCancel()

	if flushed := s.flushPending(); flushed > 0 {
		s.logger.Info().Int("flushed", flushed).Msg("Flushed pending terminal statuses")
	}

	s.logger.Info().Int("active", s.tracker.ActiveCount()).Msg("Extraction service stopped")
	return waitErr
}
