package extraction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/folio/internal/models"
)

// trackedAttempt is one tracker entry.
// transition serializes terminal decisions (completion, failure, cancellation, sweep eviction)
// for the attempt; it may be held across a store call but never across a parser call.
type trackedAttempt struct {
	transition sync.Mutex

	// Guarded by ProgressTracker.mu
	entry        models.ProgressEntry
	cancel       context.CancelFunc
	finished     bool // Terminal outcome decided in memory
	flushPending bool // Terminal outcome not yet persisted
}

// ProgressTracker is the in-process registry of admitted attempts.
// An entry is added at admission and removed once its terminal status reaches the store.
type ProgressTracker struct {
	mu      sync.RWMutex
	entries map[string]*trackedAttempt
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		entries: make(map[string]*trackedAttempt),
	}
}

// newLockedAttempt creates an entry whose transition lock is held by the caller,
// so no terminal decision can run before admission has persisted the attempt
func newLockedAttempt(entry models.ProgressEntry, cancel context.CancelFunc) *trackedAttempt {
	tracked := &trackedAttempt{entry: entry, cancel: cancel}
	tracked.transition.Lock()
	return tracked
}

// Add registers an attempt without checking the concurrency cap.
// The returned attempt's transition lock is held; the caller releases it.
func (t *ProgressTracker) Add(entry models.ProgressEntry, cancel context.CancelFunc) *trackedAttempt {
	tracked := newLockedAttempt(entry, cancel)

	t.mu.Lock()
	t.entries[entry.AttemptID] = tracked
	t.mu.Unlock()

	return tracked
}

// TryAdd registers an attempt only if fewer than limit attempts are active.
// The count and the insert happen under one lock. Like Add, the returned attempt is transition-locked.
func (t *ProgressTracker) TryAdd(entry models.ProgressEntry, cancel context.CancelFunc, limit int) (*trackedAttempt, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.activeCountLocked()
	if active >= limit {
		return nil, active, false
	}

	tracked := newLockedAttempt(entry, cancel)
	t.entries[entry.AttemptID] = tracked
	return tracked, active, true
}

// Get returns a copy of the entry for attemptID
func (t *ProgressTracker) Get(attemptID string) (models.ProgressEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, ok := t.entries[attemptID]
	if !ok {
		return models.ProgressEntry{}, false
	}
	return tracked.entry, true
}

func (t *ProgressTracker) lookup(attemptID string) *trackedAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[attemptID]
}

// Update applies fn to the entry under the tracker lock. Progress updates are last-write-wins.
func (t *ProgressTracker) Update(attemptID string, fn func(entry *models.ProgressEntry)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.entries[attemptID]
	if !ok {
		return false
	}
	fn(&tracked.entry)
	tracked.entry.UpdatedAt = time.Now()
	return true
}

// Remove drops the entry for attemptID
func (t *ProgressTracker) Remove(attemptID string) {
	t.mu.Lock()
	delete(t.entries, attemptID)
	t.mu.Unlock()
}

// ActiveCount returns the number of entries that are not yet terminal
func (t *ProgressTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeCountLocked()
}

func (t *ProgressTracker) activeCountLocked() int {
	count := 0
	for _, tracked := range t.entries {
		if !tracked.finished && tracked.entry.Status.IsActive() {
			count++
		}
	}
	return count
}

// HasActiveForDocument reports whether an active entry exists for the document
func (t *ProgressTracker) HasActiveForDocument(documentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tracked := range t.entries {
		if tracked.entry.DocumentID == documentID && !tracked.finished && tracked.entry.Status.IsActive() {
			return true
		}
	}
	return false
}

// Snapshot returns copies of all entries, oldest first
func (t *ProgressTracker) Snapshot() []models.ProgressEntry {
	t.mu.RLock()
	entries := make([]models.ProgressEntry, 0, len(t.entries))
	for _, tracked := range t.entries {
		entries = append(entries, tracked.entry)
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	return entries
}

// UpdatedSince reports whether the entry for attemptID saw progress after cutoff
func (t *ProgressTracker) UpdatedSince(attemptID string, cutoff time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, ok := t.entries[attemptID]
	return ok && !tracked.finished && tracked.entry.UpdatedAt.After(cutoff)
}

// markFinished records a terminal outcome in memory. Callers hold tracked.transition.
func (t *ProgressTracker) markFinished(tracked *trackedAttempt, status models.ExtractionStatus, message string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked.finished = true
	tracked.entry.Status = status
	tracked.entry.Error = message
	if status == models.ExtractionStatusCompleted {
		tracked.entry.Progress = 100
	}
	completed := at
	tracked.entry.CompletedAt = &completed
	tracked.entry.UpdatedAt = at
}

func (t *ProgressTracker) isFinished(tracked *trackedAttempt) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return tracked.finished
}

func (t *ProgressTracker) statusOf(tracked *trackedAttempt) models.ExtractionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return tracked.entry.Status
}

func (t *ProgressTracker) setFlushPending(tracked *trackedAttempt, pending bool) {
	t.mu.Lock()
	tracked.flushPending = pending
	t.mu.Unlock()
}

// pendingFlush returns attempts whose terminal status still has to reach the store
func (t *ProgressTracker) pendingFlush() []*trackedAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var pending []*trackedAttempt
	for _, tracked := range t.entries {
		if tracked.flushPending {
			pending = append(pending, tracked)
		}
	}
	return pending
}

// cancelAll cancels every in-flight work unit context
func (t *ProgressTracker) cancelAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tracked := range t.entries {
		if tracked.cancel != nil {
			tracked.cancel()
		}
	}
}
