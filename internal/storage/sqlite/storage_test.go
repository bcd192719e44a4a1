package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// setupTestDB creates a test database and returns cleanup function
func setupTestDB(t *testing.T) (*SQLiteDB, func()) {
	config := &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}

	db, err := NewSQLiteDB(arbor.NewLogger(), config)
	require.NoError(t, err)

	return db, func() { db.Close() }
}

func testAttempt(id, docID string, status models.ExtractionStatus, startedAt time.Time) *models.ExtractionAttempt {
	return &models.ExtractionAttempt{
		ID:         id,
		DocumentID: docID,
		ProjectID:  "proj-1",
		Status:     status,
		Method:     models.ExtractionMethodPDFText,
		StartedAt:  startedAt,
		UpdatedAt:  startedAt,
	}
}

func TestMigrations_AreIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestAttemptStorage_Lifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewAttemptStorage(db, arbor.NewLogger())
	ctx := context.Background()
	started := time.Now().Add(-3 * time.Second).Truncate(time.Millisecond)

	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-1", "doc-1", models.ExtractionStatusPending, started)))

	active, err := storage.HasActiveAttempt(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, storage.UpdateAttemptStatus(ctx, "att-1", models.ExtractionStatusProcessing))

	completed, err := storage.MarkAttemptCompleted(ctx, "att-1", started.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.ProcessingDurationMs)
	assert.Equal(t, int64(2000), *completed.ProcessingDurationMs)
	assert.True(t, completed.StartedAt.Equal(started))

	_, err = storage.MarkAttemptFailed(ctx, "att-1", "too late", time.Now())
	assert.True(t, errors.Is(err, interfaces.ErrTerminalState))

	err = storage.UpdateAttemptStatus(ctx, "att-1", models.ExtractionStatusProcessing)
	assert.True(t, errors.Is(err, interfaces.ErrTerminalState))

	err = storage.UpdateAttemptStatus(ctx, "missing", models.ExtractionStatusProcessing)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	active, err = storage.HasActiveAttempt(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestAttemptStorage_FailFromPending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewAttemptStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-1", "doc-1", models.ExtractionStatusPending, time.Now())))

	_, err := storage.MarkAttemptCompleted(ctx, "att-1", time.Now())
	assert.True(t, errors.Is(err, interfaces.ErrTerminalState))

	failed, err := storage.MarkAttemptFailed(ctx, "att-1", "cancelled by user", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, failed.Status)
	assert.Equal(t, "cancelled by user", failed.ErrorMessage)
	assert.NotNil(t, failed.CompletedAt)
	assert.NotNil(t, failed.ProcessingDurationMs)
}

func TestAttemptStorage_RetryStuckAndRetention(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewAttemptStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-stuck", "doc-1", models.ExtractionStatusProcessing, old)))
	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-fresh", "doc-2", models.ExtractionStatusProcessing, now)))

	done := testAttempt("att-done", "doc-3", models.ExtractionStatusProcessing, old)
	done.Fail("boom", old.Add(time.Second))
	require.NoError(t, storage.SaveAttempt(ctx, done))

	stuck, err := storage.GetStuckAttempts(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "att-stuck", stuck[0].ID)

	count, err := storage.IncrementRetryCount(ctx, "att-stuck")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = storage.IncrementRetryCount(ctx, "att-stuck")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = storage.IncrementRetryCount(ctx, "missing")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	deleted, err := storage.DeleteCompletedBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestAttemptStorage_LatestByDocument(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewAttemptStorage(db, arbor.NewLogger())
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-a", "doc-1", models.ExtractionStatusError, base)))
	require.NoError(t, storage.SaveAttempt(ctx, testAttempt("att-b", "doc-1", models.ExtractionStatusPending, base.Add(time.Minute))))

	latest, err := storage.GetLatestAttemptByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "att-b", latest.ID)

	all, err := storage.ListAttemptsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "att-a", all[1].ID)
}

func TestArtifactStorage_OneArtifactPerDocument(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewArtifactStorage(db, arbor.NewLogger())
	ctx := context.Background()

	save := func(id, text string) {
		require.NoError(t, storage.SaveArtifact(ctx, &models.ExtractedArtifact{
			ID:          id,
			DocumentID:  "doc-1",
			AttemptID:   "att-" + id,
			StoragePath: "/data/artifacts/doc-1.json",
			Content:     models.NewDocNode(models.NewParagraphNode(models.NewTextNode(text))),
			Method:      models.ExtractionMethodMarkdown,
			ExtractedAt: time.Now(),
			Preview:     text,
			WordCount:   1,
		}))
	}
	save("art-1", "first")
	save("art-2", "second")

	count, err := storage.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.GetArtifactByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "art-2", got.ID)
	assert.Equal(t, "second", got.Content.Content[0].Content[0].Text)

	_, err = storage.GetArtifact(ctx, "art-1")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	updated, err := storage.UpdateArtifactContent(ctx, "doc-1", &models.NormalizedContent{
		Tree:    models.NewDocNode(models.NewParagraphNode(models.NewTextNode("edited two words"))),
		Stats:   models.ContentStats{WordCount: 3, CharacterCount: 16},
		Preview: "edited two words",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.WordCount)
	assert.Equal(t, "art-2", updated.ID)

	_, err = storage.UpdateArtifactContent(ctx, "doc-missing", &models.NormalizedContent{Tree: models.NewDocNode()})
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	require.NoError(t, storage.DeleteArtifactByDocument(ctx, "doc-1"))
	_, err = storage.GetArtifactByDocument(ctx, "doc-1")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestDocumentStorage_SaveGetList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDocumentStorage(db, arbor.NewLogger())
	ctx := context.Background()

	doc := &models.Document{
		ID:        "doc-1",
		ProjectID: "p1",
		FilePath:  "/tmp/a.md",
		Type:      models.DocumentTypeMarkdown,
		Size:      42,
		Checksum:  "abc",
	}
	require.NoError(t, storage.SaveDocument(ctx, doc))
	require.NoError(t, storage.SaveDocument(ctx, &models.Document{ID: "doc-2", ProjectID: "p1", FilePath: "/tmp/b.pdf", Type: models.DocumentTypePDF}))

	got, err := storage.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, models.DocumentTypeMarkdown, got.Type)

	docs, err := storage.ListDocumentsByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, storage.DeleteDocument(ctx, "doc-1"))
	_, err = storage.GetDocument(ctx, "doc-1")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}
