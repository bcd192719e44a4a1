package extraction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/content"
	"github.com/ternarybob/folio/internal/services/parsers"
	"github.com/ternarybob/folio/internal/storage/sqlite"
)

// blockingParser holds every Parse call until release is closed and ignores cancellation
type blockingParser struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func newBlockingParser() *blockingParser {
	return &blockingParser{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (p *blockingParser) Parse(_ context.Context, _ models.ExtractionMethod, data []byte) (*models.ContentNode, error) {
	p.started <- string(data)
	<-p.release
	return &models.ContentNode{
		Type: models.NodeDoc,
		Content: []*models.ContentNode{
			{Type: models.NodeParagraph, Content: []*models.ContentNode{{Type: models.NodeText, Text: "late result"}}},
		},
	}, nil
}

func (p *blockingParser) Supports(models.ExtractionMethod) bool { return true }

func (p *blockingParser) unblock() {
	p.once.Do(func() { close(p.release) })
}

// holdingParser blocks inputs containing hold until release is closed and delegates all parsing to inner
type holdingParser struct {
	inner   interfaces.FormatParser
	hold    string
	started chan struct{}
	release chan struct{}
}

func (p *holdingParser) Parse(ctx context.Context, method models.ExtractionMethod, data []byte) (*models.ContentNode, error) {
	if strings.Contains(string(data), p.hold) {
		p.started <- struct{}{}
		<-p.release
	}
	return p.inner.Parse(ctx, method, data)
}

func (p *holdingParser) Supports(method models.ExtractionMethod) bool { return p.inner.Supports(method) }

// failingArtifacts rejects SaveArtifact while fail is set
type failingArtifacts struct {
	interfaces.ArtifactStorage
	fail atomic.Bool
}

func (a *failingArtifacts) SaveArtifact(ctx context.Context, artifact *models.ExtractedArtifact) error {
	if a.fail.Load() {
		return errors.New("disk full")
	}
	return a.ArtifactStorage.SaveArtifact(ctx, artifact)
}

// gatedAttempts holds SaveAttempt until release is closed
type gatedAttempts struct {
	interfaces.AttemptStorage
	saving  chan struct{}
	release chan struct{}
}

func (g *gatedAttempts) SaveAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error {
	g.saving <- struct{}{}
	<-g.release
	return g.AttemptStorage.SaveAttempt(ctx, attempt)
}

// wrappedStorage swaps individual stores of a storage manager
type wrappedStorage struct {
	interfaces.StorageManager
	attempts  interfaces.AttemptStorage
	artifacts interfaces.ArtifactStorage
}

func (w *wrappedStorage) AttemptStorage() interfaces.AttemptStorage {
	if w.attempts != nil {
		return w.attempts
	}
	return w.StorageManager.AttemptStorage()
}

func (w *wrappedStorage) ArtifactStorage() interfaces.ArtifactStorage {
	if w.artifacts != nil {
		return w.artifacts
	}
	return w.StorageManager.ArtifactStorage()
}

type testEnv struct {
	svc     *Service
	storage interfaces.StorageManager
	dir     string
	cfg     common.ExtractionConfig
}

func testConfig(dir string) common.ExtractionConfig {
	return common.ExtractionConfig{
		MaxFileSize:   10 * 1024 * 1024,
		MaxConcurrent: 4,
		StuckTimeout:  "30m",
		MaxRetries:    2,
		PreviewLength: 200,
		Admission:     common.AdmissionBestEffort,
		AllowedTypes:  []string{"pdf", "docx", "markdown"},
		ArtifactsDir:  filepath.Join(dir, "artifacts"),
	}
}

func newTestEnv(t *testing.T, parser interfaces.FormatParser, mutate func(cfg *common.ExtractionConfig)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          filepath.Join(dir, "folio.db"),
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	cfg := testConfig(dir)
	if mutate != nil {
		mutate(&cfg)
	}
	if parser == nil {
		parser = parsers.NewRegistry(common.OCRConfig{}, logger)
	}

	svc := NewService(cfg, storage, parser, content.NewNormalizer(cfg.PreviewLength, logger), 0, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &testEnv{svc: svc, storage: storage, dir: dir, cfg: cfg}
}

// rebuild replaces the env's service with one over storage; the env keeps reading the real stores
func (e *testEnv) rebuild(t *testing.T, storage interfaces.StorageManager, parser interfaces.FormatParser) {
	t.Helper()
	logger := arbor.NewLogger()
	if parser == nil {
		parser = parsers.NewRegistry(common.OCRConfig{}, logger)
	}

	svc := NewService(e.cfg, storage, parser, content.NewNormalizer(e.cfg.PreviewLength, logger), 0, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	e.svc = svc
}

// addMarkdown writes a markdown file and registers it in the document catalog
func (e *testEnv) addMarkdown(t *testing.T, name, body string) *models.Document {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	doc := &models.Document{
		ID:         common.NewDocumentID(),
		ProjectID:  "proj-1",
		FilePath:   path,
		Type:       models.DocumentTypeMarkdown,
		Size:       int64(len(body)),
		ModifiedAt: time.Now(),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, e.storage.DocumentStorage().SaveDocument(context.Background(), doc))
	return doc
}

func (e *testEnv) waitForStatus(t *testing.T, attemptID string, want models.ExtractionStatus) *models.ExtractionAttempt {
	t.Helper()
	var attempt *models.ExtractionAttempt
	require.Eventually(t, func() bool {
		a, err := e.storage.AttemptStorage().GetAttempt(context.Background(), attemptID)
		if err != nil {
			return false
		}
		attempt = a
		return a.Status == want
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, tracked := e.svc.tracker.Get(attemptID)
		return !tracked
	}, 5*time.Second, 10*time.Millisecond)
	return attempt
}

func TestStartExtraction_MarkdownScenario(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	body := "Hello world.\n\nSecond paragraph.\n"
	body += strings.Repeat("\n", 50*1024-len(body))
	doc := env.addMarkdown(t, "notes.md", body)

	entry, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusPending, entry.Status)
	assert.Equal(t, models.ExtractionMethodMarkdown, entry.Method)

	attempt := env.waitForStatus(t, entry.AttemptID, models.ExtractionStatusCompleted)
	assert.Equal(t, models.ExtractionMethodMarkdown, attempt.Method)
	require.NotNil(t, attempt.CompletedAt)
	require.NotNil(t, attempt.ProcessingDurationMs)
	assert.GreaterOrEqual(t, *attempt.ProcessingDurationMs, int64(0))
	assert.Empty(t, attempt.ErrorMessage)

	artifact, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, artifact.WordCount)
	assert.Equal(t, entry.AttemptID, artifact.AttemptID)
	assert.Equal(t, "Hello world. Second paragraph.", artifact.Preview)
	assert.Equal(t, 2, content.ComputeStats(artifact.Content).ParagraphCount)

	data, err := os.ReadFile(artifact.StoragePath)
	require.NoError(t, err)
	tree, err := content.DecodeTree(data)
	require.NoError(t, err)
	assert.NoError(t, content.Validate(tree))

	status, err := env.svc.GetExtractionStatus(ctx, entry.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
}

func TestStartExtraction_AdmissionErrors(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *common.ExtractionConfig) {
		cfg.AllowedTypes = []string{"markdown", "pdf"}
	})
	ctx := context.Background()
	docs := env.storage.DocumentStorage()

	_, err := env.svc.StartExtraction(ctx, "doc-missing", false)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))

	big := env.addMarkdown(t, "big.md", "tiny")
	big.Size = 11 * 1024 * 1024
	require.NoError(t, docs.SaveDocument(ctx, big))
	_, err = env.svc.StartExtraction(ctx, big.ID, false)
	assert.True(t, models.IsKind(err, models.ErrorKindTooLarge))

	gone := env.addMarkdown(t, "gone.md", "text")
	require.NoError(t, os.Remove(gone.FilePath))
	_, err = env.svc.StartExtraction(ctx, gone.ID, false)
	assert.True(t, models.IsKind(err, models.ErrorKindNotAccessible))

	docx := env.addMarkdown(t, "report.docx", "not really docx")
	docx.Type = models.DocumentTypeDOCX
	require.NoError(t, docs.SaveDocument(ctx, docx))
	_, err = env.svc.StartExtraction(ctx, docx.ID, false)
	assert.True(t, models.IsKind(err, models.ErrorKindUnsupportedType))

	md := env.addMarkdown(t, "plain.md", "text")
	_, err = env.svc.StartExtractionWithOptions(ctx, md.ID, interfaces.StartOptions{Method: models.ExtractionMethodPDFText})
	assert.True(t, models.IsKind(err, models.ErrorKindUnsupportedType))

	for _, id := range []string{big.ID, gone.ID, docx.ID, md.ID} {
		attempts, err := env.storage.AttemptStorage().ListAttemptsByDocument(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, attempts, "admission failure must not create an attempt for %s", id)
	}
}

func TestStartExtraction_OCRDisabled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	doc := env.addMarkdown(t, "scan.pdf", "%PDF-1.4")
	doc.Type = models.DocumentTypePDF
	require.NoError(t, env.storage.DocumentStorage().SaveDocument(ctx, doc))

	_, err := env.svc.StartExtractionWithOptions(ctx, doc.ID, interfaces.StartOptions{Method: models.ExtractionMethodPDFOCR})
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestStartExtraction_DoubleStartIsInProgress(t *testing.T) {
	parser := newBlockingParser()
	env := newTestEnv(t, parser, nil)
	defer parser.unblock()
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "Hello")

	first, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)

	_, err = env.svc.StartExtraction(ctx, doc.ID, false)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrorKindInProgress))
	assert.Equal(t, "EXTRACTION_IN_PROGRESS", models.KindOf(err).Code())

	parser.unblock()
	env.waitForStatus(t, first.AttemptID, models.ExtractionStatusCompleted)

	attempts, err := env.storage.AttemptStorage().ListAttemptsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestStartExtraction_ForceRestartOverwritesArtifact(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "First version.")

	first, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)
	env.waitForStatus(t, first.AttemptID, models.ExtractionStatusCompleted)

	firstArtifact, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(doc.FilePath, []byte("Second version here."), 0644))
	second, err := env.svc.StartExtraction(ctx, doc.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	env.waitForStatus(t, second.AttemptID, models.ExtractionStatusCompleted)

	attempts, err := env.storage.AttemptStorage().ListAttemptsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	artifact, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, second.AttemptID, artifact.AttemptID)
	assert.NotEqual(t, firstArtifact.ID, artifact.ID)
	assert.Equal(t, 3, artifact.WordCount)

	count, err := env.storage.ArtifactStorage().CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	latest, err := env.svc.GetLatestAttempt(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, second.AttemptID, latest.ID)
}

func TestStartExtraction_ConcurrencyCap(t *testing.T) {
	for _, mode := range []string{common.AdmissionBestEffort, common.AdmissionStrict} {
		t.Run(mode, func(t *testing.T) {
			parser := newBlockingParser()
			env := newTestEnv(t, parser, func(cfg *common.ExtractionConfig) {
				cfg.MaxConcurrent = 2
				cfg.Admission = mode
			})
			defer parser.unblock()
			ctx := context.Background()

			var admitted []string
			for i := 0; i < 2; i++ {
				doc := env.addMarkdown(t, "doc"+string(rune('a'+i))+".md", "text")
				entry, err := env.svc.StartExtraction(ctx, doc.ID, false)
				require.NoError(t, err)
				admitted = append(admitted, entry.AttemptID)
			}

			extra := env.addMarkdown(t, "extra.md", "text")
			_, err := env.svc.StartExtraction(ctx, extra.ID, false)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.ErrorKindResourceExhausted))
			assert.Len(t, env.svc.ListActive(), 2)

			parser.unblock()
			for _, id := range admitted {
				env.waitForStatus(t, id, models.ExtractionStatusCompleted)
			}

			_, err = env.svc.StartExtraction(ctx, extra.ID, false)
			assert.NoError(t, err)
		})
	}
}

func TestStrictAdmission_ConcurrentStartsNeverExceedCap(t *testing.T) {
	parser := newBlockingParser()
	env := newTestEnv(t, parser, func(cfg *common.ExtractionConfig) {
		cfg.MaxConcurrent = 3
		cfg.Admission = common.AdmissionStrict
	})
	defer parser.unblock()
	ctx := context.Background()

	var docs []*models.Document
	for i := 0; i < 10; i++ {
		docs = append(docs, env.addMarkdown(t, "c"+string(rune('a'+i))+".md", "text"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for _, doc := range docs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := env.svc.StartExtraction(ctx, id, false); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(doc.ID)
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 3, env.svc.tracker.ActiveCount())
}

func TestBestEffortAdmission_ConcurrentStartsStayNearCap(t *testing.T) {
	const capacity, overshoot = 3, 2

	parser := newBlockingParser()
	env := newTestEnv(t, parser, func(cfg *common.ExtractionConfig) {
		cfg.MaxConcurrent = capacity
	})
	defer parser.unblock()
	ctx := context.Background()
	require.Equal(t, common.AdmissionBestEffort, env.cfg.Admission)

	var docs []*models.Document
	for i := 0; i < 12; i++ {
		docs = append(docs, env.addMarkdown(t, "b"+string(rune('a'+i))+".md", "text"))
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	var admitted, exhausted atomic.Int32
	for _, doc := range docs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := env.svc.StartExtraction(ctx, id, false)
			switch {
			case err == nil:
				admitted.Add(1)
			case models.IsKind(err, models.ErrorKindResourceExhausted):
				exhausted.Add(1)
			}
		}(doc.ID)
	}
	close(start)
	wg.Wait()

	got := int(admitted.Load())
	assert.GreaterOrEqual(t, got, capacity)
	assert.LessOrEqual(t, got, capacity+overshoot)
	assert.Equal(t, len(docs), got+int(exhausted.Load()))
	assert.Equal(t, got, env.svc.tracker.ActiveCount())
	assert.LessOrEqual(t, env.svc.tracker.ActiveCount(), capacity+overshoot)
}

func TestComplete_FailedSaveKeepsPublishedArtifactFile(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	artifacts := &failingArtifacts{ArtifactStorage: env.storage.ArtifactStorage()}
	env.rebuild(t, &wrappedStorage{StorageManager: env.storage, artifacts: artifacts}, nil)
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "First version.")
	first, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)
	env.waitForStatus(t, first.AttemptID, models.ExtractionStatusCompleted)

	published, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	before, err := os.ReadFile(published.StoragePath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(doc.FilePath, []byte("Totally different second text."), 0644))
	artifacts.fail.Store(true)

	second, err := env.svc.StartExtraction(ctx, doc.ID, true)
	require.NoError(t, err)
	failed := env.waitForStatus(t, second.AttemptID, models.ExtractionStatusError)
	assert.Contains(t, failed.ErrorMessage, "disk full")

	after, err := os.ReadFile(published.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	artifact, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AttemptID, artifact.AttemptID)
	assert.Equal(t, "First version.", artifact.Preview)

	files, err := os.ReadDir(env.cfg.ArtifactsDir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "staged files are removed")
}

func TestComplete_OlderAttemptDoesNotOverwriteNewerArtifact(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	parser := &holdingParser{
		inner:   parsers.NewRegistry(common.OCRConfig{}, arbor.NewLogger()),
		hold:    "old attempt",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	env.rebuild(t, env.storage, parser)
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "old attempt")
	older, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)

	select {
	case <-parser.started:
	case <-time.After(5 * time.Second):
		t.Fatal("parser never started")
	}

	// started_at is stored at millisecond resolution
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(doc.FilePath, []byte("new attempt"), 0644))
	newer, err := env.svc.StartExtraction(ctx, doc.ID, true)
	require.NoError(t, err)
	env.waitForStatus(t, newer.AttemptID, models.ExtractionStatusCompleted)

	close(parser.release)
	superseded := env.waitForStatus(t, older.AttemptID, models.ExtractionStatusError)
	assert.Equal(t, supersededMessage(newer.AttemptID), superseded.ErrorMessage)

	artifact, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.AttemptID, artifact.AttemptID)
	assert.Equal(t, "new attempt", artifact.Preview)

	data, err := os.ReadFile(artifact.StoragePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new attempt")
	assert.NotContains(t, string(data), "old attempt")
}

func TestCancelExtraction_WaitsForAdmissionToPersist(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	parser := newBlockingParser()
	defer parser.unblock()
	attempts := &gatedAttempts{
		AttemptStorage: env.storage.AttemptStorage(),
		saving:         make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	env.rebuild(t, &wrappedStorage{StorageManager: env.storage, attempts: attempts}, parser)
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "Hello")
	startErr := make(chan error, 1)
	go func() {
		_, err := env.svc.StartExtraction(ctx, doc.ID, false)
		startErr <- err
	}()

	select {
	case <-attempts.saving:
	case <-time.After(5 * time.Second):
		t.Fatal("attempt was never saved")
	}

	active := env.svc.ListActive()
	require.Len(t, active, 1)
	attemptID := active[0].AttemptID

	cancelErr := make(chan error, 1)
	go func() {
		cancelErr <- env.svc.CancelExtraction(ctx, attemptID)
	}()
	close(attempts.release)

	require.NoError(t, <-startErr)
	require.NoError(t, <-cancelErr)

	attempt := env.waitForStatus(t, attemptID, models.ExtractionStatusError)
	assert.Equal(t, CancelledByUserMessage, attempt.ErrorMessage)
}

func TestCancelExtraction_Processing(t *testing.T) {
	parser := newBlockingParser()
	env := newTestEnv(t, parser, nil)
	defer parser.unblock()
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "Hello")
	entry, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)

	select {
	case <-parser.started:
	case <-time.After(5 * time.Second):
		t.Fatal("parser never started")
	}

	require.NoError(t, env.svc.CancelExtraction(ctx, entry.AttemptID))

	attempt, err := env.storage.AttemptStorage().GetAttempt(ctx, entry.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, attempt.Status)
	assert.Equal(t, CancelledByUserMessage, attempt.ErrorMessage)
	assert.NotNil(t, attempt.CompletedAt)
	assert.NotNil(t, attempt.ProcessingDurationMs)

	// The parser finishes after cancellation; its result is discarded
	parser.unblock()
	ctxWait, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Shutdown(ctxWait))

	attempt, err = env.storage.AttemptStorage().GetAttempt(ctx, entry.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, attempt.Status)
	assert.Equal(t, CancelledByUserMessage, attempt.ErrorMessage)

	_, err = env.svc.GetArtifact(ctx, doc.ID)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))

	err = env.svc.CancelExtraction(ctx, entry.AttemptID)
	assert.True(t, models.IsKind(err, models.ErrorKindNotCancellable))
}

func TestCancelExtraction_UntrackedPendingAndTerminal(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	store := env.storage.AttemptStorage()
	started := time.Now().Add(-time.Minute)

	pending := &models.ExtractionAttempt{
		ID: "att-pending", DocumentID: "doc-1", Status: models.ExtractionStatusPending,
		Method: models.ExtractionMethodMarkdown, StartedAt: started, UpdatedAt: started,
	}
	require.NoError(t, store.SaveAttempt(ctx, pending))

	require.NoError(t, env.svc.CancelExtraction(ctx, "att-pending"))
	got, err := store.GetAttempt(ctx, "att-pending")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, got.Status)
	assert.Equal(t, CancelledByUserMessage, got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ProcessingDurationMs)
	assert.GreaterOrEqual(t, *got.ProcessingDurationMs, int64(59_000))

	err = env.svc.CancelExtraction(ctx, "att-pending")
	assert.True(t, models.IsKind(err, models.ErrorKindNotCancellable))

	err = env.svc.CancelExtraction(ctx, "att-missing")
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))

	_, err = env.svc.GetExtractionStatus(ctx, "att-missing")
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
}

func TestRunAttempt_ParserFailureRecordsError(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	doc := env.addMarkdown(t, "bad.md", "bad \xff\xfe bytes")
	entry, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)

	attempt := env.waitForStatus(t, entry.AttemptID, models.ExtractionStatusError)
	assert.NotEmpty(t, attempt.ErrorMessage)
	assert.NotNil(t, attempt.CompletedAt)
	assert.NotNil(t, attempt.ProcessingDurationMs)

	_, err = env.svc.GetArtifact(ctx, doc.ID)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
}

func TestRetryStuckExtractions_IncrementsThenFails(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *common.ExtractionConfig) {
		cfg.StuckTimeout = "1ms"
		cfg.MaxRetries = 2
	})
	ctx := context.Background()
	store := env.storage.AttemptStorage()
	started := time.Now().Add(-time.Hour)

	// The document no longer exists, so every re-submission is rejected
	stuck := &models.ExtractionAttempt{
		ID: "att-stuck", DocumentID: "doc-deleted", Status: models.ExtractionStatusProcessing,
		Method: models.ExtractionMethodMarkdown, StartedAt: started, UpdatedAt: started,
	}
	require.NoError(t, store.SaveAttempt(ctx, stuck))

	for want := 1; want <= 2; want++ {
		retried, err := env.svc.RetryStuckExtractions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"att-stuck"}, retried)

		got, err := store.GetAttempt(ctx, "att-stuck")
		require.NoError(t, err)
		assert.Equal(t, want, got.RetryCount)
		assert.Equal(t, models.ExtractionStatusProcessing, got.Status)
		time.Sleep(5 * time.Millisecond)
	}

	retried, err := env.svc.RetryStuckExtractions(ctx)
	require.NoError(t, err)
	assert.Empty(t, retried)

	got, err := store.GetAttempt(ctx, "att-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, got.Status)
	assert.Equal(t, MaxRetriesExceededMessage, got.ErrorMessage)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestRetryStuckExtractions_ResubmitsAndSupersedes(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *common.ExtractionConfig) {
		cfg.StuckTimeout = "1ms"
	})
	ctx := context.Background()
	store := env.storage.AttemptStorage()

	doc := env.addMarkdown(t, "a.md", "Recovered text.")
	started := time.Now().Add(-time.Hour)
	stuck := &models.ExtractionAttempt{
		ID: "att-stuck", DocumentID: doc.ID, Status: models.ExtractionStatusProcessing,
		Method: models.ExtractionMethodMarkdown, StartedAt: started, UpdatedAt: started,
	}
	require.NoError(t, store.SaveAttempt(ctx, stuck))

	retried, err := env.svc.RetryStuckExtractions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"att-stuck"}, retried)

	var resubmitted *models.ExtractionAttempt
	require.Eventually(t, func() bool {
		latest, err := store.GetLatestAttemptByDocument(ctx, doc.ID)
		if err != nil || latest.ID == "att-stuck" {
			return false
		}
		resubmitted = latest
		return latest.Status == models.ExtractionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, resubmitted.RetryCount)

	time.Sleep(5 * time.Millisecond)
	_, err = env.svc.RetryStuckExtractions(ctx)
	require.NoError(t, err)

	got, err := store.GetAttempt(ctx, "att-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionStatusError, got.Status)
	assert.Equal(t, "superseded by attempt "+resubmitted.ID, got.ErrorMessage)
}

func TestCleanupOldAttempts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	store := env.storage.AttemptStorage()

	old := time.Now().Add(-48 * time.Hour)
	finished := &models.ExtractionAttempt{
		ID: "att-old", DocumentID: "doc-1", Status: models.ExtractionStatusProcessing,
		Method: models.ExtractionMethodMarkdown, StartedAt: old, UpdatedAt: old,
	}
	require.NoError(t, store.SaveAttempt(ctx, finished))
	_, err := store.MarkAttemptCompleted(ctx, "att-old", old.Add(time.Minute))
	require.NoError(t, err)

	deleted, err := env.svc.CleanupOldAttempts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = env.svc.CleanupOldAttempts(ctx, 0)
	assert.True(t, models.IsKind(err, models.ErrorKindConfiguration))
}

func TestUpdateAndDeleteArtifact(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	doc := env.addMarkdown(t, "a.md", "Original text.")
	entry, err := env.svc.StartExtraction(ctx, doc.ID, false)
	require.NoError(t, err)
	env.waitForStatus(t, entry.AttemptID, models.ExtractionStatusCompleted)

	edited := &models.ContentNode{
		Type: models.NodeDoc,
		Content: []*models.ContentNode{
			{Type: models.NodeHeading, Attrs: map[string]any{"level": 2}, Content: []*models.ContentNode{{Type: models.NodeText, Text: "Edited"}}},
			{Type: models.NodeParagraph, Content: []*models.ContentNode{{Type: models.NodeText, Text: "one two three", Marks: []models.ContentMark{{Type: models.MarkLink, Attrs: map[string]any{"href": "javascript:alert(1)"}}}}}},
		},
	}
	updated, err := env.svc.UpdateArtifactContent(ctx, doc.ID, edited)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.WordCount)
	assert.Equal(t, "Edited one two three", updated.Preview)

	link := updated.Content.Content[1].Content[0].Marks[0]
	assert.NotContains(t, link.Attrs, "href")

	_, err = env.svc.UpdateArtifactContent(ctx, doc.ID, &models.ContentNode{Type: models.NodeText, Text: "loose"})
	assert.True(t, models.IsKind(err, models.ErrorKindInvalidContent))
	_, err = env.svc.UpdateArtifactContent(ctx, doc.ID, nil)
	assert.True(t, models.IsKind(err, models.ErrorKindInvalidContent))

	kept, err := env.svc.GetArtifact(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, kept.WordCount)

	_, err = env.svc.UpdateArtifactContent(ctx, "doc-missing", edited)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))

	require.NoError(t, env.svc.DeleteDocumentArtifacts(ctx, doc.ID))
	_, err = env.svc.GetArtifact(ctx, doc.ID)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
	_, err = os.Stat(updated.StoragePath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, env.svc.DeleteDocumentArtifacts(ctx, doc.ID))
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	doc := env.addMarkdown(t, "a.md", "text")

	require.NoError(t, env.svc.Shutdown(ctx))
	_, err := env.svc.StartExtraction(ctx, doc.ID, false)
	assert.True(t, models.IsKind(err, models.ErrorKindServiceNotInitialized))
}
