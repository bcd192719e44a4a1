package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/folio/internal/app"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/models"
)

const pollInterval = 200 * time.Millisecond

// runExtract registers each file in the document catalog, extracts it and prints one line per file
func runExtract(ctx context.Context, application *app.App, paths []string, out io.Writer) error {
	if len(paths) == 0 {
		return fmt.Errorf("extract requires at least one file")
	}

	docs, err := catalogFiles(ctx, paths)
	if err != nil {
		return err
	}

	store := application.StorageManager.DocumentStorage()
	svc := application.ExtractionService

	attempts := make(map[string]string, len(docs))
	for _, doc := range docs {
		if err := store.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.FilePath, err)
		}
		entry, err := startWhenAdmitted(ctx, application, doc.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "%s\trejected\t%s\n", doc.FilePath, err)
			continue
		}
		attempts[doc.ID] = entry.AttemptID
	}

	failed := 0
	for _, doc := range docs {
		attemptID, ok := attempts[doc.ID]
		if !ok {
			failed++
			continue
		}

		entry, err := waitForTerminal(ctx, application, attemptID)
		if err != nil {
			return err
		}
		if entry.Status != models.ExtractionStatusCompleted {
			failed++
			fmt.Fprintf(out, "%s\t%s\t%s\n", doc.FilePath, entry.Status, entry.Error)
			continue
		}

		artifact, err := svc.GetArtifact(ctx, doc.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\t%d words\t%s\n", doc.FilePath, entry.Status, artifact.WordCount, artifact.Preview)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(docs))
	}
	return nil
}

// startWhenAdmitted starts an extraction, waiting for a free slot while the service is at its concurrency cap
func startWhenAdmitted(ctx context.Context, application *app.App, documentID string) (*models.ProgressEntry, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		entry, err := application.ExtractionService.StartExtraction(ctx, documentID, true)
		if !models.IsKind(err, models.ErrorKindResourceExhausted) {
			return entry, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// catalogFiles builds document records for paths, hashing files in parallel
func catalogFiles(ctx context.Context, paths []string) ([]*models.Document, error) {
	docs := make([]*models.Document, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		g.Go(func() error {
			doc, err := describeFile(ctx, path)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func describeFile(ctx context.Context, path string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	now := time.Now()
	return &models.Document{
		ID:         common.NewDocumentID(),
		ProjectID:  filepath.Base(filepath.Dir(abs)),
		FilePath:   abs,
		Type:       models.DocumentTypeFromPath(abs),
		Size:       info.Size(),
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		ModifiedAt: info.ModTime(),
		CreatedAt:  now,
	}, nil
}

// waitForTerminal polls the attempt until it completes or fails
func waitForTerminal(ctx context.Context, application *app.App, attemptID string) (*models.ProgressEntry, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		entry, err := application.ExtractionService.GetExtractionStatus(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if entry.Status.IsTerminal() {
			// The tracker reports terminal states before they are persisted; wait for the store
			if _, tracked := application.ExtractionService.Tracker().Get(attemptID); !tracked {
				return entry, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
