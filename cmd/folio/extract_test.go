package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/app"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/models"
)

func TestCatalogFiles(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "notes.md")
	pdf := filepath.Join(dir, "scan.PDF")
	require.NoError(t, os.WriteFile(md, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0644))

	docs, err := catalogFiles(context.Background(), []string{md, pdf})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, models.DocumentTypeMarkdown, docs[0].Type)
	assert.Equal(t, int64(5), docs[0].Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", docs[0].Checksum)
	assert.Equal(t, filepath.Base(dir), docs[0].ProjectID)
	assert.Equal(t, models.DocumentTypePDF, docs[1].Type)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)

	_, err = catalogFiles(context.Background(), []string{md, filepath.Join(dir, "missing.md")})
	assert.Error(t, err)
}

func TestRunExtract_WaitsForSlotsBeyondCap(t *testing.T) {
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(dir, "folio.db")
	cfg.Extraction.ArtifactsDir = filepath.Join(dir, "artifacts")
	cfg.Extraction.MaxConcurrent = 1
	cfg.Extraction.Admission = common.AdmissionStrict
	cfg.Scheduler.Enabled = false
	require.NoError(t, cfg.Validate())

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer application.Close()

	var paths []string
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, fmt.Sprintf("note-%d.md", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("Note number %d.", i)), 0644))
		paths = append(paths, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, runExtract(ctx, application, paths, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		assert.Contains(t, line, string(models.ExtractionStatusCompleted))
		assert.NotContains(t, line, "rejected")
	}
}
