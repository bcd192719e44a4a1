// Package parsers converts raw document bytes into content trees, one parser per extraction method.
package parsers

import (
	"context"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// Registry dispatches a parse request to the parser for the attempt's method.
// It holds configuration only; every Parse call is independent and safe to run concurrently.
type Registry struct {
	ocr     common.OCRConfig
	runner  Runner
	tempDir string
	logger  arbor.ILogger
}

var _ interfaces.FormatParser = (*Registry)(nil)

// NewRegistry creates a parser registry. OCR commands run through the os/exec runner.
func NewRegistry(ocr common.OCRConfig, logger arbor.ILogger) *Registry {
	return &Registry{
		ocr:     ocr,
		runner:  NewExecRunner(logger),
		tempDir: os.TempDir(),
		logger:  logger,
	}
}

// WithRunner replaces the command runner used for OCR
func (r *Registry) WithRunner(runner Runner) *Registry {
	r.runner = runner
	return r
}

// WithTempDir sets the scratch directory for parsers that need files on disk
func (r *Registry) WithTempDir(dir string) *Registry {
	r.tempDir = dir
	return r
}

// Supports reports whether a parser exists for the method and is enabled
func (r *Registry) Supports(method models.ExtractionMethod) bool {
	switch method {
	case models.ExtractionMethodMarkdown,
		models.ExtractionMethodPDFText,
		models.ExtractionMethodDOCXStructure:
		return true
	case models.ExtractionMethodPDFOCR:
		return r.ocr.Enabled
	default:
		return false
	}
}

// Parse converts data with the parser selected by method
func (r *Registry) Parse(ctx context.Context, method models.ExtractionMethod, data []byte) (*models.ContentNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindTimeout, err, "parse aborted")
	}
	if err := sniff(method, data); err != nil {
		return nil, err
	}

	switch method {
	case models.ExtractionMethodMarkdown:
		return parseMarkdown(ctx, data)
	case models.ExtractionMethodPDFText:
		return r.parsePDFText(ctx, data)
	case models.ExtractionMethodPDFOCR:
		return r.parsePDFOCR(ctx, data)
	case models.ExtractionMethodDOCXStructure:
		return parseDOCX(ctx, data)
	default:
		return nil, models.NewExtractionError(models.ErrorKindConfiguration, nil, "no parser for extraction method %q", method)
	}
}

// sniff checks the bytes against the format the method expects.
// A mismatch means the file content does not match its declared type.
func sniff(method models.ExtractionMethod, data []byte) error {
	var expected []string
	switch method {
	case models.ExtractionMethodPDFText, models.ExtractionMethodPDFOCR:
		expected = []string{"application/pdf"}
	case models.ExtractionMethodDOCXStructure:
		expected = []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"}
	case models.ExtractionMethodMarkdown:
		if len(data) == 0 {
			return nil
		}
		expected = []string{"text/plain"}
	default:
		return nil
	}

	detected := mimetype.Detect(data)
	for mt := detected; mt != nil; mt = mt.Parent() {
		for _, want := range expected {
			if mt.Is(want) {
				return nil
			}
		}
	}
	return models.NewExtractionError(models.ErrorKindContentCorrupted, nil,
		"content does not match %s: detected %s", method, detected.String())
}
