package parsers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/folio/internal/models"
)

// parsePDFOCR rasterizes each page with pdftoppm and recognizes it with tesseract.
// Blank-line separated blocks of the recognized text become paragraphs.
func (r *Registry) parsePDFOCR(ctx context.Context, data []byte) (*models.ContentNode, error) {
	if !r.ocr.Enabled {
		return nil, models.NewExtractionError(models.ErrorKindConfiguration, nil,
			"%s is disabled; set [ocr] enabled = true", models.ExtractionMethodPDFOCR)
	}

	workDir, err := os.MkdirTemp(r.tempDir, "folio-ocr-*")
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindResourceExhausted, err, "failed to create OCR work directory")
	}
	defer os.RemoveAll(workDir)

	inFile := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inFile, data, 0644); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindResourceExhausted, err, "failed to write temp PDF file")
	}

	prefix := filepath.Join(workDir, "page")
	dpi := r.ocr.DPI
	if dpi <= 0 {
		dpi = 300
	}
	// pdftoppm -r 300 -png <in.pdf> <dir/page>
	if _, stderr, err := r.runner.Run(ctx, r.ocr.Pdftoppm, "-r", strconv.Itoa(dpi), "-png", inFile, prefix); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindDependencyError, err,
			"pdftoppm failed: %s", strings.TrimSpace(truncate(string(stderr), 512)))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil || len(images) == 0 {
		return nil, models.NewExtractionError(models.ErrorKindDependencyError, err, "pdftoppm produced no page images")
	}
	sortPageImages(images, prefix)
	if r.ocr.MaxPages > 0 && len(images) > r.ocr.MaxPages {
		images = images[:r.ocr.MaxPages]
	}

	lang := r.ocr.Language
	if lang == "" {
		lang = "eng"
	}

	doc := models.NewDocNode()
	var failures []string
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, models.NewExtractionError(models.ErrorKindTimeout, err, "OCR aborted")
		}
		// tesseract <file> stdout -l <lang>
		out, stderr, err := r.runner.Run(ctx, r.ocr.Tesseract, img, "stdout", "-l", lang)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v %s", filepath.Base(img), err, strings.TrimSpace(string(stderr))))
			continue
		}
		for _, para := range ocrParagraphs(string(out)) {
			doc.Append(models.NewParagraphNode(models.NewTextNode(para)))
		}
	}

	if len(failures) == len(images) {
		return nil, models.NewExtractionError(models.ErrorKindDependencyError, nil,
			"tesseract failed on every page: %s", truncate(strings.Join(failures, "; "), 512))
	}
	if len(failures) > 0 && r.logger != nil {
		r.logger.Warn().Int("failed_pages", len(failures)).Int("pages", len(images)).Msg("OCR skipped unreadable pages")
	}
	if len(doc.Content) == 0 {
		return nil, models.NewExtractionError(models.ErrorKindInvalidContent, nil, "OCR recognized no text")
	}
	return doc, nil
}

// sortPageImages orders prefix-N.png by page number; pdftoppm zero-pads inconsistently across versions
func sortPageImages(images []string, prefix string) {
	pageOf := func(path string) int {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png"))
		if err != nil {
			return 0
		}
		return n
	}
	sort.SliceStable(images, func(i, j int) bool {
		return pageOf(images[i]) < pageOf(images[j])
	})
}

func ocrParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")

	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		if joined := strings.Join(strings.Fields(block), " "); joined != "" {
			paras = append(paras, joined)
		}
	}
	return paras
}
