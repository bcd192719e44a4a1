package parsers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ternarybob/folio/internal/models"
)

var contentPagePattern = regexp.MustCompile(`Content_page_(\d+)`)

// parsePDFText reads the text layer of a PDF. pdfcpu decodes each page's content
// streams to disk; the text-showing operators are then decoded into one paragraph per line.
func (r *Registry) parsePDFText(ctx context.Context, data []byte) (*models.ContentNode, error) {
	workDir, err := os.MkdirTemp(r.tempDir, "folio-pdf-*")
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindResourceExhausted, err, "failed to create PDF work directory")
	}
	defer os.RemoveAll(workDir)

	inFile := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inFile, data, 0644); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindResourceExhausted, err, "failed to write temp PDF file")
	}

	pdfCtx, err := api.ReadContextFile(inFile)
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindContentCorrupted, err, "failed to read PDF")
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(workDir, "content")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindResourceExhausted, err, "failed to create PDF content directory")
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inFile, outDir, nil, conf); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindParsingError, err, "failed to extract PDF content streams")
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindTimeout, err, "PDF extraction aborted")
	}

	pages, err := readContentPages(outDir)
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindParsingError, err, "failed to read PDF content streams")
	}

	doc := models.NewDocNode()
	for _, page := range pages {
		for _, line := range strings.Split(decodeContentText(page.stream), "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				doc.Append(models.NewParagraphNode(models.NewTextNode(line)))
			}
		}
	}

	if len(doc.Content) == 0 {
		return nil, models.NewExtractionError(models.ErrorKindInvalidContent, nil,
			"PDF has no extractable text layer (%d pages); retry with %s", pageCount, models.ExtractionMethodPDFOCR)
	}

	if r.logger != nil {
		r.logger.Debug().
			Int("pages", pageCount).
			Int("paragraphs", len(doc.Content)).
			Msg("PDF text layer extracted")
	}
	return doc, nil
}

type contentPage struct {
	number int
	stream []byte
}

// readContentPages loads the per-page content files written by pdfcpu, ordered by page number.
// A page with several content streams yields several files that are concatenated.
func readContentPages(dir string) ([]contentPage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]byte)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		m := contentPagePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		pageNum, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		byPage[pageNum] = append(append(byPage[pageNum], content...), '\n')
	}

	pages := make([]contentPage, 0, len(byPage))
	for num, stream := range byPage {
		pages = append(pages, contentPage{number: num, stream: stream})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, nil
}
