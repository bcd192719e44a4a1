package parsers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/folio/internal/models"
)

const (
	docxDocumentPart = "word/document.xml"
	docxRelsPart     = "word/_rels/document.xml.rels"
)

// parseDOCX walks word/document.xml and keeps the document structure:
// heading styles, run formatting, hyperlinks, numbered/bulleted paragraphs and tables.
func parseDOCX(ctx context.Context, data []byte) (*models.ContentNode, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindContentCorrupted, err, "DOCX is not a valid zip archive")
	}

	var docFile, relsFile *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case docxDocumentPart:
			docFile = f
		case docxRelsPart:
			relsFile = f
		}
	}
	if docFile == nil {
		return nil, models.NewExtractionError(models.ErrorKindContentCorrupted, nil, "%s not found in archive", docxDocumentPart)
	}

	links := map[string]string{}
	if relsFile != nil {
		if links, err = readDocxLinks(relsFile); err != nil {
			return nil, models.NewExtractionError(models.ErrorKindParsingError, err, "failed to read DOCX relationships")
		}
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, models.NewExtractionError(models.ErrorKindContentCorrupted, err, "failed to open %s", docxDocumentPart)
	}
	defer rc.Close()

	w := newDocxWalker(links)
	decoder := xml.NewDecoder(rc)
	for {
		if err := ctx.Err(); err != nil {
			return nil, models.NewExtractionError(models.ErrorKindTimeout, err, "DOCX extraction aborted")
		}
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.NewExtractionError(models.ErrorKindParsingError, err, "malformed %s", docxDocumentPart)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			if w.inText {
				w.runText.Write(t)
			}
		}
	}
	return w.root, nil
}

type docxRelationships struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// readDocxLinks maps relationship ids to hyperlink targets
func readDocxLinks(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rels docxRelationships
	if err := xml.NewDecoder(rc).Decode(&rels); err != nil {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}
	links := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		if strings.HasSuffix(rel.Type, "/hyperlink") {
			links[rel.ID] = rel.Target
		}
	}
	return links, nil
}

type docxWalker struct {
	root  *models.ContentNode
	stack []*models.ContentNode
	links map[string]string

	// current paragraph
	para      *models.ContentNode
	paraStyle string
	listItem  bool
	openList  *models.ContentNode
	inPPr     bool

	// current run
	inRun    bool
	inRPr    bool
	inText   bool
	runMarks []models.ContentMark
	runText  strings.Builder
	link     *models.ContentMark
}

func newDocxWalker(links map[string]string) *docxWalker {
	root := models.NewDocNode()
	return &docxWalker{
		root:  root,
		stack: []*models.ContentNode{root},
		links: links,
	}
}

func (w *docxWalker) container() *models.ContentNode {
	return w.stack[len(w.stack)-1]
}

func (w *docxWalker) pushContainer(n *models.ContentNode) {
	w.container().Append(n)
	w.stack = append(w.stack, n)
	w.openList = nil
}

func (w *docxWalker) popContainer() {
	if len(w.stack) > 1 {
		w.stack = w.stack[:len(w.stack)-1]
	}
	w.openList = nil
}

func (w *docxWalker) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		w.pushContainer(&models.ContentNode{Type: models.NodeTable})
	case "tr":
		w.pushContainer(&models.ContentNode{Type: models.NodeTableRow})
	case "tc":
		w.pushContainer(&models.ContentNode{Type: models.NodeTableCell})
	case "p":
		w.para = models.NewParagraphNode()
		w.paraStyle = ""
		w.listItem = false
	case "pPr":
		w.inPPr = true
	case "pStyle":
		if w.inPPr {
			w.paraStyle = attrValue(t, "val")
		}
	case "numPr":
		if w.inPPr {
			w.listItem = true
		}
	case "hyperlink":
		href := w.links[attrValue(t, "id")]
		if anchor := attrValue(t, "anchor"); href == "" && anchor != "" {
			href = "#" + anchor
		}
		if href != "" {
			w.link = &models.ContentMark{Type: models.MarkLink, Attrs: map[string]any{"href": href}}
		}
	case "r":
		w.inRun = true
		w.runMarks = nil
		w.runText.Reset()
	case "rPr":
		w.inRPr = w.inRun
	case "b", "i", "u", "strike", "dstrike", "vertAlign", "highlight":
		if w.inRPr {
			if mark, ok := runMark(t); ok {
				w.runMarks = append(w.runMarks, mark)
			}
		}
	case "t":
		w.inText = w.inRun
	case "tab":
		if w.inRun && !w.inPPr {
			w.runText.WriteByte('\t')
		}
	case "br", "cr":
		if w.inRun && w.para != nil {
			w.flushRun()
			w.para.Append(&models.ContentNode{Type: models.NodeHardBreak})
		}
	}
}

func (w *docxWalker) end(t xml.EndElement) {
	switch t.Name.Local {
	case "tbl", "tr", "tc":
		w.popContainer()
	case "pPr":
		w.inPPr = false
	case "rPr":
		w.inRPr = false
	case "t":
		w.inText = false
	case "r":
		w.flushRun()
		w.inRun = false
	case "hyperlink":
		w.link = nil
	case "p":
		w.finishParagraph()
	}
}

// flushRun appends the buffered run text to the current paragraph
func (w *docxWalker) flushRun() {
	if w.para == nil || w.runText.Len() == 0 {
		return
	}
	text := w.runText.String()
	w.runText.Reset()

	marks := append([]models.ContentMark(nil), w.runMarks...)
	if w.link != nil {
		marks = append(marks, *w.link)
	}

	if n := len(w.para.Content); n > 0 {
		last := w.para.Content[n-1]
		if last.Type == models.NodeText && sameMarks(last.Marks, marks) {
			last.Text += text
			return
		}
	}
	w.para.Append(models.NewTextNode(text, marks...))
}

func (w *docxWalker) finishParagraph() {
	para := w.para
	w.para = nil
	if para == nil || !hasText(para) {
		return
	}

	if level := docxHeadingLevel(w.paraStyle); level > 0 {
		heading := models.NewHeadingNode(level, para.Content...)
		w.container().Append(heading)
		w.openList = nil
		return
	}

	if w.listItem || isListStyle(w.paraStyle) {
		if w.openList == nil {
			w.openList = &models.ContentNode{Type: models.NodeBulletList}
			w.container().Append(w.openList)
		}
		w.openList.Append(&models.ContentNode{Type: models.NodeListItem, Content: []*models.ContentNode{para}})
		return
	}

	w.openList = nil
	w.container().Append(para)
}

func hasText(n *models.ContentNode) bool {
	for _, c := range n.Content {
		if c.Type == models.NodeText && strings.TrimSpace(c.Text) != "" {
			return true
		}
	}
	return false
}

func attrValue(t xml.StartElement, local string) string {
	for _, attr := range t.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}

// runMark maps a run property element to a mark. Toggle properties may be switched off with val="0"/"false".
func runMark(t xml.StartElement) (models.ContentMark, bool) {
	val := strings.ToLower(attrValue(t, "val"))
	off := val == "0" || val == "false" || val == "none"

	switch t.Name.Local {
	case "b":
		return models.ContentMark{Type: models.MarkBold}, !off
	case "i":
		return models.ContentMark{Type: models.MarkItalic}, !off
	case "u":
		return models.ContentMark{Type: models.MarkUnderline}, !off
	case "strike", "dstrike":
		return models.ContentMark{Type: models.MarkStrike}, !off
	case "highlight":
		return models.ContentMark{Type: models.MarkHighlight}, !off
	case "vertAlign":
		switch val {
		case "superscript":
			return models.ContentMark{Type: models.MarkSuperscript}, true
		case "subscript":
			return models.ContentMark{Type: models.MarkSubscript}, true
		}
	}
	return models.ContentMark{}, false
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" -> 1, "Title" -> 1, "Subtitle" -> 2.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(strings.ReplaceAll(style, " ", ""))

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}
	if strings.HasPrefix(lower, "heading") {
		rest := lower[len("heading"):]
		if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
			return int(rest[0] - '0')
		}
	}
	return 0
}

func isListStyle(style string) bool {
	lower := strings.ToLower(style)
	return strings.HasPrefix(lower, "listparagraph") || strings.HasPrefix(lower, "listbullet") || strings.HasPrefix(lower, "listnumber")
}
