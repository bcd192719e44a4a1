package parsers

import (
	"context"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/folio/internal/models"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify, extension.TaskList),
)

// parseMarkdown converts CommonMark (plus GFM tables, strikethrough, task lists and autolinks)
// into a content tree. Raw HTML is dropped.
func parseMarkdown(ctx context.Context, data []byte) (*models.ContentNode, error) {
	if !utf8.Valid(data) {
		return nil, models.NewExtractionError(models.ErrorKindInvalidContent, nil, "markdown is not valid UTF-8")
	}

	doc := markdownEngine.Parser().Parse(text.NewReader(data))

	b := &markdownBuilder{source: data, root: models.NewDocNode()}
	b.stack = []*models.ContentNode{b.root}
	if err := ast.Walk(doc, b.walk); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindParsingError, err, "failed to convert markdown")
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindTimeout, err, "markdown conversion aborted")
	}
	return b.root, nil
}

type markdownBuilder struct {
	source   []byte
	root     *models.ContentNode
	stack    []*models.ContentNode
	marks    []models.ContentMark
	inHeader bool
}

func (b *markdownBuilder) top() *models.ContentNode {
	return b.stack[len(b.stack)-1]
}

func (b *markdownBuilder) push(n *models.ContentNode) {
	b.top().Append(n)
	b.stack = append(b.stack, n)
}

func (b *markdownBuilder) pop() {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

// block pushes on enter and pops on exit
func (b *markdownBuilder) block(entering bool, build func() *models.ContentNode) (ast.WalkStatus, error) {
	if entering {
		b.push(build())
	} else {
		b.pop()
	}
	return ast.WalkContinue, nil
}

func (b *markdownBuilder) mark(entering bool, mark models.ContentMark) (ast.WalkStatus, error) {
	if entering {
		b.marks = append(b.marks, mark)
	} else if len(b.marks) > 0 {
		b.marks = b.marks[:len(b.marks)-1]
	}
	return ast.WalkContinue, nil
}

// text appends inline text under the current marks, merging with an identically marked predecessor
func (b *markdownBuilder) text(s string, extra ...models.ContentMark) {
	if s == "" {
		return
	}
	marks := make([]models.ContentMark, 0, len(b.marks)+len(extra))
	marks = append(marks, b.marks...)
	marks = append(marks, extra...)

	parent := b.top()
	if n := len(parent.Content); n > 0 {
		last := parent.Content[n-1]
		if last.Type == models.NodeText && sameMarks(last.Marks, marks) {
			last.Text += s
			return
		}
	}
	parent.Append(models.NewTextNode(s, marks...))
}

func sameMarks(a, b []models.ContentMark) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (b *markdownBuilder) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Document:
		return ast.WalkContinue, nil

	case *ast.Heading:
		return b.block(entering, func() *models.ContentNode { return models.NewHeadingNode(node.Level) })

	case *ast.Paragraph, *ast.TextBlock:
		return b.block(entering, func() *models.ContentNode { return models.NewParagraphNode() })

	case *ast.Blockquote:
		return b.block(entering, func() *models.ContentNode { return &models.ContentNode{Type: models.NodeBlockquote} })

	case *ast.List:
		return b.block(entering, func() *models.ContentNode { return b.listNode(node) })

	case *ast.ListItem:
		return b.block(entering, func() *models.ContentNode { return b.listItemNode(node) })

	case *ast.ThematicBreak:
		if entering {
			b.top().Append(&models.ContentNode{Type: models.NodeHorizontalRule})
		}
		return ast.WalkContinue, nil

	case *ast.FencedCodeBlock:
		if entering {
			b.top().Append(b.codeBlock(node.Lines(), string(node.Language(b.source))))
		}
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		if entering {
			b.top().Append(b.codeBlock(node.Lines(), ""))
		}
		return ast.WalkSkipChildren, nil

	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		if entering {
			b.text(string(node.Segment.Value(b.source)))
			switch {
			case node.HardLineBreak():
				b.top().Append(&models.ContentNode{Type: models.NodeHardBreak})
			case node.SoftLineBreak():
				b.text(" ")
			}
		}
		return ast.WalkContinue, nil

	case *ast.String:
		if entering {
			b.text(string(node.Value))
		}
		return ast.WalkContinue, nil

	case *ast.Emphasis:
		if node.Level >= 2 {
			return b.mark(entering, models.ContentMark{Type: models.MarkBold})
		}
		return b.mark(entering, models.ContentMark{Type: models.MarkItalic})

	case *extast.Strikethrough:
		return b.mark(entering, models.ContentMark{Type: models.MarkStrike})

	case *ast.CodeSpan:
		if entering {
			b.text(b.inlineText(node), models.ContentMark{Type: models.MarkCode})
		}
		return ast.WalkSkipChildren, nil

	case *ast.Link:
		attrs := map[string]any{"href": string(node.Destination)}
		if len(node.Title) > 0 {
			attrs["title"] = string(node.Title)
		}
		return b.mark(entering, models.ContentMark{Type: models.MarkLink, Attrs: attrs})

	case *ast.AutoLink:
		if entering {
			href := string(node.URL(b.source))
			b.text(string(node.Label(b.source)), models.ContentMark{
				Type:  models.MarkLink,
				Attrs: map[string]any{"href": href},
			})
		}
		return ast.WalkSkipChildren, nil

	case *ast.Image:
		if entering {
			attrs := map[string]any{"src": string(node.Destination)}
			if alt := b.inlineText(node); alt != "" {
				attrs["alt"] = alt
			}
			if len(node.Title) > 0 {
				attrs["title"] = string(node.Title)
			}
			b.top().Append(&models.ContentNode{Type: models.NodeImage, Attrs: attrs})
		}
		return ast.WalkSkipChildren, nil

	case *extast.TaskCheckBox:
		// The checkbox sits inside the item's first paragraph
		if entering && len(b.stack) > 2 {
			if owner := b.stack[len(b.stack)-2]; owner.Type == models.NodeTaskItem {
				owner.Attrs = map[string]any{"checked": node.IsChecked}
			}
		}
		return ast.WalkContinue, nil

	case *extast.Table:
		return b.block(entering, func() *models.ContentNode { return &models.ContentNode{Type: models.NodeTable} })

	case *extast.TableHeader:
		b.inHeader = entering
		return b.block(entering, func() *models.ContentNode { return &models.ContentNode{Type: models.NodeTableRow} })

	case *extast.TableRow:
		return b.block(entering, func() *models.ContentNode { return &models.ContentNode{Type: models.NodeTableRow} })

	case *extast.TableCell:
		if entering {
			cellType := models.NodeTableCell
			if b.inHeader {
				cellType = models.NodeTableHeader
			}
			b.push(&models.ContentNode{Type: cellType})
			b.push(models.NewParagraphNode())
		} else {
			b.pop()
			b.pop()
		}
		return ast.WalkContinue, nil
	}

	return ast.WalkContinue, nil
}

func (b *markdownBuilder) listNode(node *ast.List) *models.ContentNode {
	if isTaskList(node) {
		return &models.ContentNode{Type: models.NodeTaskList}
	}
	if node.IsOrdered() {
		n := &models.ContentNode{Type: models.NodeOrderedList}
		if node.Start != 1 {
			n.Attrs = map[string]any{"start": node.Start}
		}
		return n
	}
	return &models.ContentNode{Type: models.NodeBulletList}
}

func (b *markdownBuilder) listItemNode(node *ast.ListItem) *models.ContentNode {
	if list, ok := node.Parent().(*ast.List); ok && isTaskList(list) {
		return &models.ContentNode{Type: models.NodeTaskItem, Attrs: map[string]any{"checked": false}}
	}
	return &models.ContentNode{Type: models.NodeListItem}
}

// isTaskList reports whether every item of the list starts with a task checkbox
func isTaskList(list *ast.List) bool {
	if list.ChildCount() == 0 {
		return false
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		block := item.FirstChild()
		if block == nil {
			return false
		}
		if _, ok := block.FirstChild().(*extast.TaskCheckBox); !ok {
			return false
		}
	}
	return true
}

func (b *markdownBuilder) codeBlock(lines *text.Segments, language string) *models.ContentNode {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(b.source))
	}
	n := &models.ContentNode{Type: models.NodeCodeBlock}
	if code := strings.TrimRight(sb.String(), "\n"); code != "" {
		n.Content = []*models.ContentNode{models.NewTextNode(code)}
	}
	if language != "" {
		n.Attrs = map[string]any{"language": language}
	}
	return n
}

// inlineText concatenates the literal text beneath an inline node
func (b *markdownBuilder) inlineText(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(b.source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			sb.WriteString(b.inlineText(c))
		}
	}
	return sb.String()
}
