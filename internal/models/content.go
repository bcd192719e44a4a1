package models

// Content tree node types
const (
	NodeDoc            = "doc"
	NodeParagraph      = "paragraph"
	NodeText           = "text"
	NodeHeading        = "heading"
	NodeBlockquote     = "blockquote"
	NodeBulletList     = "bulletList"
	NodeOrderedList    = "orderedList"
	NodeListItem       = "listItem"
	NodeCodeBlock      = "codeBlock"
	NodeHardBreak      = "hardBreak"
	NodeHorizontalRule = "horizontalRule"
	NodeImage          = "image"
	NodeTable          = "table"
	NodeTableRow       = "tableRow"
	NodeTableHeader    = "tableHeader"
	NodeTableCell      = "tableCell"
	NodeTaskList       = "taskList"
	NodeTaskItem       = "taskItem"
)

// Formatting mark types
const (
	MarkBold        = "bold"
	MarkItalic      = "italic"
	MarkUnderline   = "underline"
	MarkStrike      = "strike"
	MarkCode        = "code"
	MarkLink        = "link"
	MarkHighlight   = "highlight"
	MarkSubscript   = "subscript"
	MarkSuperscript = "superscript"
	MarkTextStyle   = "textStyle"
)

// AllowedNodeTypes is the node type allow-list enforced by validation
var AllowedNodeTypes = map[string]bool{
	NodeDoc:            true,
	NodeParagraph:      true,
	NodeText:           true,
	NodeHeading:        true,
	NodeBlockquote:     true,
	NodeBulletList:     true,
	NodeOrderedList:    true,
	NodeListItem:       true,
	NodeCodeBlock:      true,
	NodeHardBreak:      true,
	NodeHorizontalRule: true,
	NodeImage:          true,
	NodeTable:          true,
	NodeTableRow:       true,
	NodeTableHeader:    true,
	NodeTableCell:      true,
	NodeTaskList:       true,
	NodeTaskItem:       true,
}

// AllowedMarkTypes is the mark type allow-list enforced by validation
var AllowedMarkTypes = map[string]bool{
	MarkBold:        true,
	MarkItalic:      true,
	MarkUnderline:   true,
	MarkStrike:      true,
	MarkCode:        true,
	MarkLink:        true,
	MarkHighlight:   true,
	MarkSubscript:   true,
	MarkSuperscript: true,
	MarkTextStyle:   true,
}

// ContentMark is a formatting mark applied to a text node
type ContentMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// ContentNode is one node of the canonical rich-text tree.
// Serialized form: {"type": "doc", "content": [...]}.
type ContentNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Content []*ContentNode `json:"content,omitempty"`
	Marks   []ContentMark  `json:"marks,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// NewDocNode returns an empty root node
func NewDocNode(children ...*ContentNode) *ContentNode {
	return &ContentNode{Type: NodeDoc, Content: children}
}

// NewTextNode returns a text leaf with optional marks
func NewTextNode(text string, marks ...ContentMark) *ContentNode {
	n := &ContentNode{Type: NodeText, Text: text}
	if len(marks) > 0 {
		n.Marks = marks
	}
	return n
}

// NewParagraphNode returns a paragraph wrapping the given inline nodes
func NewParagraphNode(children ...*ContentNode) *ContentNode {
	return &ContentNode{Type: NodeParagraph, Content: children}
}

// NewHeadingNode returns a heading of the given level (1-6)
func NewHeadingNode(level int, children ...*ContentNode) *ContentNode {
	return &ContentNode{
		Type:    NodeHeading,
		Attrs:   map[string]any{"level": level},
		Content: children,
	}
}

// Append adds children to the node and returns it
func (n *ContentNode) Append(children ...*ContentNode) *ContentNode {
	n.Content = append(n.Content, children...)
	return n
}

// Walk visits the node and its descendants depth-first, pre-order.
// Returning false from fn skips the node's children.
func (n *ContentNode) Walk(fn func(node *ContentNode, depth int) bool) {
	n.walk(fn, 0)
}

func (n *ContentNode) walk(fn func(node *ContentNode, depth int) bool, depth int) {
	if n == nil {
		return
	}
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Content {
		child.walk(fn, depth+1)
	}
}

// IsBlock reports whether the node type starts a new line of plain text
func (n *ContentNode) IsBlock() bool {
	switch n.Type {
	case NodeText, NodeHardBreak, NodeImage:
		return false
	default:
		return true
	}
}

// ContentStats are the derived statistics of a content tree
type ContentStats struct {
	WordCount      int `json:"word_count"`
	CharacterCount int `json:"character_count"`
	ParagraphCount int `json:"paragraph_count"`
	HeadingCount   int `json:"heading_count"`
	NodeCount      int `json:"node_count"`
}

// NormalizedContent is a sanitized, validated tree with its derived statistics and preview
type NormalizedContent struct {
	Tree    *ContentNode `json:"tree"`
	Stats   ContentStats `json:"stats"`
	Preview string       `json:"preview"`
}
