package content

import (
	"strings"
	"unicode"

	"github.com/ternarybob/folio/internal/models"
)

// unsafeAttrFragments flag attribute keys that may carry executable content
var unsafeAttrFragments = []string{"script", "javascript", "eval", "expression"}

// unsafeURLSchemes are rejected in link/image URL attributes
var unsafeURLSchemes = []string{"javascript:", "vbscript:", "data:text/html"}

var urlAttrKeys = map[string]bool{"href": true, "src": true}

// Sanitize strips unsafe attributes and control characters and removes anything that
// would fail Validate: unknown node and mark types, empty text nodes, a non-doc root.
// The tree is modified in place; the returned root may be a new doc node wrapping the input.
func Sanitize(root *models.ContentNode) *models.ContentNode {
	if root == nil {
		return models.NewDocNode()
	}

	switch {
	case root.Type == models.NodeDoc:
	case root.Type == legacyRootType:
		root.Type = models.NodeDoc
	case models.AllowedNodeTypes[root.Type] && root.Type != models.NodeText:
		root = models.NewDocNode(root)
	default:
		root = models.NewDocNode(root.Content...)
	}

	root.Text = ""
	root.Marks = nil
	root.Attrs = sanitizeAttrs(root.Attrs)
	root.Content = sanitizeChildren(root.Content, 1)
	return root
}

// AcceptsRoot reports whether Sanitize keeps the root's content: a doc root, its legacy alias,
// or a block node that gets wrapped in a doc. Any other root would be replaced by an empty doc.
func AcceptsRoot(root *models.ContentNode) bool {
	if root == nil {
		return false
	}
	switch {
	case root.Type == models.NodeDoc, root.Type == legacyRootType:
		return true
	default:
		return models.AllowedNodeTypes[root.Type] && root.Type != models.NodeText
	}
}

func sanitizeChildren(children []*models.ContentNode, depth int) []*models.ContentNode {
	if len(children) == 0 {
		return nil
	}
	kept := children[:0]
	for _, child := range children {
		if n := sanitizeNode(child, depth); n != nil {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func sanitizeNode(n *models.ContentNode, depth int) *models.ContentNode {
	if n == nil || depth > MaxDepth {
		return nil
	}
	if !models.AllowedNodeTypes[n.Type] || n.Type == models.NodeDoc {
		return nil
	}

	n.Attrs = sanitizeAttrs(n.Attrs)
	n.Marks = sanitizeMarks(n.Marks)

	if n.Type == models.NodeText {
		n.Text = StripControlChars(n.Text)
		n.Content = nil
		if n.Text == "" {
			return nil
		}
		return n
	}

	if n.Type == models.NodeHeading {
		level, ok := intAttr(n.Attrs, "level")
		if !ok || level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		if n.Attrs == nil {
			n.Attrs = map[string]any{}
		}
		n.Attrs["level"] = level
	}

	n.Text = ""
	n.Content = sanitizeChildren(n.Content, depth+1)
	return n
}

func sanitizeMarks(marks []models.ContentMark) []models.ContentMark {
	if len(marks) == 0 {
		return nil
	}
	kept := marks[:0]
	for _, mark := range marks {
		if !models.AllowedMarkTypes[mark.Type] {
			continue
		}
		mark.Attrs = sanitizeAttrs(mark.Attrs)
		kept = append(kept, mark)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func sanitizeAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	for key, value := range attrs {
		if isUnsafeAttrKey(key) {
			delete(attrs, key)
			continue
		}
		if s, ok := value.(string); ok {
			if urlAttrKeys[strings.ToLower(key)] && isUnsafeURL(s) {
				delete(attrs, key)
				continue
			}
			attrs[key] = StripControlChars(s)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func isUnsafeAttrKey(key string) bool {
	lower := strings.ToLower(key)
	// Event handlers: onclick, onload, ...
	if len(lower) > 2 && strings.HasPrefix(lower, "on") {
		return true
	}
	for _, fragment := range unsafeAttrFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func isUnsafeURL(value string) bool {
	normalized := strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, value))
	for _, scheme := range unsafeURLSchemes {
		if strings.HasPrefix(normalized, scheme) {
			return true
		}
	}
	return false
}

// StripControlChars removes control characters except newline, carriage return and tab
func StripControlChars(s string) string {
	clean := true
	for _, r := range s {
		if isStrippedControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStrippedControl(r) {
			return -1
		}
		return r
	}, s)
}

func isStrippedControl(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return unicode.IsControl(r)
}
