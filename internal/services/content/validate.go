// Package content validates, sanitizes and measures content trees produced by the format parsers.
package content

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/folio/internal/models"
)

// MaxDepth bounds recursive nesting accepted by Validate
const MaxDepth = 64

// legacyRootType is accepted as an alias of the "doc" root and rewritten by Sanitize
const legacyRootType = "document"

// Validate checks the structural well-formedness of a tree:
// the root must be a doc node, every node and mark type must be allow-listed,
// text nodes carry text and no children. Nesting is checked depth-first.
func Validate(root *models.ContentNode) error {
	if root == nil {
		return invalid("content tree is empty")
	}
	if root.Type != models.NodeDoc && root.Type != legacyRootType {
		return invalid("root node must be %q, got %q", models.NodeDoc, root.Type)
	}
	for i, child := range root.Content {
		if err := validateNode(child, fmt.Sprintf("content[%d]", i), 1); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(n *models.ContentNode, path string, depth int) error {
	if n == nil {
		return invalid("%s: null node", path)
	}
	if depth > MaxDepth {
		return invalid("%s: nesting deeper than %d", path, MaxDepth)
	}
	if !models.AllowedNodeTypes[n.Type] {
		return invalid("%s: node type %q is not allowed", path, n.Type)
	}
	if n.Type == models.NodeDoc {
		return invalid("%s: nested doc node", path)
	}

	if n.Type == models.NodeText {
		if n.Text == "" {
			return invalid("%s: text node without text", path)
		}
		if len(n.Content) > 0 {
			return invalid("%s: text node with children", path)
		}
	}

	if n.Type == models.NodeHeading {
		level, ok := intAttr(n.Attrs, "level")
		if !ok || level < 1 || level > 6 {
			return invalid("%s: heading level must be 1-6", path)
		}
	}

	for i, mark := range n.Marks {
		if !models.AllowedMarkTypes[mark.Type] {
			return invalid("%s.marks[%d]: mark type %q is not allowed", path, i, mark.Type)
		}
	}

	for i, child := range n.Content {
		if err := validateNode(child, fmt.Sprintf("%s.content[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// intAttr reads a numeric attribute that may be an int (built in-process) or a float64 (decoded from JSON)
func intAttr(attrs map[string]any, key string) (int, bool) {
	switch v := attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func invalid(format string, args ...any) error {
	return models.NewExtractionError(models.ErrorKindInvalidContent, nil, "invalid content: "+format, args...)
}

// DecodeTree parses the serialized artifact format and validates it against the allow-lists.
// Use it for any tree arriving from outside the pipeline (restored backups, edited re-submissions).
func DecodeTree(data []byte) (*models.ContentNode, error) {
	var root models.ContentNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, models.NewExtractionError(models.ErrorKindContentCorrupted, err, "content tree is not valid JSON")
	}
	if err := Validate(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// EncodeTree serializes a tree to the artifact JSON format
func EncodeTree(root *models.ContentNode) ([]byte, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content tree: %w", err)
	}
	return data, nil
}
