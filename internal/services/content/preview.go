package content

import (
	"strings"

	"github.com/ternarybob/folio/internal/models"
)

const ellipsis = "..."

// GeneratePreview joins text node text depth-first with single spaces and truncates
// at the last whitespace boundary before maxChars, appending an ellipsis when cut.
// maxChars is counted in runes; a non-positive limit disables truncation.
func GeneratePreview(root *models.ContentNode, maxChars int) string {
	if root == nil {
		return ""
	}

	var parts []string
	root.Walk(func(n *models.ContentNode, _ int) bool {
		if n.Type == models.NodeText && n.Text != "" {
			parts = append(parts, n.Text)
		}
		return true
	})

	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if maxChars <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	cut := maxChars
	for i := maxChars; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ") + ellipsis
}
