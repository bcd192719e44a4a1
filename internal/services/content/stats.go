package content

import (
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/folio/internal/models"
)

// ComputeStats derives word, character, paragraph, heading and node counts.
// Words are whitespace-separated runs of PlainText; characters are runes of text-node text.
func ComputeStats(root *models.ContentNode) models.ContentStats {
	var stats models.ContentStats
	if root == nil {
		return stats
	}

	root.Walk(func(n *models.ContentNode, _ int) bool {
		stats.NodeCount++
		switch n.Type {
		case models.NodeText:
			stats.CharacterCount += utf8.RuneCountInString(n.Text)
		case models.NodeParagraph:
			stats.ParagraphCount++
		case models.NodeHeading:
			stats.HeadingCount++
		}
		return true
	})

	stats.WordCount = len(strings.Fields(PlainText(root)))
	return stats
}

// PlainText flattens the tree to text. Inline text inside one block is concatenated,
// block boundaries and hard breaks become newlines.
func PlainText(root *models.ContentNode) string {
	if root == nil {
		return ""
	}
	var sb strings.Builder
	writePlainText(&sb, root)
	return strings.TrimSpace(sb.String())
}

func writePlainText(sb *strings.Builder, n *models.ContentNode) {
	switch n.Type {
	case models.NodeText:
		sb.WriteString(n.Text)
		return
	case models.NodeHardBreak:
		sb.WriteByte('\n')
		return
	}

	for _, child := range n.Content {
		if child == nil {
			continue
		}
		writePlainText(sb, child)
	}
	if n.IsBlock() && n.Type != models.NodeDoc {
		sb.WriteByte('\n')
	}
}
