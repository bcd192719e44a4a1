package content

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/models"
)

func twoParagraphTree() *models.ContentNode {
	return models.NewDocNode(
		models.NewParagraphNode(models.NewTextNode("Hello world.")),
		models.NewParagraphNode(models.NewTextNode("Second paragraph.")),
	)
}

func TestValidate_AcceptsWellFormedTree(t *testing.T) {
	tree := models.NewDocNode(
		models.NewHeadingNode(1, models.NewTextNode("Title")),
		models.NewParagraphNode(
			models.NewTextNode("plain "),
			models.NewTextNode("bold", models.ContentMark{Type: models.MarkBold}),
		),
		&models.ContentNode{Type: models.NodeBulletList, Content: []*models.ContentNode{
			{Type: models.NodeListItem, Content: []*models.ContentNode{
				models.NewParagraphNode(models.NewTextNode("item")),
			}},
		}},
	)
	assert.NoError(t, Validate(tree))
}

func TestValidate_AcceptsDocumentRootAlias(t *testing.T) {
	tree := &models.ContentNode{Type: "document", Content: []*models.ContentNode{
		models.NewParagraphNode(models.NewTextNode("x")),
	}}
	assert.NoError(t, Validate(tree))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		tree *models.ContentNode
	}{
		{"nil tree", nil},
		{"wrong root", models.NewParagraphNode(models.NewTextNode("x"))},
		{"unknown node", models.NewDocNode(&models.ContentNode{Type: "script"})},
		{"unknown mark", models.NewDocNode(models.NewParagraphNode(
			models.NewTextNode("x", models.ContentMark{Type: "blink"})))},
		{"empty text", models.NewDocNode(models.NewParagraphNode(&models.ContentNode{Type: models.NodeText}))},
		{"text with children", models.NewDocNode(models.NewParagraphNode(&models.ContentNode{
			Type: models.NodeText, Text: "x", Content: []*models.ContentNode{models.NewTextNode("y")}}))},
		{"heading level out of range", models.NewDocNode(models.NewHeadingNode(9, models.NewTextNode("x")))},
		{"nested doc", models.NewDocNode(models.NewDocNode())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tree)
			require.Error(t, err)
			assert.Equal(t, models.ErrorKindInvalidContent, models.KindOf(err))
		})
	}
}

func TestValidate_RejectsExcessiveDepth(t *testing.T) {
	root := models.NewDocNode()
	cur := root
	for i := 0; i < MaxDepth+2; i++ {
		next := &models.ContentNode{Type: models.NodeBlockquote}
		cur.Append(next)
		cur = next
	}
	assert.Error(t, Validate(root))
}

func TestSanitize_StripsUnsafeAttributes(t *testing.T) {
	link := models.ContentMark{Type: models.MarkLink, Attrs: map[string]any{
		"href":    "javascript:alert(1)",
		"onclick": "steal()",
		"title":   "ok",
	}}
	image := &models.ContentNode{Type: models.NodeImage, Attrs: map[string]any{
		"src":         "https://example.com/a.png",
		"data-script": "x",
		"onerror":     "boom()",
	}}
	tree := models.NewDocNode(models.NewParagraphNode(models.NewTextNode("click", link), image))

	clean := Sanitize(tree)

	require.NoError(t, Validate(clean))
	para := clean.Content[0]
	assert.Equal(t, map[string]any{"title": "ok"}, para.Content[0].Marks[0].Attrs)
	assert.Equal(t, map[string]any{"src": "https://example.com/a.png"}, para.Content[1].Attrs)
}

func TestSanitize_StripsControlCharacters(t *testing.T) {
	tree := models.NewDocNode(models.NewParagraphNode(models.NewTextNode("a\x00b\x07c\nd\te\rf")))

	clean := Sanitize(tree)

	assert.Equal(t, "abc\nd\te\rf", clean.Content[0].Content[0].Text)
}

func TestSanitize_AlwaysProducesValidTree(t *testing.T) {
	tests := []struct {
		name string
		tree *models.ContentNode
	}{
		{"nil", nil},
		{"legacy root", &models.ContentNode{Type: "document", Content: []*models.ContentNode{
			models.NewParagraphNode(models.NewTextNode("x"))}}},
		{"paragraph root", models.NewParagraphNode(models.NewTextNode("x"))},
		{"unknown root", &models.ContentNode{Type: "weird", Content: []*models.ContentNode{
			models.NewParagraphNode(models.NewTextNode("x"))}}},
		{"unknown children and marks", models.NewDocNode(
			&models.ContentNode{Type: "iframe"},
			models.NewParagraphNode(models.NewTextNode("x", models.ContentMark{Type: "blink"})),
		)},
		{"control-only text", models.NewDocNode(models.NewParagraphNode(models.NewTextNode("\x01\x02")))},
		{"bad heading level", models.NewDocNode(models.NewHeadingNode(12, models.NewTextNode("x")))},
		{"nested doc", models.NewDocNode(models.NewDocNode(models.NewParagraphNode(models.NewTextNode("x"))))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean := Sanitize(tt.tree)
			require.NotNil(t, clean)
			assert.Equal(t, models.NodeDoc, clean.Type)
			assert.NoError(t, Validate(clean))
		})
	}
}

func TestComputeStats_TwoParagraphs(t *testing.T) {
	stats := ComputeStats(twoParagraphTree())

	assert.Equal(t, 4, stats.WordCount)
	assert.Equal(t, 2, stats.ParagraphCount)
	assert.Equal(t, 0, stats.HeadingCount)
	assert.Equal(t, len("Hello world.")+len("Second paragraph."), stats.CharacterCount)
	assert.Equal(t, 5, stats.NodeCount)
}

func TestComputeStats_CountsRunesNotBytes(t *testing.T) {
	tree := models.NewDocNode(models.NewHeadingNode(2, models.NewTextNode("héllo wörld")))

	stats := ComputeStats(tree)

	assert.Equal(t, 11, stats.CharacterCount)
	assert.Equal(t, 2, stats.WordCount)
	assert.Equal(t, 1, stats.HeadingCount)
}

func TestComputeStats_InlineMarksDoNotSplitWords(t *testing.T) {
	tree := models.NewDocNode(models.NewParagraphNode(
		models.NewTextNode("exa"),
		models.NewTextNode("mple", models.ContentMark{Type: models.MarkBold}),
		models.NewTextNode(" done"),
	))

	assert.Equal(t, 2, ComputeStats(tree).WordCount)
}

func TestComputeStats_Deterministic(t *testing.T) {
	tree := twoParagraphTree()
	first := ComputeStats(tree)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeStats(tree))
	}
}

func TestGeneratePreview(t *testing.T) {
	tree := twoParagraphTree()

	assert.Equal(t, "Hello world. Second paragraph.", GeneratePreview(tree, 200))
	assert.Equal(t, "Hello world....", GeneratePreview(tree, 16))
	assert.Equal(t, "Hello world. Second paragraph.", GeneratePreview(tree, 0))
}

func TestGeneratePreview_NoWhitespaceBeforeLimit(t *testing.T) {
	tree := models.NewDocNode(models.NewParagraphNode(models.NewTextNode("abcdefghijklmnop")))

	assert.Equal(t, "abcde...", GeneratePreview(tree, 5))
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := models.NewDocNode(
		models.NewHeadingNode(1, models.NewTextNode("Title")),
		models.NewParagraphNode(models.NewTextNode("link", models.ContentMark{
			Type: models.MarkLink, Attrs: map[string]any{"href": "https://example.com"},
		})),
	)

	data, err := EncodeTree(tree)
	require.NoError(t, err)

	decoded, err := DecodeTree(data)
	require.NoError(t, err)

	again, err := EncodeTree(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Equal(t, ComputeStats(tree), ComputeStats(decoded))
}

func TestDecodeTree_RejectsInvalidInput(t *testing.T) {
	_, err := DecodeTree([]byte("{not json"))
	assert.Equal(t, models.ErrorKindContentCorrupted, models.KindOf(err))

	_, err = DecodeTree([]byte(`{"type":"doc","content":[{"type":"marquee"}]}`))
	assert.Equal(t, models.ErrorKindInvalidContent, models.KindOf(err))
}

func TestDecodeTree_TopLevelShape(t *testing.T) {
	tree, err := DecodeTree([]byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hi"}]}]}`))
	require.NoError(t, err)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"type":"doc","content":[`))
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(10, arbor.NewLogger())
	tree := models.NewDocNode(
		models.NewParagraphNode(models.NewTextNode("Hello world.")),
		&models.ContentNode{Type: "unknown"},
		models.NewParagraphNode(models.NewTextNode("Second paragraph.")),
	)

	result, err := n.Normalize(tree)
	require.NoError(t, err)

	assert.Len(t, result.Tree.Content, 2)
	assert.Equal(t, 4, result.Stats.WordCount)
	assert.Equal(t, "Hello...", result.Preview)
}

func TestNormalizer_RejectsNilTree(t *testing.T) {
	_, err := NewNormalizer(0, nil).Normalize(nil)
	assert.Equal(t, models.ErrorKindInvalidContent, models.KindOf(err))
}

func TestAcceptsRoot(t *testing.T) {
	assert.True(t, AcceptsRoot(models.NewDocNode()))
	assert.True(t, AcceptsRoot(&models.ContentNode{Type: "document"}))
	assert.True(t, AcceptsRoot(&models.ContentNode{Type: models.NodeParagraph}))
	assert.False(t, AcceptsRoot(&models.ContentNode{Type: models.NodeText, Text: "loose"}))
	assert.False(t, AcceptsRoot(&models.ContentNode{Type: "iframe"}))
	assert.False(t, AcceptsRoot(nil))
}
