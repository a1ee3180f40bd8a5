package mrkdwn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHeadings(t *testing.T) {
	assert.Equal(t, "*Title*", Render("## Title"))
	assert.Equal(t, "*Deep*", Render("###### Deep"))
}

func TestRenderBoldAndItalic(t *testing.T) {
	assert.Equal(t, "say *loud* here", Render("say **loud** here"))
	assert.Equal(t, "*_both_*", Render("***both***"))
}

func TestRenderLinksAndImages(t *testing.T) {
	assert.Equal(t, "<https://example.com|docs>", Render("[docs](https://example.com)"))
	assert.Equal(t, "<https://example.com/a.png|alt>", Render("![alt](https://example.com/a.png)"))
}

func TestRenderStrikethrough(t *testing.T) {
	assert.Equal(t, "~gone~", Render("~~gone~~"))
}

func TestRenderBullets(t *testing.T) {
	assert.Equal(t, "• first\n  • nested", Render("* first\n  * nested"))
}

func TestRenderHorizontalRule(t *testing.T) {
	assert.Equal(t, "a\n\nb", Render("a\n---\nb"))
}

func TestRenderLeavesCodeBlocksAlone(t *testing.T) {
	in := "before\n```\n**not bold** [not](a-link)\n# not a heading\n```\nafter **bold**"
	got := Render(in)
	assert.Contains(t, got, "**not bold** [not](a-link)")
	assert.Contains(t, got, "# not a heading")
	assert.Contains(t, got, "after *bold*")
}

func TestRenderInlineCodeSurvives(t *testing.T) {
	assert.Equal(t, "run `make test` now", Render("run `make test` now"))
}

// Render must be total: any non-empty input yields non-empty output and
// never panics, including input with no recognized markup at all.
func TestRenderTotality(t *testing.T) {
	inputs := []string{
		"plain text with no markup",
		"unbalanced **bold",
		"``` unclosed fence",
		"*",
		"[]()",
		"deeply *nested **mixed*** ~~markers~~",
		strings.Repeat("x", 10000),
	}
	for _, in := range inputs {
		got := Render(in)
		require.NotEmpty(t, got, "input %q", in)
	}
}

func TestSplitShortTextUntouched(t *testing.T) {
	parts := Split("short", 100)
	require.Equal(t, []string{"short"}, parts)
}

func TestSplitPrefersNewlines(t *testing.T) {
	in := strings.Repeat("line one\n", 10)
	parts := Split(in, 40)
	require.Greater(t, len(parts), 1)
	for _, p := range parts[:len(parts)-1] {
		assert.True(t, strings.HasSuffix(p, "\n"), "part %q should end at a line break", p)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	cases := []string{
		strings.Repeat("alpha beta gamma\n", 100),
		strings.Repeat("z", 9001),
		"exact",
	}
	for _, in := range cases {
		parts := Split(in, 100)
		for _, p := range parts {
			assert.LessOrEqual(t, len([]rune(p)), 100)
		}
		assert.Equal(t, in, strings.Join(parts, ""))
	}
}
