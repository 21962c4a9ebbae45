package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkdownToText(t *testing.T) {
	src := "# Title\n\nSome *bold* text.\n\n- first\n- second\n\n```go\nfmt.Println(1)\n```\n\n<div>raw</div>\n"
	got := markdownToText([]byte(src))
	require.Contains(t, got, "Title")
	require.Contains(t, got, "Some bold text.")
	require.Contains(t, got, "first\nsecond")
	require.Contains(t, got, "fmt.Println(1)")
	require.NotContains(t, got, "```")
	require.NotContains(t, got, "<div>")
	require.NotContains(t, got, "*")
}

func TestIsMarkdown(t *testing.T) {
	require.True(t, isMarkdown("a.md"))
	require.True(t, isMarkdown("NOTES.Markdown"))
	require.False(t, isMarkdown("a.txt"))
	require.False(t, isMarkdown("md"))
}
