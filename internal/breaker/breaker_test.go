// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeBlockStateAt(t *testing.T) {
	content := "before\n```go\nfunc main() {}\n```\nafter"
	closeIdx := strings.Index(content, "after")

	insideIdx := strings.Index(content, "func main")
	st := CodeBlockStateAt(content, insideIdx)
	assert.True(t, st.InsideOpen)
	assert.Equal(t, "go", st.Language)

	st = CodeBlockStateAt(content, closeIdx)
	assert.False(t, st.InsideOpen)
}

func TestFindLogicalBreakpoint_ToolMarker(t *testing.T) {
	content := "doing work\n  ↳ ✓ done\nmore text follows here"
	bp, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.True(t, ok)
	assert.Equal(t, BreakToolMarker, bp.Type)
}

func TestFindLogicalBreakpoint_Heading(t *testing.T) {
	content := "some intro text\n## Next Section\nmore"
	bp, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.True(t, ok)
	assert.Equal(t, BreakHeading, bp.Type)
}

func TestFindLogicalBreakpoint_InsideOpenBlockWaitsForClose(t *testing.T) {
	content := "```go\nfunc foo() {"
	_, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.False(t, ok, "no closing fence yet, caller must wait")
}

func TestFindLogicalBreakpoint_ClosesCodeBlockFirst(t *testing.T) {
	content := "```go\nfunc foo() {}\n```\nafter the block"
	bp, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.True(t, ok)
	assert.Equal(t, BreakCodeBlockEnd, bp.Type)
	assert.Equal(t, "after the block", content[bp.Position:])
}

func TestFindLogicalBreakpoint_ParagraphFallback(t *testing.T) {
	content := "first paragraph\n\nsecond paragraph continues on for a while"
	bp, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.True(t, ok)
	assert.Equal(t, BreakParagraph, bp.Type)
}

func TestFindLogicalBreakpoint_LineFallback(t *testing.T) {
	content := "one line of text\nanother line of text that keeps going"
	bp, ok := FindLogicalBreakpoint(content, 0, 500)
	assert.True(t, ok)
	assert.Equal(t, BreakLine, bp.Type)
}

func TestShouldFlushEarly(t *testing.T) {
	limits := Limits{MaxHeightPx: 500, SoftBreakChars: 2000, MaxLinesBeforeBreak: 15}

	assert.False(t, ShouldFlushEarly("short content", limits))
	assert.True(t, ShouldFlushEarly(strings.Repeat("x", 2001), limits))
	assert.True(t, ShouldFlushEarly(strings.Repeat("a\n", 16), limits))
}

func TestEstimateRenderedHeight_CodeBlockCountsLines(t *testing.T) {
	plain := "line one\nline two\n"
	withCode := "line one\n```go\nfunc a(){}\nfunc b(){}\n```\n"

	hPlain := EstimateRenderedHeight(plain)
	hCode := EstimateRenderedHeight(withCode)
	assert.Greater(t, hCode, hPlain)
}

func TestSplitForHeight_NoSplitWhenSmall(t *testing.T) {
	limits := Limits{MaxHeightPx: 500, SoftBreakChars: 2000, MaxLinesBeforeBreak: 15}
	chunks := SplitForHeight("small content", limits)
	assert.Equal(t, []string{"small content"}, chunks)
}

func TestSplitForHeight_SplitsAtParagraphs(t *testing.T) {
	limits := Limits{MaxHeightPx: 100000, SoftBreakChars: 20, MaxLinesBeforeBreak: 1000}
	content := strings.Repeat("paragraph text here that is fairly long\n\n", 5)
	chunks := SplitForHeight(content, limits)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, content, strings.Join(chunks, ""))
}

func TestCloseOpenFences_ForceClosesAndReopens(t *testing.T) {
	chunks := []string{
		"intro\n```go\nfunc a() {}\n",
		"func b() {}\n```\noutro",
	}
	out, lang, open := CloseOpenFences(chunks)
	assert.False(t, open)
	assert.Empty(t, lang)
	assert.Equal(t, "intro\n```go\nfunc a() {}\n```", out[0])
	assert.Equal(t, "```go\nfunc b() {}\n```\noutro", out[1])
}

func TestCloseOpenFences_TrailingOpenBlockReported(t *testing.T) {
	out, lang, open := CloseOpenFences([]string{"```sh\necho hi"})
	assert.True(t, open)
	assert.Equal(t, "sh", lang)
	assert.Equal(t, "```sh\necho hi\n```", out[0])
}

func TestCloseOpenFences_ClosedChunksUntouched(t *testing.T) {
	chunks := []string{"plain text", "```go\nok()\n```\n"}
	out, _, open := CloseOpenFences(chunks)
	assert.False(t, open)
	assert.Equal(t, chunks, out)
}
