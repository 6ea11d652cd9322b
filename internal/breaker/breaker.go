// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package breaker implements the ContentBreaker: pure, stateless logic for
// deciding where a streamed markdown buffer may be safely split into
// separate chat posts without breaking a code block or tripping a
// platform's message-collapse rules.
//
// Every function here is a pure function of its arguments. No function
// in this package performs I/O, blocks, or retains state between calls.
package breaker

import (
	"regexp"
	"strings"
)

// Rendered-height estimate constants. These are calibrated against a
// typical chat client's default font metrics, not any particular
// platform's actual layout engine.
const (
	codeLineHeightPx  = 18
	blockPaddingPx    = 12
	textLineHeightPx  = 20
	headerLineHeightPx = 28
	wrapWidthChars    = 90
)

var fenceRe = regexp.MustCompile("(?m)^```")

// CodeBlockState describes whether a position in content sits inside an
// open fenced code block.
type CodeBlockState struct {
	InsideOpen bool
	Language   string
	OpenPos    int
}

// CodeBlockStateAt scans for ``` markers matching a line-anchored pattern
// up to pos; an odd count of markers before pos means pos is inside a
// block opened by the last marker.
func CodeBlockStateAt(content string, pos int) CodeBlockState {
	if pos > len(content) {
		pos = len(content)
	}
	window := content[:pos]
	locs := fenceRe.FindAllStringIndex(window, -1)
	if len(locs)%2 == 0 {
		return CodeBlockState{}
	}
	open := locs[len(locs)-1]
	lang := ""
	lineEnd := strings.IndexByte(content[open[1]:], '\n')
	if lineEnd < 0 {
		lang = strings.TrimSpace(content[open[1]:])
	} else {
		lang = strings.TrimSpace(content[open[1] : open[1]+lineEnd])
	}
	return CodeBlockState{InsideOpen: true, Language: lang, OpenPos: open[0]}
}

// BreakpointType identifies which rule produced a breakpoint candidate.
type BreakpointType string

const (
	BreakToolMarker   BreakpointType = "tool-marker"
	BreakHeading      BreakpointType = "heading"
	BreakCodeBlockEnd BreakpointType = "code-block-end"
	BreakParagraph    BreakpointType = "paragraph"
	BreakLine         BreakpointType = "line"
)

// Breakpoint is a candidate position to end one post and begin the next.
type Breakpoint struct {
	Position int
	Type     BreakpointType
}

var (
	toolMarkerRe = regexp.MustCompile(`(?m)^  ↳ (✓|❌)[^\n]*$`)
	headingRe    = regexp.MustCompile(`(?m)^(#{2,3}) `)
	paragraphRe  = regexp.MustCompile(`\n\n`)
)

// FindLogicalBreakpoint searches content[startPos:startPos+maxLookAhead]
// for a semantically good split point, in priority order, rejecting any
// candidate that would land inside an open code block.
func FindLogicalBreakpoint(content string, startPos, maxLookAhead int) (Breakpoint, bool) {
	if maxLookAhead <= 0 {
		maxLookAhead = 500
	}
	end := startPos + maxLookAhead
	if end > len(content) {
		end = len(content)
	}
	if startPos > len(content) {
		return Breakpoint{}, false
	}
	window := content[startPos:end]

	state := CodeBlockStateAt(content, startPos)
	if state.InsideOpen {
		idx := strings.Index(window, "```")
		if idx < 0 {
			return Breakpoint{}, false
		}
		closeEnd := startPos + idx + 3
		if closeEnd < len(content) && content[closeEnd] == '\n' {
			closeEnd++
		}
		return Breakpoint{Position: closeEnd, Type: BreakCodeBlockEnd}, true
	}

	if loc := toolMarkerRe.FindStringIndex(window); loc != nil {
		pos := startPos + loc[1]
		if pos < len(content) && content[pos] == '\n' {
			pos++
		}
		if !CodeBlockStateAt(content, pos).InsideOpen {
			return Breakpoint{Position: pos, Type: BreakToolMarker}, true
		}
	}

	if loc := headingRe.FindStringIndex(window); loc != nil {
		pos := startPos + loc[0]
		if pos > startPos && !CodeBlockStateAt(content, pos).InsideOpen {
			return Breakpoint{Position: pos, Type: BreakHeading}, true
		}
	}

	if closePos, ok := earliestCodeBlockEnd(content, startPos, end); ok {
		if !CodeBlockStateAt(content, closePos).InsideOpen {
			return Breakpoint{Position: closePos, Type: BreakCodeBlockEnd}, true
		}
	}

	if loc := paragraphRe.FindStringIndex(window); loc != nil {
		pos := startPos + loc[1]
		if !CodeBlockStateAt(content, pos).InsideOpen {
			return Breakpoint{Position: pos, Type: BreakParagraph}, true
		}
	}

	if idx := strings.IndexByte(window, '\n'); idx >= 0 {
		pos := startPos + idx + 1
		if !CodeBlockStateAt(content, pos).InsideOpen {
			return Breakpoint{Position: pos, Type: BreakLine}, true
		}
	}

	return Breakpoint{}, false
}

// earliestCodeBlockEnd finds the closing ``` of a block that opened
// inside [startPos, end), if any.
func earliestCodeBlockEnd(content string, startPos, end int) (int, bool) {
	locs := fenceRe.FindAllStringIndex(content, -1)
	for i, loc := range locs {
		if loc[0] < startPos || loc[0] >= end {
			continue
		}
		if i%2 != 0 {
			continue
		}
		if i+1 >= len(locs) {
			return 0, false
		}
		closePos := locs[i+1][1]
		if closePos < len(content) && content[closePos] == '\n' {
			closePos++
		}
		return closePos, true
	}
	return 0, false
}

// Limits bundles the configured thresholds ShouldFlushEarly and
// SplitForHeight are evaluated against.
type Limits struct {
	MaxHeightPx         int
	SoftBreakChars      int
	MaxLinesBeforeBreak int
}

// ShouldFlushEarly reports whether content has grown enough that it
// should be flushed to its own post rather than accumulating further.
func ShouldFlushEarly(content string, limits Limits) bool {
	if EstimateRenderedHeight(content) >= limits.MaxHeightPx {
		return true
	}
	if len(content) >= limits.SoftBreakChars {
		return true
	}
	if strings.Count(content, "\n") >= limits.MaxLinesBeforeBreak {
		return true
	}
	return false
}

var (
	blockquoteRe = regexp.MustCompile(`^> `)
	listRe       = regexp.MustCompile(`^([-*+] |\d+\. )`)
	tableRowRe   = regexp.MustCompile(`^\|.*\|$`)
)

// EstimateRenderedHeight returns an integer pixel estimate of how tall
// content would render: fenced blocks count as lines×codeLineHeight plus
// padding; remaining lines are categorized and wrapped at ~90 chars.
func EstimateRenderedHeight(content string) int {
	height := 0
	pos := 0
	for pos < len(content) {
		state := CodeBlockStateAt(content, pos)
		if state.InsideOpen {
			closePos, ok := earliestCodeBlockEnd(content, state.OpenPos, len(content))
			if !ok {
				closePos = len(content)
			}
			block := content[pos:closePos]
			lines := strings.Count(block, "\n")
			if lines == 0 {
				lines = 1
			}
			height += lines*codeLineHeightPx + blockPaddingPx
			pos = closePos
			continue
		}
		nl := strings.IndexByte(content[pos:], '\n')
		var line string
		if nl < 0 {
			line = content[pos:]
			pos = len(content)
		} else {
			line = content[pos : pos+nl]
			pos += nl + 1
		}
		height += estimateLineHeight(line)
	}
	return height
}

func estimateLineHeight(line string) int {
	trimmed := strings.TrimRight(line, "\r")
	switch {
	case trimmed == "":
		return textLineHeightPx / 2
	case headingRe.MatchString(trimmed), strings.HasPrefix(trimmed, "# "):
		return headerLineHeightPx
	case blockquoteRe.MatchString(trimmed), listRe.MatchString(trimmed), tableRowRe.MatchString(trimmed):
		return wrappedHeight(trimmed, textLineHeightPx)
	default:
		return wrappedHeight(trimmed, textLineHeightPx)
	}
}

func wrappedHeight(line string, lineHeight int) int {
	n := len(line)
	wraps := n/wrapWidthChars + 1
	return wraps * lineHeight
}

// SplitForHeight repeatedly splits content at good breakpoints (paragraph,
// code-block-end, heading, tool-marker) while the remainder still
// triggers ShouldFlushEarly, falling back to the whole buffer if no good
// split point exists.
func SplitForHeight(content string, limits Limits) []string {
	if !ShouldFlushEarly(content, limits) {
		return []string{content}
	}
	var chunks []string
	remaining := content
	for ShouldFlushEarly(remaining, limits) {
		bp, ok := goodBreakpoint(remaining, limits)
		if !ok {
			break
		}
		chunks = append(chunks, remaining[:bp.Position])
		remaining = remaining[bp.Position:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	if len(chunks) == 0 {
		return []string{content}
	}
	return chunks
}

// CloseOpenFences rewrites chunks so no chunk ends inside an open code
// block: a fence left open at a chunk boundary is force-closed with a
// trailing ``` and reopened at the start of the next chunk with the
// preserved language. When the final chunk still ends open, the returned
// language and flag let the caller reopen in whatever it emits next.
func CloseOpenFences(chunks []string) (out []string, openLang string, open bool) {
	out = make([]string, len(chunks))
	for i, chunk := range chunks {
		if open {
			chunk = "```" + openLang + "\n" + chunk
		}
		state := CodeBlockStateAt(chunk, len(chunk))
		if state.InsideOpen {
			open = true
			openLang = state.Language
			if !strings.HasSuffix(chunk, "\n") {
				chunk += "\n"
			}
			chunk += "```"
		} else {
			open = false
			openLang = ""
		}
		out[i] = chunk
	}
	return out, openLang, open
}

// goodBreakpoint finds the best split point for SplitForHeight, excluding
// the bare-newline fallback rule which is too aggressive for pre-splitting.
// When the head before that point would itself still flush early, it is
// cut back to its last paragraph break that fits, if one exists outside a
// code block.
func goodBreakpoint(content string, limits Limits) (Breakpoint, bool) {
	bp, ok := FindLogicalBreakpoint(content, 0, len(content))
	if !ok || bp.Type == BreakLine {
		return Breakpoint{}, false
	}
	if bp.Position <= 0 || bp.Position >= len(content) {
		return Breakpoint{}, false
	}
	if ShouldFlushEarly(content[:bp.Position], limits) {
		locs := paragraphRe.FindAllStringIndex(content[:bp.Position], -1)
		for i := len(locs) - 1; i >= 0; i-- {
			p := locs[i][1]
			if !ShouldFlushEarly(content[:p], limits) && !CodeBlockStateAt(content, p).InsideOpen {
				return Breakpoint{Position: p, Type: BreakParagraph}, true
			}
		}
	}
	return bp, true
}
