// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package child

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type editInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

type writeInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// enrichEditBlock adds a rendered fenced diff to an Edit tool_use block, for
// formatToolUse's detailed-mode rendering. workDir resolves relative paths.
func enrichEditBlock(block *ContentBlock, workDir string) {
	if block.Type != "tool_use" || block.Name != "Edit" {
		return
	}
	if len(block.Input) == 0 {
		return
	}
	var input editInput
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return
	}
	block.Diff = generateEditDiff(workDir, input, 10)
}

// enrichWriteBlock adds a rendered fenced diff to a Write tool_use block.
func enrichWriteBlock(block *ContentBlock, workDir string) {
	if block.Type != "tool_use" || block.Name != "Write" {
		return
	}
	if len(block.Input) == 0 {
		return
	}
	var input writeInput
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return
	}
	block.Diff = generateWriteDiff(workDir, input, 10)
}

// resolvePath resolves a file path relative to workDir, handling ~/ prefix.
func resolvePath(filePath, workDir string) string {
	if strings.HasPrefix(filePath, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, filePath[2:])
		}
	} else if !filepath.IsAbs(filePath) {
		return filepath.Join(workDir, filePath)
	}
	return filePath
}

// isBinaryData checks if data contains null bytes in the first 8KB.
func isBinaryData(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

const (
	maxDiffSourceBytes = 1 << 20 // 1MB file read cap
	maxDiffOutputBytes = 50 * 1024
)

// generateEditDiff reads the file before the edit and renders a fenced
// unified-style diff, truncated to maxLines on each side of the change.
func generateEditDiff(workDir string, input editInput, maxLines int) string {
	path := resolvePath(input.FilePath, workDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if int64(len(data)) > maxDiffSourceBytes || isBinaryData(data) {
		return fmt.Sprintf("```\n(diff omitted: %s is too large or binary)\n```", filepath.Base(path))
	}
	content := string(data)
	count := strings.Count(content, input.OldString)
	if count == 0 {
		return ""
	}
	var updated string
	if input.ReplaceAll {
		updated = strings.ReplaceAll(content, input.OldString, input.NewString)
	} else {
		updated = strings.Replace(content, input.OldString, input.NewString, 1)
	}
	edits := computeLineDiff(strings.Split(content, "\n"), strings.Split(updated, "\n"))
	return renderFencedDiff(edits, maxLines)
}

// generateWriteDiff renders the diff for a Write tool_use: either a
// new-file preview or a full diff against the existing file.
func generateWriteDiff(workDir string, input writeInput, maxLines int) string {
	path := resolvePath(input.FilePath, workDir)
	existing, err := os.ReadFile(path)
	if err != nil {
		return truncatedPreview(input.Content, maxLines)
	}
	if isBinaryData(existing) || int64(len(existing)) > maxDiffSourceBytes {
		return truncatedPreview(input.Content, maxLines)
	}
	edits := computeLineDiff(strings.Split(string(existing), "\n"), strings.Split(input.Content, "\n"))
	return renderFencedDiff(edits, maxLines)
}

func truncatedPreview(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	truncated := len(lines) > maxLines*2
	if truncated {
		lines = lines[:maxLines*2]
	}
	var b strings.Builder
	b.WriteString("```\n")
	for _, l := range lines {
		b.WriteString("+")
		b.WriteString(l)
		b.WriteString("\n")
	}
	if truncated {
		b.WriteString("... (truncated)\n")
	}
	b.WriteString("```")
	return b.String()
}

type diffOp int

const (
	diffKeep diffOp = iota
	diffDelete
	diffInsert
)

// diffLine is one line in an LCS-based diff result.
type diffLine struct {
	Op      diffOp
	OldLine int
	NewLine int
	Text    string
}

// computeLineDiff computes an LCS-based diff between old and new lines.
func computeLineDiff(oldLines, newLines []string) []diffLine {
	m := len(oldLines)
	n := len(newLines)

	dp := make([][]int, m+1)
	for i := 0; i <= m; i++ {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if oldLines[i-1] == newLines[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	var result []diffLine
	i, j := m, n
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && oldLines[i-1] == newLines[j-1] {
			result = append(result, diffLine{Op: diffKeep, OldLine: i, NewLine: j, Text: oldLines[i-1]})
			i--
			j--
		} else if j > 0 && (i == 0 || dp[i][j-1] >= dp[i-1][j]) {
			result = append(result, diffLine{Op: diffInsert, NewLine: j, Text: newLines[j-1]})
			j--
		} else {
			result = append(result, diffLine{Op: diffDelete, OldLine: i, Text: oldLines[i-1]})
			i--
		}
	}

	for left, right := 0, len(result)-1; left < right; left, right = left+1, right-1 {
		result[left], result[right] = result[right], result[left]
	}
	return result
}

// renderFencedDiff renders edits as a fenced +/- diff, keeping at most
// maxLines of context on each side of every changed run.
func renderFencedDiff(edits []diffLine, maxLines int) string {
	var b strings.Builder
	b.WriteString("```diff\n")

	changedStart := -1
	changedEnd := -1
	for i, e := range edits {
		if e.Op != diffKeep {
			if changedStart == -1 {
				changedStart = i
			}
			changedEnd = i
		}
	}
	if changedStart == -1 {
		b.WriteString("(no changes)\n```")
		return b.String()
	}

	start := changedStart - maxLines
	if start < 0 {
		start = 0
	}
	end := changedEnd + maxLines
	if end >= len(edits) {
		end = len(edits) - 1
	}

	for i := start; i <= end; i++ {
		e := edits[i]
		switch e.Op {
		case diffKeep:
			b.WriteString(" " + e.Text + "\n")
		case diffDelete:
			b.WriteString("-" + e.Text + "\n")
		case diffInsert:
			b.WriteString("+" + e.Text + "\n")
		}
		if b.Len() > maxDiffOutputBytes {
			b.WriteString("... (truncated)\n")
			break
		}
	}
	b.WriteString("```")
	return b.String()
}
