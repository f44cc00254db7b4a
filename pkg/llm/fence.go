package llm

import "strings"

// StripMarkdownCodeFence removes a wrapping ```json ... ``` fence that
// some models add around JSON output despite instructions not to
func StripMarkdownCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}

	// Drop the opening fence line (``` or ```json etc.)
	lines = lines[1:]

	// Drop the closing fence if present
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "```" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
