package chunker

import "strings"

// LineSpan records where a normalized line lived in the original bytes
type LineSpan struct {
	Start int // byte offset of the line's first character
	End   int // byte offset just past the line's last character, before the line ending
}

// Normalized is content with all line endings folded to LF plus a map
// back to original byte offsets, so chunk boundaries can be reported
// against the file as fetched
type Normalized struct {
	Content    string
	TotalLines int
	LineMap    []LineSpan // index 0 is line 1
}

// Normalize folds CRLF, CR and LF line endings to LF
func Normalize(content string) Normalized {
	var sb strings.Builder
	sb.Grow(len(content))

	var lineMap []LineSpan
	lastIndex := 0

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if ch != '\r' && ch != '\n' {
			continue
		}
		lineMap = append(lineMap, LineSpan{Start: lastIndex, End: i})
		sb.WriteString(content[lastIndex:i])
		sb.WriteByte('\n')
		if ch == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			i++
		}
		lastIndex = i + 1
	}

	if lastIndex < len(content) {
		lineMap = append(lineMap, LineSpan{Start: lastIndex, End: len(content)})
		sb.WriteString(content[lastIndex:])
	}

	return Normalized{
		Content:    sb.String(),
		TotalLines: len(lineMap),
		LineMap:    lineMap,
	}
}

// Span returns the original byte span of a 1-based line number
func (n Normalized) Span(line int) (LineSpan, bool) {
	if line < 1 || line > len(n.LineMap) {
		return LineSpan{}, false
	}
	return n.LineMap[line-1], true
}
