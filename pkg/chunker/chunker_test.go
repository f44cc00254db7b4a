package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLineEndings(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
		lines    int
	}{
		{"lf only", "a\nb\nc", "a\nb\nc", 3},
		{"crlf", "a\r\nb\r\nc", "a\nb\nc", 3},
		{"cr only", "a\rb\rc", "a\nb\nc", 3},
		{"mixed", "a\r\nb\rc\nd", "a\nb\nc\nd", 4},
		{"trailing newline", "a\nb\n", "a\nb\n", 2},
		{"empty", "", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Normalize(tc.input)
			assert.Equal(t, tc.expected, n.Content)
			assert.Equal(t, tc.lines, n.TotalLines)
		})
	}
}

func TestNormalizeLineMapOffsets(t *testing.T) {
	n := Normalize("ab\r\ncd\refg")

	span, ok := n.Span(1)
	require.True(t, ok)
	assert.Equal(t, 0, span.Start)
	assert.Equal(t, 2, span.End)

	span, ok = n.Span(2)
	require.True(t, ok)
	assert.Equal(t, 4, span.Start)
	assert.Equal(t, 6, span.End)

	span, ok = n.Span(3)
	require.True(t, ok)
	assert.Equal(t, 7, span.Start)
	assert.Equal(t, 10, span.End)

	_, ok = n.Span(0)
	assert.False(t, ok)
	_, ok = n.Span(4)
	assert.False(t, ok)
}

func TestSplitSmallFileSingleChunk(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	chunks := Split(content, DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 4, chunks[0].EndLine)
}

func TestSplitEmptyContent(t *testing.T) {
	assert.Nil(t, Split("", DefaultConfig()))
}

func buildSource(blocks int) string {
	var sb strings.Builder
	for i := 0; i < blocks; i++ {
		sb.WriteString(fmt.Sprintf("function handler%d(req, res) {\n", i))
		for j := 0; j < 10; j++ {
			sb.WriteString(fmt.Sprintf("  const value%d = compute(%d); // some processing logic here\n", j, j))
		}
		sb.WriteString("}\n\n")
	}
	return sb.String()
}

func TestSplitBreaksAtStructuralBoundaries(t *testing.T) {
	content := buildSource(40)
	require.Greater(t, len(content), DefaultChunkSize)

	chunks := Split(content, DefaultConfig())
	require.Greater(t, len(chunks), 1)

	lines := strings.Split(content, "\n")
	for i, chunk := range chunks[:len(chunks)-1] {
		lastLine := strings.TrimSpace(lines[chunk.EndLine-1])
		ok := lastLine == "" || lastLine == "}" || strings.HasSuffix(lastLine, "};") ||
			declPattern.MatchString(lastLine)
		assert.True(t, ok, "chunk %d ends at line %d (%q), not a structural boundary", i, chunk.EndLine, lastLine)
	}
}

func TestSplitRespectsSizeBudget(t *testing.T) {
	content := buildSource(60)
	cfg := DefaultConfig()
	chunks := Split(content, cfg)

	for i, chunk := range chunks {
		// Allow slack for merged tail fragments on the final chunk
		if i < len(chunks)-1 {
			assert.LessOrEqual(t, len(chunk.Content), cfg.ChunkSize+cfg.ChunkSize/4,
				"chunk %d blew the size budget", i)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	content := buildSource(40)
	chunks := Split(content, DefaultConfig())
	require.Greater(t, len(chunks), 1)

	overlapLines := (DefaultOverlap + assumedLineWidth - 1) / assumedLineWidth
	for i := 1; i < len(chunks); i++ {
		gap := chunks[i].StartLine - chunks[i-1].EndLine
		assert.LessOrEqual(t, gap, 1, "chunks %d and %d leave a gap", i-1, i)
		overlap := chunks[i-1].EndLine - chunks[i].StartLine + 1
		assert.LessOrEqual(t, overlap, overlapLines+1, "chunks %d and %d overlap too much", i-1, i)
	}
}

// Reassembling chunk line ranges, skipping lines already covered,
// must reproduce the input exactly.
func TestSplitRoundTrip(t *testing.T) {
	inputs := []string{
		buildSource(40),
		buildSource(7),
		strings.Repeat("x", 5000) + "\n" + buildSource(20),
		"short\nfile\n",
	}

	for n, content := range inputs {
		chunks := Split(content, DefaultConfig())
		require.NotEmpty(t, chunks, "input %d", n)

		lines := strings.Split(content, "\n")
		covered := 0 // highest 1-based line already reassembled
		var out []string
		for _, chunk := range chunks {
			start := chunk.StartLine
			if covered >= start {
				start = covered + 1
			}
			for line := start; line <= chunk.EndLine; line++ {
				out = append(out, lines[line-1])
			}
			if chunk.EndLine > covered {
				covered = chunk.EndLine
			}
		}
		assert.Equal(t, len(lines), covered, "input %d: not all lines covered", n)
		assert.Equal(t, content, strings.Join(out, "\n"), "input %d: round trip mismatch", n)
	}
}

func TestSplitForwardProgressOnLongLines(t *testing.T) {
	// Single enormous line far beyond the budget still terminates and
	// yields a covering chunk set
	content := strings.Repeat("y", 3*DefaultChunkSize) + "\nend\n"
	chunks := Split(content, DefaultConfig())
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(strings.Split(content, "\n")), last.EndLine)
}

func TestSplitChunkContentMatchesLineRange(t *testing.T) {
	content := buildSource(40)
	chunks := Split(content, DefaultConfig())
	lines := strings.Split(content, "\n")

	for i, chunk := range chunks {
		expected := strings.Join(lines[chunk.StartLine-1:chunk.EndLine], "\n")
		assert.Equal(t, expected, chunk.Content, "chunk %d content does not match its line range", i)
	}
}
