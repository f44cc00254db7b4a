package chunker

import (
	"regexp"
	"strings"
)

// Defaults match the ingestion pipeline's tuning
const (
	DefaultChunkSize = 4096
	DefaultOverlap   = 256

	// Lines shorter than this average are still budgeted as if they
	// carried typical code density when deriving the overlap in lines
	assumedLineWidth = 80

	// Chunks below this many lines are folded into their predecessor
	minChunkLines = 4
)

// Config tunes the splitter
type Config struct {
	ChunkSize int // target chunk size in bytes
	Overlap   int // desired overlap between consecutive chunks in bytes
}

// DefaultConfig returns the standard chunking parameters
func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Chunk is one bounded segment of a file with 1-based inclusive line range
type Chunk struct {
	Content   string
	StartLine int
	EndLine   int
}

var declPattern = regexp.MustCompile(`^(class|function|interface|type|const|let|var)`)

// isBreakLine reports whether a line is a good place to end a chunk:
// blank lines, closing braces and declaration starts
func isBreakLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == "}" {
		return true
	}
	if strings.HasSuffix(trimmed, "};") {
		return true
	}
	return declPattern.MatchString(trimmed)
}

// Split divides normalized content into bounded, overlapping chunks.
// Boundaries prefer structural break lines found within the size
// budget; consecutive chunks share overlap lines so context is not cut
// mid-thought. Tail fragments below the minimum line count are merged
// into the preceding chunk, so concatenating the chunks' line ranges
// (skipping overlapped lines) always reproduces the input lines.
func Split(content string, cfg Config) []Chunk {
	if content == "" {
		return nil
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}

	lines := strings.Split(content, "\n")

	if len(content) <= cfg.ChunkSize {
		return []Chunk{{
			Content:   content,
			StartLine: 1,
			EndLine:   len(lines),
		}}
	}

	overlapLines := (cfg.Overlap + assumedLineWidth - 1) / assumedLineWidth

	var chunks []Chunk
	position := 0

	for position < len(lines) {
		end := position
		size := 0
		breakPoint := -1

		for end < len(lines) && size < cfg.ChunkSize {
			size += len(lines[end]) + 1
			if size <= cfg.ChunkSize && isBreakLine(lines[end]) {
				breakPoint = end
			}
			end++
		}

		// No break line within budget, or the remainder fit entirely:
		// take everything scanned
		if breakPoint == -1 || size <= cfg.ChunkSize {
			breakPoint = end - 1
		}

		chunkLines := lines[position : breakPoint+1]
		chunkContent := strings.Join(chunkLines, "\n")

		if strings.TrimSpace(chunkContent) == "" || len(chunkLines) < minChunkLines {
			if len(chunks) > 0 {
				// Fold the fragment into the previous chunk so no line
				// range is lost
				prev := &chunks[len(chunks)-1]
				extendFrom := prev.EndLine // 1-based, lines[prev.EndLine] is the next unseen line
				if breakPoint+1 > extendFrom {
					prev.Content += "\n" + strings.Join(lines[extendFrom:breakPoint+1], "\n")
					prev.EndLine = breakPoint + 1
				}
			} else {
				chunks = append(chunks, Chunk{
					Content:   chunkContent,
					StartLine: position + 1,
					EndLine:   breakPoint + 1,
				})
			}
		} else {
			chunks = append(chunks, Chunk{
				Content:   chunkContent,
				StartLine: position + 1,
				EndLine:   breakPoint + 1,
			})
		}

		next := breakPoint + 1 - overlapLines
		if next <= position {
			next = position + 1
		}
		// Past the last chunk boundary there is nothing left to overlap
		if breakPoint+1 >= len(lines) {
			break
		}
		position = next
	}

	return chunks
}
