package extraction

import (
	"regexp"
	"strings"
)

// chunkSlack is the default overshoot allowed past target before the
// splitter is forced to scan backward for a date boundary.
const chunkSlack = 500

// chunkBoundaryMinFraction is the minimum distance from the window start
// (as a fraction of target) at which a date boundary may be cut — a
// boundary closer to the start would produce a chunk too small to carry
// context.
const chunkBoundaryMinFraction = 0.7

// dateLineStart matches a year-month-day date at the very start of a line,
// using '.', '-', or '/' as the separator (§4.7).
var dateLineStart = regexp.MustCompile(`^\d{4}[./-]\d{1,2}[./-]\d{1,2}`)

// Split implements ChunkSplitter (C7): split(text, target) -> []Chunk.
func Split(text string, target int) []Chunk {
	merged := mergeLines(text)
	merged = strings.TrimSpace(merged)
	if merged == "" {
		return nil
	}
	if len(merged) <= target {
		return []Chunk{{Index: 0, Text: merged}}
	}

	var chunks []Chunk
	pos := 0
	idx := 0
	minBack := int(chunkBoundaryMinFraction * float64(target))

	for pos < len(merged) {
		remaining := merged[pos:]
		if len(remaining) <= target {
			appendChunk(&chunks, &idx, remaining)
			break
		}

		windowEnd := target + chunkSlack
		if windowEnd > len(remaining) {
			windowEnd = len(remaining)
		}

		cut := findDateBoundaryBackward(remaining, windowEnd, minBack)
		if cut <= 0 {
			cut = target
		}
		appendChunk(&chunks, &idx, remaining[:cut])
		pos += cut
	}

	return chunks
}

func appendChunk(chunks *[]Chunk, idx *int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	*chunks = append(*chunks, Chunk{Index: *idx, Text: text})
	*idx++
}

// findDateBoundaryBackward scans remaining backward starting at byte offset
// from, looking for the start of a line matching dateLineStart, and
// returns the first such offset found that is not earlier than minBack.
// Returns -1 if no boundary qualifies.
func findDateBoundaryBackward(remaining string, from, minBack int) int {
	if from > len(remaining) {
		from = len(remaining)
	}
	for i := from; i >= minBack; i-- {
		if i == 0 || remaining[i-1] == '\n' {
			if dateLineStart.MatchString(remaining[i:]) {
				return i
			}
		}
	}
	return -1
}

// mergeLines collapses OCR row-wrapping: a line that does not start with a
// date is concatenated onto the previous non-empty line with a single
// space, since one transaction can span several visual lines.
func mergeLines(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if dateLineStart.MatchString(trimmed) || len(out) == 0 {
			out = append(out, trimmed)
			continue
		}
		out[len(out)-1] = out[len(out)-1] + " " + trimmed
	}
	return strings.Join(out, "\n")
}
