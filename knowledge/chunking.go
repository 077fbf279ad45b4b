package knowledge

import "strings"

type chunkInput struct {
	Text       string
	TokenCount int
}

// chunker splits text into windows of at most maxChars runes. Each window
// ends on the last sentence or line break in its second half when one exists.
// Consecutive windows share overlap runes.
type chunker struct {
	maxChars int
	minChars int
	overlap  int
}

func newChunker(maxChars, overlap int) *chunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}
	return &chunker{maxChars: maxChars, minChars: maxChars / 2, overlap: overlap}
}

func (c *chunker) split(text string) []chunkInput {
	cleaned := strings.TrimSpace(normalizeNewlines(text))
	if cleaned == "" {
		return nil
	}

	runes := []rune(cleaned)
	total := len(runes)

	segments := make([]chunkInput, 0, (total/c.maxChars)+1)
	start := 0
	for start < total {
		end := start + c.maxChars
		if end >= total {
			end = total
		} else if preferred := findBoundary(runes, start+c.minChars, end); preferred > start+c.minChars {
			end = preferred
		}

		if chunkText := strings.TrimSpace(string(runes[start:end])); chunkText != "" {
			segments = append(segments, chunkInput{
				Text:       chunkText,
				TokenCount: estimateTokenCount(chunkText),
			})
		}
		if end == total {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return segments
}

func normalizeNewlines(value string) string {
	if value == "" {
		return ""
	}
	replaced := strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(replaced, "\r", "\n")
}

var boundaryRunes = map[rune]struct{}{
	'\n': {}, '.': {}, '!': {}, '?': {}, '。': {}, '！': {}, '？': {},
}

func findBoundary(runes []rune, min int, max int) int {
	if min < 0 {
		min = 0
	}
	if max > len(runes) {
		max = len(runes)
	}
	if max <= min {
		return min
	}
	for i := max - 1; i >= min; i-- {
		if _, ok := boundaryRunes[runes[i]]; ok {
			return i + 1
		}
	}
	return max
}

// estimateTokenCount is a rough word plus character heuristic.
func estimateTokenCount(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	wordCount := len(strings.Fields(trimmed))
	runeCount := len([]rune(trimmed))
	if estimate := wordCount + runeCount/3; estimate > 0 {
		return estimate
	}
	return runeCount/2 + 1
}
