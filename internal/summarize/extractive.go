package summarize

import (
	"context"
	"strings"
	"unicode"
)

const ellipsis = "…"

// Extractive trims and cleans the existing text.
type Extractive struct {
	MaxChars int // 0 means DefaultMaxChars
}

// Summarize never returns an error. The result is empty only when text
// carries no words.
func (e *Extractive) Summarize(_ context.Context, text string) (string, error) {
	limit := DefaultMaxChars
	if e != nil && e.MaxChars > 0 {
		limit = e.MaxChars
	}
	return Truncate(Clean(text), limit), nil
}

// Truncate shortens s to at most limit runes. It prefers ending on a sentence
// boundary in the second half of the budget, then on a word boundary with
// an ellipsis.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit < 2 {
		return string(r[:limit])
	}

	for i := limit - 1; i >= limit/2; i-- {
		if isSentenceEnd(r[i]) && unicode.IsSpace(r[i+1]) {
			return string(r[:i+1])
		}
	}

	cut := r[:limit-1]
	for i := len(cut) - 1; i > limit/2; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRight(string(cut), " ,;:-–—") + ellipsis
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。':
		return true
	}
	return false
}
