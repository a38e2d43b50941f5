// Package summarize produces short synopses of feed items.
//
// Extractive is the deterministic strategy that never fails. LLM asks an
// OpenAI-compatible chat completion endpoint for an abstractive summary.
// Chain layers a primary strategy over the extractive fallback so that a
// usable summary is always returned.
package summarize

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxChars bounds summary length, counted in runes.
const DefaultMaxChars = 280

// Summarizer produces a synopsis of text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Text returns the cleaned input for an item: its body, or its title when
// the body carries no text.
func Text(title, body string) string {
	if t := Clean(body); t != "" {
		return t
	}
	return Clean(title)
}

const blockElements = "p, br, li, div, tr, td, h1, h2, h3, h4, h5, h6, blockquote"

// Clean strips markup, applies NFC, and collapses whitespace.
func Clean(text string) string {
	if strings.ContainsAny(text, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style, noscript").Remove()
			// Keep words in adjacent blocks apart once tags are gone.
			doc.Find(blockElements).AfterHtml(" ")
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}
