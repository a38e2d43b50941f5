// Package privacy scrubs text before it leaves the process.
package privacy

import (
	"fmt"
	"regexp"
)

const placeholder = "[REDACTED]"

// DefaultPatterns match contact details and credentials that listings
// sometimes embed in excerpts.
var DefaultPatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`,
	`\bsk-[A-Za-z0-9_-]{16,}`,
	`\+?\d[\d .-]{9,}\d`,
}

// Redactor replaces pattern matches with a placeholder. A nil Redactor
// returns text unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns into a Redactor.
func New(patterns []string) (*Redactor, error) {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact applies every pattern in order.
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, placeholder)
	}
	return text
}

// Len returns the number of compiled patterns.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}
