// Package feed normalizes RSS, Atom, and plain listings into items.
package feed

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Item is one entry parsed from a source.
type Item struct {
	Title       string
	Link        string     // canonical link, the item's identity within a source
	PublishedAt *time.Time // nil when the entry carries no usable date
	Body        string     // raw excerpt or content, possibly with markup
}

// cleanTitle collapses whitespace and applies NFC so visually equal titles
// compare equal.
func cleanTitle(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// canonicalLink resolves ref against base and drops the fragment. It
// returns "" for anything that is not an absolute http(s) URL.
func canonicalLink(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
