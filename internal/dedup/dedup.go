// Package dedup removes items already reported for a source.
package dedup

import "github.com/ppiankov/feeddigest/internal/feed"

// Set is the collection of links already emitted for one source.
type Set map[string]struct{}

// NewSet builds a set from links.
func NewSet(links ...string) Set {
	s := make(Set, len(links))
	for _, l := range links {
		s[l] = struct{}{}
	}
	return s
}

// Has reports whether link is in the set. A nil set contains nothing.
func (s Set) Has(link string) bool {
	_, ok := s[link]
	return ok
}

// Filter returns the items whose link is not in seen, collapsing repeated
// links within items so that only the first occurrence survives. Neither
// seen nor items is modified.
func Filter(seen Set, items []feed.Item) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	batch := make(map[string]struct{}, len(items))
	for _, it := range items {
		if seen.Has(it.Link) {
			continue
		}
		if _, dup := batch[it.Link]; dup {
			continue
		}
		batch[it.Link] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Links returns the links of items in order.
func Links(items []feed.Item) []string {
	links := make([]string, len(items))
	for i, it := range items {
		links[i] = it.Link
	}
	return links
}
