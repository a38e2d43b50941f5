// Package digest assembles and renders the per-run digest.
package digest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Digest is the artifact returned to callers. It is never persisted by the
// pipeline itself.
type Digest struct {
	GeneratedAt time.Time `json:"generatedAt"`
	WindowStart time.Time `json:"windowStart"`
	Feeds       []Feed    `json:"feeds"`
}

// Feed is one source and its new items.
type Feed struct {
	Source Source `json:"source"`
	Items  []Item `json:"items"`
}

// Source is the public part of a catalogue entry.
type Source struct {
	ID    string   `json:"-"`
	Title string   `json:"title"`
	URL   string   `json:"url"`
	Tags  []string `json:"tags"`
}

// Item is a summarized feed item.
type Item struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Assemble builds a digest from per-source groups given in catalogue order.
// Groups without items are omitted; item order is kept as given.
func Assemble(generatedAt, windowStart time.Time, groups []Feed) Digest {
	d := Digest{
		GeneratedAt: generatedAt.UTC(),
		WindowStart: windowStart.UTC(),
		Feeds:       make([]Feed, 0, len(groups)),
	}
	for _, g := range groups {
		if len(g.Items) == 0 {
			continue
		}
		src := g.Source
		src.Tags = append(make([]string, 0, len(src.Tags)), src.Tags...)
		d.Feeds = append(d.Feeds, Feed{
			Source: src,
			Items:  append([]Item(nil), g.Items...),
		})
	}
	return d
}

// ItemCount returns the number of items across all feeds.
func (d Digest) ItemCount() int {
	n := 0
	for _, f := range d.Feeds {
		n += len(f.Items)
	}
	return n
}

// isoLayout matches JavaScript's Date.prototype.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

type isoTime time.Time

func (t isoTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(isoLayout) + `"`), nil
}

type wireItem struct {
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Summary     string   `json:"summary"`
	PublishedAt *isoTime `json:"publishedAt,omitempty"`
}

type wireFeed struct {
	Source Source     `json:"source"`
	Items  []wireItem `json:"items"`
}

type wireDigest struct {
	GeneratedAt isoTime    `json:"generatedAt"`
	WindowStart isoTime    `json:"windowStart"`
	Feeds       []wireFeed `json:"feeds"`
}

// MarshalJSON writes the stable wire shape: ISO 8601 UTC timestamps with
// millisecond precision, and empty arrays rather than null.
func (d Digest) MarshalJSON() ([]byte, error) {
	out := wireDigest{
		GeneratedAt: isoTime(d.GeneratedAt),
		WindowStart: isoTime(d.WindowStart),
		Feeds:       make([]wireFeed, 0, len(d.Feeds)),
	}
	for _, f := range d.Feeds {
		wf := wireFeed{Source: f.Source, Items: make([]wireItem, 0, len(f.Items))}
		if wf.Source.Tags == nil {
			wf.Source.Tags = []string{}
		}
		for _, it := range f.Items {
			wi := wireItem{Title: it.Title, Link: it.Link, Summary: it.Summary}
			if it.PublishedAt != nil {
				p := isoTime(*it.PublishedAt)
				wi.PublishedAt = &p
			}
			wf.Items = append(wf.Items, wi)
		}
		out.Feeds = append(out.Feeds, wf)
	}
	return json.Marshal(out)
}

// Formatter writes a rendered digest to w.
type Formatter interface {
	Format(w io.Writer, d Digest) error
}

// Output formats.
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// NewFormatter returns the formatter for name. Times are shown in loc;
// nil means UTC. color only affects the terminal format.
func NewFormatter(name string, color bool, loc *time.Location) (Formatter, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch strings.ToLower(name) {
	case "", FormatTerminal:
		return NewTerminal(color, loc), nil
	case FormatJSON:
		return NewJSON(), nil
	case FormatMarkdown, "md":
		return NewMarkdown(loc), nil
	}
	return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", name)
}

const displayLayout = "2006-01-02 15:04 MST"
