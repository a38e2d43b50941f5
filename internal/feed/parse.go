package feed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

// Format is the payload shape resolved by content sniffing.
type Format int

const (
	FormatUnknown Format = iota
	FormatRSS
	FormatAtom
	FormatPlain
)

func (f Format) String() string {
	switch f {
	case FormatRSS:
		return "rss"
	case FormatAtom:
		return "atom"
	case FormatPlain:
		return "plain"
	}
	return "unknown"
}

// Result holds the items of one payload.
type Result struct {
	Format  Format
	Items   []Item
	Dropped int // entries without a usable title or link
}

// ParseError reports a payload that could not be parsed at all.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errUnsupportedJSON = errors.New("json feeds are not supported")
	errUnknownXML      = errors.New("xml document is neither rss nor atom")
	errEmpty           = errors.New("empty payload")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detect sniffs the payload. The declared content type is deliberately not
// consulted since many feeds mislabel it.
func Detect(body []byte) Format {
	b := bytes.TrimLeft(bytes.TrimPrefix(body, utf8BOM), " \t\r\n")
	if len(b) == 0 {
		return FormatUnknown
	}

	switch gofeed.DetectFeedType(bytes.NewReader(b)) {
	case gofeed.FeedTypeRSS:
		return FormatRSS
	case gofeed.FeedTypeAtom:
		return FormatAtom
	case gofeed.FeedTypeJSON:
		return FormatUnknown
	}

	if b[0] != '<' || looksLikeHTML(b) {
		return FormatPlain
	}
	return FormatUnknown
}

// Parse normalizes a payload into items. contentType is only used to pick
// a character set for plain listings; sourceURL resolves relative links.
func Parse(body []byte, contentType, sourceURL string) (Result, error) {
	base, _ := url.Parse(sourceURL)
	body = bytes.TrimLeft(bytes.TrimPrefix(body, utf8BOM), " \t\r\n")
	format := Detect(body)

	var (
		items   []Item
		dropped int
		err     error
	)
	switch format {
	case FormatRSS:
		items, dropped, err = parseRSS(body, base)
	case FormatAtom:
		items, dropped, err = parseAtom(body, base)
	case FormatPlain:
		items, dropped, err = parsePlain(body, contentType, base)
	default:
		err = unknownReason(body)
	}
	if err != nil {
		return Result{Format: format}, &ParseError{Format: format, Err: err}
	}
	return Result{Format: format, Items: items, Dropped: dropped}, nil
}

func unknownReason(b []byte) error {
	switch {
	case len(b) == 0:
		return errEmpty
	case b[0] == '{':
		return errUnsupportedJSON
	}
	return errUnknownXML
}

var htmlMarkers = [][]byte{
	[]byte("<!doctype html"), []byte("<html"), []byte("<body"),
	[]byte("<div"), []byte("<ul"), []byte("<table"), []byte("<a "),
}

func looksLikeHTML(b []byte) bool {
	head := bytes.ToLower(b[:min(len(b), 2048)])
	for _, m := range htmlMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}

func parseRSS(body []byte, base *url.URL) ([]Item, int, error) {
	rf, err := (&rss.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	f, err := (&gofeed.DefaultRSSTranslator{}).Translate(rf)
	if err != nil {
		return nil, 0, err
	}
	items, dropped := fromGofeed(f, base)
	return items, dropped, nil
}

func parseAtom(body []byte, base *url.URL) ([]Item, int, error) {
	af, err := (&atom.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	f, err := (&gofeed.DefaultAtomTranslator{}).Translate(af)
	if err != nil {
		return nil, 0, err
	}
	items, dropped := fromGofeed(f, base)
	return items, dropped, nil
}

func fromGofeed(f *gofeed.Feed, base *url.URL) ([]Item, int) {
	items := make([]Item, 0, len(f.Items))
	dropped := 0
	for _, gi := range f.Items {
		if gi == nil {
			dropped++
			continue
		}
		item := Item{
			Title:       cleanTitle(gi.Title),
			Link:        canonicalLink(base, itemLink(gi)),
			PublishedAt: itemPublishedTime(gi),
			Body:        itemBody(gi),
		}
		if item.Title == "" || item.Link == "" {
			dropped++
			continue
		}
		items = append(items, item)
	}
	return items, dropped
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	for _, l := range item.Links {
		if l != "" {
			return l
		}
	}
	// RSS permalinks often only live in the guid.
	return item.GUID
}

func itemPublishedTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return utcPtr(item.PublishedParsed)
	}
	return utcPtr(item.UpdatedParsed)
}

func itemBody(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}
