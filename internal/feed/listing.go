package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"
)

// Entry containers tried on a listing page. The one yielding the most items
// wins; ties go to the earlier selector.
var listingSelectors = []string{"article", "li", "tr", "h2, h3"}

var (
	lineURLRe    = regexp.MustCompile(`https?://[^\s<>"]+`)
	titleTrimSet = " \t-–—|:•*>"
)

func parsePlain(body []byte, contentType string, base *url.URL) ([]Item, int, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, 0, fmt.Errorf("decode charset: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode charset: %w", err)
	}

	data = bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if len(data) > 0 && data[0] == '<' {
		return parseHTMLListing(data, base)
	}
	items, dropped := parseTextListing(data, base)
	return items, dropped, nil
}

func parseHTMLListing(data []byte, base *url.URL) ([]Item, int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if u, err := url.Parse(href); err == nil {
			base = base.ResolveReference(u)
		}
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var (
		best        []Item
		bestDropped int
	)
	for _, sel := range listingSelectors {
		var (
			items   []Item
			dropped int
		)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			item, ok := listingEntry(s, base)
			if !ok {
				dropped++
				return
			}
			items = append(items, item)
		})
		if len(items) > len(best) {
			best, bestDropped = items, dropped
		}
	}
	if len(best) > 0 {
		return best, bestDropped, nil
	}

	// No structured entries: fall back to every anchor on the page.
	var (
		items   []Item
		dropped int
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		item := Item{
			Title: anchorTitle(a),
			Link:  canonicalLink(base, href),
		}
		if item.Title == "" || item.Link == "" {
			dropped++
			return
		}
		items = append(items, item)
	})
	return items, dropped, nil
}

func listingEntry(s *goquery.Selection, base *url.URL) (Item, bool) {
	anchor := s.Find("h1 a[href], h2 a[href], h3 a[href], h4 a[href]").First()
	if anchor.Length() == 0 {
		if goquery.NodeName(s) == "a" {
			anchor = s
		} else {
			anchor = s.Find("a[href]").First()
		}
	}
	if anchor.Length() == 0 {
		return Item{}, false
	}

	href, _ := anchor.Attr("href")
	item := Item{
		Title: anchorTitle(anchor),
		Link:  canonicalLink(base, href),
	}
	if item.Title == "" || item.Link == "" {
		return Item{}, false
	}

	if t := s.Find("time").First(); t.Length() > 0 {
		value, ok := t.Attr("datetime")
		if !ok || strings.TrimSpace(value) == "" {
			value = t.Text()
		}
		item.PublishedAt = parseDate(value)
	}
	if p := s.Find("p").First(); p.Length() > 0 {
		item.Body = strings.TrimSpace(p.Text())
	}
	return item, true
}

func anchorTitle(a *goquery.Selection) string {
	if title := cleanTitle(a.Text()); title != "" {
		return title
	}
	title, _ := a.Attr("title")
	return cleanTitle(title)
}

// parseTextListing reads one entry per line: a URL plus surrounding text
// used as the title. Lines without a URL are headings and are skipped.
func parseTextListing(data []byte, base *url.URL) ([]Item, int) {
	var (
		items   []Item
		dropped int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		loc := lineURLRe.FindStringIndex(line)
		if loc == nil {
			continue
		}
		rawURL := line[loc[0]:loc[1]]
		rest := strings.Trim(line[:loc[0]]+" "+line[loc[1]:], titleTrimSet)

		item := Item{
			Title: cleanTitle(rest),
			Link:  canonicalLink(base, rawURL),
		}
		if item.Title == "" || item.Link == "" {
			dropped++
			continue
		}
		items = append(items, item)
	}
	return items, dropped
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := dateparse.ParseAny(value)
	if err != nil {
		return nil
	}
	return utcPtr(&t)
}
