package feed

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Education Weekly</title>
  <link>https://edu.example.com/</link>
  <item>
    <title>  AI tutors   in class </title>
    <link>https://edu.example.com/ai-tutors</link>
    <description>&lt;p&gt;Schools test &lt;b&gt;AI&lt;/b&gt; tutors.&lt;/p&gt;</description>
    <pubDate>Tue, 13 Oct 2026 08:00:00 +0000</pubDate>
  </item>
  <item>
    <link>https://edu.example.com/untitled</link>
  </item>
  <item>
    <title>Guid only</title>
    <guid isPermaLink="true">https://edu.example.com/guid-only</guid>
  </item>
  <item>
    <title>Relative</title>
    <link>/relative#comments</link>
    <pubDate>not a date</pubDate>
  </item>
  <item>
    <title>Opaque guid</title>
    <guid isPermaLink="false">tag:edu.example.com,2026:42</guid>
  </item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Research</title>
  <entry>
    <title>Paper one</title>
    <link href="https://research.example.org/p1"/>
    <updated>2026-10-14T10:30:00Z</updated>
    <summary>A study of generative models in schools.</summary>
  </entry>
  <entry>
    <title>Paper two</title>
    <link href="https://research.example.org/p2"/>
    <published>2026-10-15T06:00:00+02:00</published>
    <updated>2026-10-16T00:00:00Z</updated>
    <content type="html">&lt;p&gt;Full text&lt;/p&gt;</content>
  </entry>
</feed>`

const sampleHTML = `<!DOCTYPE html>
<html><head><base href="https://inst.example.org/news/"></head>
<body>
<nav><ul><li><a href="/home">Home</a></li></ul></nav>
<article>
  <h2><a href="item-1.html">First report</a></h2>
  <time datetime="2026-10-12T09:00:00Z">12 October</time>
  <p>Summary one.</p>
</article>
<article>
  <h2><a href="https://inst.example.org/news/item-2.html#top">Second   report</a></h2>
  <p>Summary two.</p>
</article>
<article><p>No link here</p></article>
</body></html>`

const sampleText = `Publications
Rapport annuel - https://ministry.example.fr/rapport.pdf
https://ministry.example.fr/no-title
* Guide enseignants | https://ministry.example.fr/guide
`

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Format
	}{
		{"rss", sampleRSS, FormatRSS},
		{"atom", sampleAtom, FormatAtom},
		{"rdf", `<?xml version="1.0"?><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/"></rdf:RDF>`, FormatRSS},
		{"bom rss", "\xEF\xBB\xBF" + sampleRSS, FormatRSS},
		{"html", sampleHTML, FormatPlain},
		{"text", sampleText, FormatPlain},
		{"json", `{"version":"https://jsonfeed.org/version/1.1","items":[]}`, FormatUnknown},
		{"unknown xml", `<?xml version="1.0"?><catalog><book/></catalog>`, FormatUnknown},
		{"empty", "   ", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect([]byte(tt.body)); got != tt.want {
				t.Errorf("Detect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_RSS(t *testing.T) {
	// Declared as HTML on purpose: detection must ignore the header.
	res, err := Parse([]byte(sampleRSS), "text/html", "https://edu.example.com/feed.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Format != FormatRSS {
		t.Errorf("format = %v", res.Format)
	}
	if res.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", res.Dropped)
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3: %+v", len(res.Items), res.Items)
	}

	first := res.Items[0]
	if first.Title != "AI tutors in class" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Link != "https://edu.example.com/ai-tutors" {
		t.Errorf("link = %q", first.Link)
	}
	want := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC)
	if first.PublishedAt == nil || !first.PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", first.PublishedAt, want)
	}
	if first.Body == "" {
		t.Error("expected description as body")
	}

	if res.Items[1].Link != "https://edu.example.com/guid-only" {
		t.Errorf("guid link = %q", res.Items[1].Link)
	}

	rel := res.Items[2]
	if rel.Link != "https://edu.example.com/relative" {
		t.Errorf("relative link = %q", rel.Link)
	}
	if rel.PublishedAt != nil {
		t.Errorf("bad date should yield nil, got %v", rel.PublishedAt)
	}
}

func TestParse_Atom(t *testing.T) {
	res, err := Parse([]byte(sampleAtom), "application/xml", "https://research.example.org/atom")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Format != FormatAtom {
		t.Errorf("format = %v", res.Format)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(res.Items))
	}

	updatedOnly := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)
	if p := res.Items[0].PublishedAt; p == nil || !p.Equal(updatedOnly) {
		t.Errorf("updated fallback = %v, want %v", p, updatedOnly)
	}

	published := time.Date(2026, 10, 15, 4, 0, 0, 0, time.UTC)
	p := res.Items[1].PublishedAt
	if p == nil || !p.Equal(published) {
		t.Errorf("published preferred = %v, want %v", p, published)
	}
	if p != nil && p.Location() != time.UTC {
		t.Errorf("published location = %v, want UTC", p.Location())
	}
	if res.Items[1].Body != "<p>Full text</p>" {
		t.Errorf("content body = %q", res.Items[1].Body)
	}
}

func TestParse_HTMLListing(t *testing.T) {
	res, err := Parse([]byte(sampleHTML), "text/html; charset=utf-8", "https://inst.example.org/actualites")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Format != FormatPlain {
		t.Errorf("format = %v", res.Format)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2: %+v", len(res.Items), res.Items)
	}
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}

	first := res.Items[0]
	if first.Link != "https://inst.example.org/news/item-1.html" {
		t.Errorf("link = %q", first.Link)
	}
	if first.Title != "First report" {
		t.Errorf("title = %q", first.Title)
	}
	want := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	if first.PublishedAt == nil || !first.PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", first.PublishedAt, want)
	}
	if first.Body != "Summary one." {
		t.Errorf("body = %q", first.Body)
	}

	second := res.Items[1]
	if second.Link != "https://inst.example.org/news/item-2.html" {
		t.Errorf("fragment not stripped: %q", second.Link)
	}
	if second.Title != "Second report" {
		t.Errorf("title = %q", second.Title)
	}
	if second.PublishedAt != nil {
		t.Errorf("expected no date, got %v", second.PublishedAt)
	}
}

func TestParse_HTMLListItems(t *testing.T) {
	body := `<html><body><ul>
<li><a href="/docs/a">Circular A</a> <time>2026-10-01</time></li>
<li><a href="mailto:press@example.org">Press</a></li>
<li><a href="/docs/b">Circular B</a></li>
</ul></body></html>`

	res, err := Parse([]byte(body), "", "https://gov.example.org/list")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2: %+v", len(res.Items), res.Items)
	}
	if res.Items[0].Link != "https://gov.example.org/docs/a" {
		t.Errorf("link = %q", res.Items[0].Link)
	}
	if res.Items[0].PublishedAt == nil {
		t.Error("expected date from <time> text")
	}
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}
}

func TestParse_HTMLWrapperArticle(t *testing.T) {
	body := `<html><body><main><article>
<h1><a href="/news">News</a></h1>
<ul>
<li><a href="/news/a">Enrolment opens</a> <time datetime="2026-10-15">15 Oct</time></li>
<li><a href="/news/b">Exam calendar</a></li>
<li><a href="/news/c">Budget update</a></li>
</ul>
</article></main></body></html>`

	res, err := Parse([]byte(body), "text/html", "https://edu.example/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3: %+v", len(res.Items), res.Items)
	}
	want := []string{"https://edu.example/news/a", "https://edu.example/news/b", "https://edu.example/news/c"}
	for i, link := range want {
		if res.Items[i].Link != link {
			t.Errorf("items[%d].Link = %q, want %q", i, res.Items[i].Link, link)
		}
	}
	if res.Items[0].Title != "Enrolment opens" || res.Items[0].PublishedAt == nil {
		t.Errorf("items[0] = %+v", res.Items[0])
	}
}

func TestParse_HTMLAnchorFallback(t *testing.T) {
	body := `<html><body><div><a href="/one">One</a><a href="/two"></a><a href="/three" title="Three"><img src="x.png"></a></div></body></html>`

	res, err := Parse([]byte(body), "", "https://site.example.org/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2: %+v", len(res.Items), res.Items)
	}
	if res.Items[1].Title != "Three" {
		t.Errorf("title attr fallback = %q", res.Items[1].Title)
	}
}

func TestParse_TextListing(t *testing.T) {
	res, err := Parse([]byte(sampleText), "text/plain", "https://ministry.example.fr/list.txt")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2: %+v", len(res.Items), res.Items)
	}
	if res.Items[0].Title != "Rapport annuel" {
		t.Errorf("title = %q", res.Items[0].Title)
	}
	if res.Items[1].Title != "Guide enseignants" {
		t.Errorf("title = %q", res.Items[1].Title)
	}
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}
}

func TestParse_Latin1Listing(t *testing.T) {
	// "Été" encoded as ISO-8859-1.
	body := []byte("\xC9t\xE9 2026 - https://ex.example.fr/ete\n")
	res, err := Parse(body, "text/plain; charset=iso-8859-1", "https://ex.example.fr/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Title != "Été 2026" {
		t.Fatalf("items = %+v", res.Items)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated rss", `<?xml version="1.0"?><rss version="2.0"><channel><item><title>Broken`},
		{"json feed", `{"version":"https://jsonfeed.org/version/1.1","items":[]}`},
		{"unknown xml", `<?xml version="1.0"?><catalog><book/></catalog>`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.body), "application/xml", "https://x.example.com/")
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if len(res.Items) != 0 {
				t.Errorf("items = %d, want 0", len(res.Items))
			}
		})
	}
}

func TestCanonicalLink(t *testing.T) {
	base, _ := url.Parse("https://example.com/feeds/main.xml")
	tests := []struct {
		ref, want string
	}{
		{"https://example.com/a", "https://example.com/a"},
		{"  https://example.com/a#frag ", "https://example.com/a"},
		{"b.html", "https://example.com/feeds/b.html"},
		{"/c", "https://example.com/c"},
		{"mailto:x@example.com", ""},
		{"javascript:void(0)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := canonicalLink(base, tt.ref); got != tt.want {
			t.Errorf("canonicalLink(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	// "e" + combining acute composes to "é" under NFC.
	if got := cleanTitle("  Cafe\u0301\n  news "); got != "Caf\u00e9 news" {
		t.Errorf("cleanTitle = %q", got)
	}
}
