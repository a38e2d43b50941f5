package digest

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MarkdownFormatter formats a digest as Markdown.
type MarkdownFormatter struct {
	loc *time.Location
}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown(loc *time.Location) *MarkdownFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return &MarkdownFormatter{loc: loc}
}

var mdEscaper = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`, "*", `\*`, "_", `\_`, "`", "\\`")

// Format writes the digest as Markdown to w.
func (f *MarkdownFormatter) Format(w io.Writer, d Digest) error {
	fmt.Fprintf(w, "# Digest %s\n\n", d.GeneratedAt.In(f.loc).Format(displayLayout))
	fmt.Fprintf(w, "%d new items since %s\n\n", d.ItemCount(), d.WindowStart.In(f.loc).Format(displayLayout))

	if len(d.Feeds) == 0 {
		fmt.Fprintln(w, "Nothing new.")
		return nil
	}

	for _, feed := range d.Feeds {
		fmt.Fprintf(w, "## [%s](%s)\n\n", mdEscaper.Replace(feed.Source.Title), feed.Source.URL)
		if len(feed.Source.Tags) > 0 {
			tags := make([]string, len(feed.Source.Tags))
			for i, t := range feed.Source.Tags {
				tags[i] = "`" + t + "`"
			}
			fmt.Fprintf(w, "Tags: %s\n\n", strings.Join(tags, " "))
		}
		for _, item := range feed.Items {
			f.writeItem(w, item)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (f *MarkdownFormatter) writeItem(w io.Writer, item Item) {
	fmt.Fprintf(w, "- [%s](%s)", mdEscaper.Replace(item.Title), item.Link)
	if item.PublishedAt != nil {
		fmt.Fprintf(w, " _%s_", item.PublishedAt.In(f.loc).Format(displayLayout))
	}
	fmt.Fprintln(w)
	if item.Summary != "" && item.Summary != item.Title {
		fmt.Fprintf(w, "  %s\n", mdEscaper.Replace(item.Summary))
	}
}
