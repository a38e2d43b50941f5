package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// TerminalFormatter formats a digest for terminal output.
type TerminalFormatter struct {
	color bool
	loc   *time.Location
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool, loc *time.Location) *TerminalFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return &TerminalFormatter{color: color, loc: loc}
}

// Format writes the digest to w grouped by source.
func (f *TerminalFormatter) Format(w io.Writer, d Digest) error {
	since := d.WindowStart.In(f.loc).Format(displayLayout)
	header := fmt.Sprintf("feeddigest — %d sources, %d new items since %s",
		len(d.Feeds), d.ItemCount(), since)
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(d.Feeds) == 0 {
		fmt.Fprintln(w, "Nothing new.")
		return nil
	}

	for _, feed := range d.Feeds {
		title := f.green(f.bold("▸ " + feed.Source.Title))
		if len(feed.Source.Tags) > 0 {
			title += " " + f.dim("["+strings.Join(feed.Source.Tags, ", ")+"]")
		}
		fmt.Fprintln(w, title)
		for _, item := range feed.Items {
			f.writeItem(w, item, d.GeneratedAt)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (f *TerminalFormatter) writeItem(w io.Writer, item Item, now time.Time) {
	when := ""
	if item.PublishedAt != nil {
		when = " " + f.yellow("("+humanize.RelTime(*item.PublishedAt, now, "ago", "from now")+")")
	}
	fmt.Fprintf(w, "  • %s%s\n", item.Title, when)
	if item.Summary != "" && item.Summary != item.Title {
		fmt.Fprintf(w, "    %s\n", item.Summary)
	}
	fmt.Fprintf(w, "    %s\n", f.dim(item.Link))
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
