package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/store"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last run and seen links per source",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statusCmd)
}

// staleDays flags sources with no new link for this long.
const staleDays = 7

func statusAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	last, err := a.store.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("get last run: %w", err)
	}
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	// Catalogue is optional here: status still works when it is broken.
	var sources []catalogue.Source
	if cat, err := catalogue.LoadFile(a.cfg.CataloguePath(configDir)); err == nil {
		sources = cat.Sources()
	}

	switch statusFormat {
	case "json":
		return printStatusJSON(os.Stdout, last, stats, sources)
	case "terminal", "":
		printStatus(os.Stdout, last, stats, sources, time.Now())
		return nil
	}
	return fmt.Errorf("unknown format %q (want terminal or json)", statusFormat)
}

type jsonSourceStatus struct {
	SourceID string     `json:"source_id"`
	Links    int        `json:"links"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Orphaned bool       `json:"orphaned,omitempty"`
}

type jsonRun struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	Items       int       `json:"items"`
	Failures    int       `json:"failures"`
}

type jsonStatusOutput struct {
	LastRun *jsonRun           `json:"last_run"`
	Sources []jsonSourceStatus `json:"sources"`
}

func printStatusJSON(w io.Writer, last *store.Run, stats []store.SourceStats, sources []catalogue.Source) error {
	out := jsonStatusOutput{Sources: make([]jsonSourceStatus, 0, len(stats))}
	if last != nil {
		out.LastRun = &jsonRun{
			ID:          last.ID,
			GeneratedAt: last.GeneratedAt,
			WindowStart: last.WindowStart,
			Items:       last.Items,
			Failures:    last.Failures,
		}
	}

	byID := statsByID(stats)
	for _, s := range sources {
		st := jsonSourceStatus{SourceID: s.ID}
		if cs, ok := byID[s.ID]; ok {
			st.Links = cs.Links
			seen := cs.LastSeen
			st.LastSeen = &seen
		}
		out.Sources = append(out.Sources, st)
	}
	for _, cs := range orphaned(stats, sources) {
		seen := cs.LastSeen
		out.Sources = append(out.Sources, jsonSourceStatus{SourceID: cs.SourceID, Links: cs.Links, LastSeen: &seen, Orphaned: true})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStatus(w io.Writer, last *store.Run, stats []store.SourceStats, sources []catalogue.Source, now time.Time) {
	if last == nil {
		fmt.Fprintln(w, "No committed runs yet.")
	} else {
		fmt.Fprintf(w, "Last run %s — %s (%s)\n", last.ID,
			last.GeneratedAt.Format(time.RFC3339), humanize.RelTime(last.GeneratedAt, now, "ago", "from now"))
		fmt.Fprintf(w, "  window start %s, %d items, %d failures\n",
			last.WindowStart.Format(time.RFC3339), last.Items, last.Failures)
	}
	fmt.Fprintln(w)

	width := 6 // "Source"
	for _, s := range sources {
		width = max(width, len(s.ID))
	}
	for _, cs := range stats {
		width = max(width, len(cs.SourceID))
	}
	width = min(width, 40)

	byID := statsByID(stats)
	total := 0
	var stale []string
	staleThreshold := now.AddDate(0, 0, -staleDays)

	fmt.Fprintf(w, "  %-*s  %6s  %s\n", width, "Source", "Links", "Last new link")
	for _, s := range sources {
		cs, ok := byID[s.ID]
		if !ok {
			fmt.Fprintf(w, "  %-*s  %6d  %s\n", width, truncateID(s.ID, width), 0, "never")
			continue
		}
		total += cs.Links
		fmt.Fprintf(w, "  %-*s  %6d  %s\n", width, truncateID(s.ID, width), cs.Links, humanize.RelTime(cs.LastSeen, now, "ago", "from now"))
		if cs.LastSeen.Before(staleThreshold) {
			stale = append(stale, s.ID)
		}
	}
	for _, cs := range orphaned(stats, sources) {
		total += cs.Links
		fmt.Fprintf(w, "  %-*s  %6d  %s (not in catalogue)\n", width, truncateID(cs.SourceID, width), cs.Links, humanize.RelTime(cs.LastSeen, now, "ago", "from now"))
	}
	fmt.Fprintf(w, "\n%s seen links across %d sources\n", humanize.Comma(int64(total)), len(stats))

	if len(stale) > 0 {
		fmt.Fprintf(w, "\n--- Stale Sources (nothing new in %d+ days) ---\n\n", staleDays)
		for _, id := range stale {
			daysAgo := int(now.Sub(byID[id].LastSeen).Hours() / 24)
			fmt.Fprintf(w, "  %s — last new link %d days ago\n", id, daysAgo)
		}
	}
}

func statsByID(stats []store.SourceStats) map[string]store.SourceStats {
	m := make(map[string]store.SourceStats, len(stats))
	for _, cs := range stats {
		m[cs.SourceID] = cs
	}
	return m
}

// orphaned returns stats for sources no longer in the catalogue.
func orphaned(stats []store.SourceStats, sources []catalogue.Source) []store.SourceStats {
	known := make(map[string]bool, len(sources))
	for _, s := range sources {
		known[s.ID] = true
	}
	var out []store.SourceStats
	for _, cs := range stats {
		if !known[cs.SourceID] {
			out = append(out, cs)
		}
	}
	return out
}

func truncateID(id string, width int) string {
	if len(id) > width {
		return id[:width-1] + "…"
	}
	return id
}
