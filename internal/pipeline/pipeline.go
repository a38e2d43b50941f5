// Package pipeline generates digests: fetch, parse, deduplicate, filter to
// the window, summarize, assemble, then commit SeenState.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/dedup"
	"github.com/ppiankov/feeddigest/internal/digest"
	"github.com/ppiankov/feeddigest/internal/feed"
	"github.com/ppiankov/feeddigest/internal/fetch"
	"github.com/ppiankov/feeddigest/internal/store"
	"github.com/ppiankov/feeddigest/internal/summarize"
	"github.com/ppiankov/feeddigest/internal/window"
)

// DefaultSummarizeConcurrency bounds in-flight summarization calls.
const DefaultSummarizeConcurrency = 4

// Fetcher retrieves one payload per source, in source order.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []catalogue.Source) []fetch.Payload
}

// Config wires a Generator.
type Config struct {
	Catalogue catalogue.Loader
	Fetcher   Fetcher // defaults to fetch.New with default options
	Store     store.SeenStore

	// Summarizer is the optional abstractive strategy. The extractive
	// fallback always backs it.
	Summarizer           summarize.Summarizer
	MaxChars             int
	SummarizeConcurrency int

	Interval  time.Duration // default window length
	Retention store.Retention

	Now      func() time.Time
	NewRunID func() string
	Logger   *slog.Logger
}

// Options are per-run inputs.
type Options struct {
	WindowStart *time.Time // nil means now minus the interval
	DryRun      bool       // build the digest without committing SeenState
}

// Generator runs the digest pipeline. It is safe for concurrent use; runs
// share nothing but the store.
type Generator struct {
	catalogue   catalogue.Loader
	fetcher     Fetcher
	store       store.SeenStore
	summarizer  *summarize.Chain
	concurrency int
	interval    time.Duration
	retention   store.Retention
	now         func() time.Time
	newRunID    func() string
	logger      *slog.Logger
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Catalogue == nil {
		return nil, errors.New("catalogue loader is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("seen store is required")
	}

	g := &Generator{
		catalogue: cfg.Catalogue,
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		summarizer: &summarize.Chain{
			Primary:  cfg.Summarizer,
			Fallback: &summarize.Extractive{MaxChars: cfg.MaxChars},
		},
		concurrency: cfg.SummarizeConcurrency,
		interval:    cfg.Interval,
		retention:   cfg.Retention,
		now:         cfg.Now,
		newRunID:    cfg.NewRunID,
		logger:      cfg.Logger,
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if g.fetcher == nil {
		g.fetcher = fetch.New(fetch.Options{Logger: g.logger})
	}
	if g.concurrency <= 0 {
		g.concurrency = DefaultSummarizeConcurrency
	}
	if g.interval <= 0 {
		g.interval = window.DefaultInterval
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newRunID == nil {
		g.newRunID = uuid.NewString
	}
	return g, nil
}

// sourceResult is the per-source state between stages.
type sourceResult struct {
	src   catalogue.Source
	items []feed.Item
	out   []digest.Item
}

// Generate runs the pipeline once. Per-source and per-item failures are
// recorded in the report and never abort the run. The returned error wraps
// ErrConfiguration for bad inputs; any other error is fatal and leaves
// SeenState untouched. The report is returned even on error.
func (g *Generator) Generate(ctx context.Context, opts Options) (*digest.Digest, *Report, error) {
	now := g.now().UTC()
	report := &Report{RunID: g.newRunID(), StartedAt: now}
	log := g.logger.With("run_id", report.RunID)

	fail := func(err error) (*digest.Digest, *Report, error) {
		report.FinishedAt = g.now().UTC()
		log.Error("digest run failed", "err", err)
		return nil, report, err
	}

	start, err := window.Resolve(opts.WindowStart, now, g.interval)
	if err != nil {
		return fail(configError(err))
	}
	report.WindowStart = start

	cat, err := g.catalogue.Load()
	if err != nil {
		return fail(configError(fmt.Errorf("load catalogue: %w", err)))
	}
	sources := cat.Sources()
	report.Sources = len(sources)

	seen := make([]dedup.Set, len(sources))
	for i, src := range sources {
		if seen[i], err = g.store.Seen(ctx, src.ID); err != nil {
			return fail(fmt.Errorf("read seen state for %s: %w", src.ID, err))
		}
	}

	payloads := g.fetcher.FetchAll(ctx, sources)
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("run cancelled: %w", err))
	}

	results := make([]sourceResult, len(sources))
	for i, src := range sources {
		results[i].src = src
		p := payloads[i]
		if !p.OK() {
			g.record(log, report, Failure{SourceID: src.ID, Stage: StageFetch, Kind: string(p.Err.Kind), Err: p.Err})
			continue
		}
		report.Fetched++
		log.Debug("source fetched", "source", src.ID, "bytes", len(p.Body), "duration", p.Duration)

		parsed, err := feed.Parse(p.Body, p.ContentType, src.URL)
		if err != nil {
			g.record(log, report, Failure{SourceID: src.ID, Stage: StageParse, Kind: parsed.Format.String(), Err: err})
			continue
		}
		report.Parsed += len(parsed.Items)
		report.Dropped += parsed.Dropped

		fresh := dedup.Filter(seen[i], parsed.Items)
		report.Fresh += len(fresh)
		results[i].items = window.Keep(fresh, start)
		report.Emitted += len(results[i].items)
	}

	for _, f := range g.summarizeAll(ctx, results) {
		g.record(log, report, f)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("run cancelled: %w", err))
	}

	groups := make([]digest.Feed, len(results))
	for i, r := range results {
		groups[i] = digest.Feed{
			Source: digest.Source{ID: r.src.ID, Title: r.src.Title, URL: r.src.URL, Tags: r.src.Tags},
			Items:  r.out,
		}
	}
	d := digest.Assemble(now, start, groups)

	if !opts.DryRun {
		if err := g.commit(ctx, report, d, results); err != nil {
			return fail(err)
		}
	}

	report.FinishedAt = g.now().UTC()
	log.Info("digest generated",
		"sources", report.Sources,
		"feeds", len(d.Feeds),
		"items", report.Emitted,
		"failures", len(report.Failures),
		"failed_sources", report.FailedSources(),
		"committed", report.Committed,
		"duration", report.Duration(),
	)
	return &d, report, nil
}

// summarizeAll fills each result's out slice. Calls run concurrently under
// the configured ceiling; results land in fixed slots so ordering never
// depends on completion order. Returned failures are in catalogue order.
func (g *Generator) summarizeAll(ctx context.Context, results []sourceResult) []Failure {
	type slot struct{ src, item int }
	var slots []slot
	for i := range results {
		results[i].out = make([]digest.Item, len(results[i].items))
		for j := range results[i].items {
			slots = append(slots, slot{i, j})
		}
	}

	errs := make([]error, len(slots))
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for n, s := range slots {
		eg.Go(func() error {
			it := results[s.src].items[s.item]
			summary, err := g.summarizer.Summarize(ctx, summarize.Text(it.Title, it.Body))
			if summary == "" {
				summary = it.Title
			}
			results[s.src].out[s.item] = digest.Item{
				Title:       it.Title,
				Link:        it.Link,
				Summary:     summary,
				PublishedAt: it.PublishedAt,
			}
			errs[n] = err
			return nil
		})
	}
	_ = eg.Wait()

	var failures []Failure
	for n, err := range errs {
		if err == nil {
			continue
		}
		s := slots[n]
		failures = append(failures, Failure{
			SourceID: results[s.src].src.ID,
			Stage:    StageSummarize,
			Kind:     "fallback",
			Link:     results[s.src].items[s.item].Link,
			Err:      err,
		})
	}
	return failures
}

// commit is the single SeenState write of a run. Only links that made it
// into the digest are recorded. Pruning afterwards is best effort.
func (g *Generator) commit(ctx context.Context, report *Report, d digest.Digest, results []sourceResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before commit: %w", err)
	}

	links := make(map[string][]string)
	for _, r := range results {
		if len(r.items) > 0 {
			links[r.src.ID] = dedup.Links(r.items)
		}
	}
	err := g.store.Commit(ctx, store.Commit{
		RunID:       report.RunID,
		At:          d.GeneratedAt,
		WindowStart: d.WindowStart,
		Links:       links,
		Items:       d.ItemCount(),
		Failures:    len(report.Failures),
	})
	if err != nil {
		return fmt.Errorf("commit seen state: %w", err)
	}
	report.Committed = true

	ret := g.retention
	ret.Now = d.GeneratedAt
	pruned, err := g.store.Prune(ctx, ret)
	if err != nil {
		g.logger.Warn("prune seen state", "run_id", report.RunID, "err", err)
		return nil
	}
	report.Pruned = pruned
	return nil
}

func (g *Generator) record(log *slog.Logger, report *Report, f Failure) {
	report.Failures = append(report.Failures, f)
	attrs := []any{"source", f.SourceID, "stage", string(f.Stage), "kind", f.Kind, "err", f.Err}
	if f.Link != "" {
		attrs = append(attrs, "link", f.Link)
	}
	log.Warn("source degraded", attrs...)
}
