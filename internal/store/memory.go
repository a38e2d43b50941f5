package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/feeddigest/internal/dedup"
)

// Memory is a process-local SeenStore for tests and dry setups.
type Memory struct {
	mu    sync.Mutex
	links map[string]map[string]time.Time // source ID -> link -> first seen
	runs  []Run
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{links: make(map[string]map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, sourceID string) (dedup.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(dedup.Set, len(m.links[sourceID]))
	for link := range m.links[sourceID] {
		set[link] = struct{}{}
	}
	return set, nil
}

func (m *Memory) Commit(ctx context.Context, c Commit) error {
	if err := validateCommit(c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	at := c.At.UTC()
	for id, links := range c.Links {
		seen := m.links[id]
		if seen == nil {
			seen = make(map[string]time.Time, len(links))
			m.links[id] = seen
		}
		for _, link := range links {
			if _, ok := seen[link]; !ok {
				seen[link] = at
			}
		}
	}
	m.runs = append(m.runs, Run{
		ID:          c.RunID,
		GeneratedAt: at,
		WindowStart: c.WindowStart.UTC(),
		Items:       c.Items,
		Failures:    c.Failures,
	})
	return nil
}

func (m *Memory) Prune(_ context.Context, r Retention) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	cutoff, byAge := r.cutoff()
	for id, seen := range m.links {
		if byAge {
			for link, first := range seen {
				if first.Before(cutoff) {
					delete(seen, link)
					removed++
				}
			}
		}
		if r.MaxPerSource > 0 && len(seen) > r.MaxPerSource {
			for _, link := range oldest(seen, len(seen)-r.MaxPerSource) {
				delete(seen, link)
				removed++
			}
		}
		if len(seen) == 0 {
			delete(m.links, id)
		}
	}
	return removed, nil
}

// oldest returns the n links with the earliest first-seen time, ties broken
// by link so pruning is deterministic.
func oldest(seen map[string]time.Time, n int) []string {
	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		a, b := seen[links[i]], seen[links[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return links[i] < links[j]
	})
	return links[:n]
}

func (m *Memory) LastRun(context.Context) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *Run
	for i := range m.runs {
		if last == nil || !m.runs[i].GeneratedAt.Before(last.GeneratedAt) {
			r := m.runs[i]
			last = &r
		}
	}
	return last, nil
}

func (m *Memory) Stats(context.Context) ([]SourceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]SourceStats, 0, len(m.links))
	for id, seen := range m.links {
		st := SourceStats{SourceID: id, Links: len(seen)}
		for _, first := range seen {
			if first.After(st.LastSeen) {
				st.LastSeen = first
			}
		}
		stats = append(stats, st)
	}
	sortStats(stats)
	return stats, nil
}

func (m *Memory) Close() error { return nil }

func sortStats(stats []SourceStats) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].SourceID < stats[j].SourceID })
}
