// Package store persists SeenState: the links already reported per source,
// plus a record of each committed run.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/feeddigest/internal/dedup"
)

// SeenStore is the persisted SeenState. Commit is the only mutation made by
// a digest run and must be atomic and additive: it inserts links that are
// absent and never removes or rewrites existing ones.
type SeenStore interface {
	Seen(ctx context.Context, sourceID string) (dedup.Set, error)
	Commit(ctx context.Context, c Commit) error
	Prune(ctx context.Context, r Retention) (int64, error)
	LastRun(ctx context.Context) (*Run, error)
	Stats(ctx context.Context) ([]SourceStats, error)
	Close() error
}

// Commit is everything a successful run writes.
type Commit struct {
	RunID       string
	At          time.Time // generation time, recorded as first-seen
	WindowStart time.Time
	Links       map[string][]string // source ID to newly reported links
	Items       int
	Failures    int
}

// Run is the record of one committed run.
type Run struct {
	ID          string
	GeneratedAt time.Time
	WindowStart time.Time
	Items       int
	Failures    int
}

// SourceStats summarizes the seen links of one source.
type SourceStats struct {
	SourceID string
	Links    int
	LastSeen time.Time
}

// Retention bounds SeenState growth. Links first seen before Now-MaxAge are
// dropped, then each source keeps at most MaxPerSource newest links. Zero
// values disable the corresponding rule.
type Retention struct {
	MaxAge       time.Duration
	MaxPerSource int
	Now          time.Time // zero means time.Now()
}

func (r Retention) cutoff() (time.Time, bool) {
	if r.MaxAge <= 0 {
		return time.Time{}, false
	}
	now := r.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.Add(-r.MaxAge).UTC(), true
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver string // defaults to sqlite

	Path string // sqlite database file
	DSN  string // postgres connection string

	Addr     string // redis
	Password string
	DB       int
	Prefix   string
}

// Open returns the backend named by opts.Driver with its schema in place.
func Open(ctx context.Context, opts Options) (SeenStore, error) {
	var (
		st  SeenStore
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		st, err = OpenSQLite(ctx, opts.Path)
	case DriverPostgres:
		st, err = OpenPostgres(ctx, opts.DSN)
	case DriverRedis:
		st, err = OpenRedis(ctx, RedisOptions{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
			Prefix:   opts.Prefix,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

var errNotInitialized = errors.New("store is not initialized")

func validateCommit(c Commit) error {
	if strings.TrimSpace(c.RunID) == "" {
		return errors.New("run id is required")
	}
	if c.At.IsZero() {
		return errors.New("commit time is required")
	}
	for id := range c.Links {
		if strings.TrimSpace(id) == "" {
			return errors.New("source id is required")
		}
	}
	return nil
}

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
