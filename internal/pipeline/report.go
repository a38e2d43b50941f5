package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration marks errors caused by inputs: an unusable catalogue or
// an invalid window. They are the only errors a caller should surface as
// bad requests.
var ErrConfiguration = errors.New("configuration error")

func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// Stage names where a per-source failure happened.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageSummarize Stage = "summarize"
)

// Failure is a non-fatal, per-source or per-item problem.
type Failure struct {
	SourceID string
	Stage    Stage
	Kind     string
	Link     string // set for summarize failures
	Err      error
}

func (f Failure) Error() string {
	if f.Link != "" {
		return fmt.Sprintf("%s: %s %s (%s): %v", f.SourceID, f.Stage, f.Kind, f.Link, f.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", f.SourceID, f.Stage, f.Kind, f.Err)
}

// Report describes one run for logs and status output.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	WindowStart time.Time

	Sources int // in the catalogue
	Fetched int // payloads retrieved
	Parsed  int // items parsed
	Dropped int // entries without title or link
	Fresh   int // items not seen before
	Emitted int // items in the digest

	Failures  []Failure // catalogue order
	Committed bool
	Pruned    int64
}

// FailedSources counts sources that contributed nothing because of a fetch
// or parse failure.
func (r *Report) FailedSources() int {
	n := 0
	for _, f := range r.Failures {
		if f.Stage == StageFetch || f.Stage == StageParse {
			n++
		}
	}
	return n
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
