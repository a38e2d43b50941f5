// Package window bounds a digest to a rolling time horizon.
package window

import (
	"errors"
	"time"

	"github.com/ppiankov/feeddigest/internal/feed"
)

// DefaultInterval is the standing cadence used when no window is configured.
const DefaultInterval = 24 * time.Hour

// ErrFutureStart is returned by Resolve for an override after now.
var ErrFutureStart = errors.New("window start is in the future")

// Resolve returns the window start: override when set, otherwise now minus
// interval. The result is in UTC.
func Resolve(override *time.Time, now time.Time, interval time.Duration) (time.Time, error) {
	if override != nil {
		if override.After(now) {
			return time.Time{}, ErrFutureStart
		}
		return override.UTC(), nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return now.Add(-interval).UTC(), nil
}

// Keep returns the items published at or after start. Items without a
// timestamp are kept.
func Keep(items []feed.Item, start time.Time) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		if it.PublishedAt == nil || !it.PublishedAt.Before(start) {
			out = append(out, it)
		}
	}
	return out
}
