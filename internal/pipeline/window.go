package pipeline

import (
	"fmt"
	"strings"
	"time"
)

var windowLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseWindowStart parses an ISO 8601 timestamp: RFC 3339 with or without
// fractional seconds, a local date-time read as UTC, or a bare date. An
// empty value means no override.
func ParseWindowStart(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range windowLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, configError(fmt.Errorf("invalid window start %q: want an ISO 8601 timestamp", value))
}
