package summarize

import (
	"context"
	"fmt"
	"strings"
)

// Chain tries Primary and falls back to Fallback when it fails or returns
// nothing. With a nil Primary it is the fallback alone.
type Chain struct {
	Primary  Summarizer
	Fallback *Extractive
}

// Summarize always returns the best summary available. A non-nil error
// reports that Primary failed and the fallback was used.
func (c *Chain) Summarize(ctx context.Context, text string) (string, error) {
	if c.Primary == nil {
		return c.Fallback.Summarize(ctx, text)
	}

	s, err := c.Primary.Summarize(ctx, text)
	if err == nil && strings.TrimSpace(s) != "" {
		return s, nil
	}
	if err == nil {
		err = errEmptyCompletion
	}

	out, _ := c.Fallback.Summarize(ctx, text)
	return out, fmt.Errorf("primary summarizer: %w", err)
}
