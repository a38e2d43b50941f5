package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/digest"
	"github.com/ppiankov/feeddigest/internal/pipeline"
)

var (
	runWindowStart string
	runFormat      string
	runOutput      string
	runDryRun      bool
	runEvery       string
	noColor        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a digest of new items and mark them as seen",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runWindowStart, "window-start", "", "ISO 8601 start of the window (default: now minus digest.window)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "output format: terminal, json, markdown")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the digest to a file instead of stdout")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "generate without marking items as seen")
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat on an interval (e.g. 30m) until interrupted")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(runCmd)
}

// runOnceAction is replaced in tests.
var runOnceAction = generateOnce

func runAction(cmd *cobra.Command, args []string) error {
	every, err := parseRunEvery(runEvery)
	if err != nil {
		return err
	}
	if every > 0 && runWindowStart != "" {
		return errors.New("--window-start cannot be combined with --every")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if every == 0 {
		return runOnceAction(cmd, args)
	}
	return runWatch(ctx, every, func() error {
		return runOnceAction(cmd, args)
	})
}

func parseRunEvery(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--every must be positive, got %s", s)
	}
	return d, nil
}

// runWatch runs once immediately, then on every tick until ctx is done.
func runWatch(ctx context.Context, every time.Duration, runOnce func() error) error {
	if err := runOnce(); err != nil {
		return err
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}

func generateOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start, err := pipeline.ParseWindowStart(runWindowStart)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	format := runFormat
	if format == "" {
		format = a.cfg.Digest.Format
	}
	loc, err := a.cfg.Digest.Location()
	if err != nil {
		return err
	}
	formatter, err := digest.NewFormatter(format, !noColor && runOutput == "", loc)
	if err != nil {
		return err
	}

	gen, err := a.generator()
	if err != nil {
		return err
	}
	d, report, err := gen.Generate(ctx, pipeline.Options{WindowStart: start, DryRun: runDryRun})
	if report != nil {
		printReport(os.Stderr, report, runDryRun)
	}
	if err != nil {
		return fmt.Errorf("generate digest: %w", err)
	}

	if runOutput == "" {
		return formatter.Format(os.Stdout, *d)
	}
	f, err := os.Create(runOutput)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := formatter.Format(f, *d); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}

// printReport writes the per-source failures and a one-line summary.
func printReport(w io.Writer, r *pipeline.Report, dryRun bool) {
	for _, f := range r.Failures {
		fmt.Fprintf(w, "warning: %s\n", f.Error())
	}
	state := "committed"
	switch {
	case r.Committed:
	case dryRun:
		state = "dry run"
	default:
		state = "not committed"
	}
	fmt.Fprintf(w, "run %s: %d/%d sources fetched, %d failed, %d items parsed, %d new, %d in window, %d failures (%s)\n",
		r.RunID, r.Fetched, r.Sources, r.FailedSources(), r.Parsed, r.Fresh, r.Emitted, len(r.Failures), state)
}
