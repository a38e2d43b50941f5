package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/pipeline"
)

func TestParseRunEvery(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{
			name:    "empty",
			input:   "",
			want:    0,
			wantErr: false,
		},
		{
			name:    "valid duration",
			input:   "30m",
			want:    30 * time.Minute,
			wantErr: false,
		},
		{
			name:    "parse error",
			input:   "abc",
			want:    0,
			wantErr: true,
		},
		{
			name:    "zero duration",
			input:   "0s",
			want:    0,
			wantErr: true,
		},
		{
			name:    "negative duration",
			input:   "-1m",
			want:    0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		got, err := parseRunEvery(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRunActionRunsOnceWithoutEvery(t *testing.T) {
	oldEvery := runEvery
	oldOnce := runOnceAction
	t.Cleanup(func() {
		runEvery = oldEvery
		runOnceAction = oldOnce
	})

	runEvery = ""
	calls := 0
	runOnceAction = func(_ *cobra.Command, _ []string) error {
		calls++
		return nil
	}

	if err := runAction(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runAction failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("run called %d times, want 1", calls)
	}
}

func TestRunActionRejectsWindowStartWithEvery(t *testing.T) {
	oldEvery, oldStart := runEvery, runWindowStart
	t.Cleanup(func() { runEvery, runWindowStart = oldEvery, oldStart })

	runEvery = "1h"
	runWindowStart = "2026-10-01"
	if err := runAction(&cobra.Command{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunActionWatchModeImmediateThenInterval(t *testing.T) {
	oldEvery := runEvery
	oldOnce := runOnceAction
	t.Cleanup(func() {
		runEvery = oldEvery
		runOnceAction = oldOnce
	})

	interval := 80 * time.Millisecond
	runEvery = interval.String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runTimes := make([]time.Time, 0, 2)

	runOnceAction = func(_ *cobra.Command, _ []string) error {
		mu.Lock()
		runTimes = append(runTimes, time.Now())
		count := len(runTimes)
		mu.Unlock()

		if count >= 2 {
			cancel()
		}
		return nil
	}

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	start := time.Now()

	if err := runAction(cmd, nil); err != nil {
		t.Fatalf("runAction failed: %v", err)
	}

	mu.Lock()
	gotTimes := append([]time.Time(nil), runTimes...)
	mu.Unlock()

	if len(gotTimes) < 2 {
		t.Fatalf("run called %d times, want at least 2", len(gotTimes))
	}
	if firstDelay := gotTimes[0].Sub(start); firstDelay >= interval {
		t.Fatalf("first run delayed by %v, want less than %v", firstDelay, interval)
	}

	minGap := interval - 10*time.Millisecond
	if secondGap := gotTimes[1].Sub(gotTimes[0]); secondGap < minGap {
		t.Fatalf("interval gap too short: got %v, want at least %v", secondGap, minGap)
	}
}

func TestRunWatchStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	calls := 0
	start := time.Now()
	err := runWatch(ctx, 10*time.Second, func() error {
		calls++
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("runWatch failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("runOnce called %d times, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("watch shutdown took too long: %v", elapsed)
	}
}

func TestRunWatchStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := runWatch(context.Background(), time.Millisecond, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestPrintReport(t *testing.T) {
	r := &pipeline.Report{
		RunID:   "r1",
		Sources: 3,
		Fetched: 2,
		Parsed:  7,
		Fresh:   5,
		Emitted: 4,
		Failures: []pipeline.Failure{
			{SourceID: "slow", Stage: pipeline.StageFetch, Kind: "timeout", Err: errors.New("deadline exceeded")},
			{SourceID: "ok", Stage: pipeline.StageSummarize, Kind: "fallback", Link: "https://ok.example/1", Err: errors.New("llm down")},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, r, true)
	out := buf.String()
	requireContains(t, out, "warning: slow: fetch timeout: deadline exceeded")
	requireContains(t, out, "run r1: 2/3 sources fetched, 1 failed, 7 items parsed, 5 new, 4 in window, 2 failures (dry run)")

	buf.Reset()
	r.Committed = true
	printReport(&buf, r, false)
	if !strings.Contains(buf.String(), "(committed)") {
		t.Errorf("output = %q", buf.String())
	}
}
