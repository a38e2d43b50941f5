package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/config"
	"github.com/ppiankov/feeddigest/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, catalogue, and storage",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (window %s, %s summaries, %s storage)",
		cfg.Digest.Window.Duration, cfg.Summarize.Mode, cfg.Storage.Driver)

	// Catalogue
	var cat *catalogue.Catalogue
	if cat, err = catalogue.LoadFile(cfg.CataloguePath(configDir)); err != nil {
		printCheck(false, "%s: %v", cfg.Catalogue, err)
		ok = false
	} else {
		printCheck(true, "%s (%d sources in %d categories)", cfg.Catalogue, len(cat.Sources()), len(cat.Categories))
	}

	// Storage
	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := openStore(storeCtx, cfg)
	if err != nil {
		printCheck(false, "storage: %v", err)
		ok = false
	} else {
		defer func() { _ = st.Close() }()
		printCheck(true, "storage %s", storageLabel(cfg))
	}

	// Summarizer
	if cfg.Summarize.Mode == "llm" {
		if cfg.Summarize.LLM.APIKey == "" {
			printCheck(false, "llm api key: $%s is empty", cfg.Summarize.LLM.APIKeyEnv)
			ok = false
		} else {
			printCheck(true, "llm api key from $%s (model %s)", cfg.Summarize.LLM.APIKeyEnv, cfg.Summarize.LLM.Model)
		}
	}

	// Redaction patterns
	if cfg.Privacy.Redact.Enabled {
		if r, err := newRedactor(cfg.Privacy.Redact); err != nil {
			printCheck(false, "%v", err)
			ok = false
		} else {
			printCheck(true, "privacy.redact (%d patterns, %d custom)", r.Len(), len(cfg.Privacy.Redact.Patterns))
		}
	}

	// Source health (info-level, non-fatal)
	if st != nil && cat != nil {
		checkSourceHealth(ctx, st, cat)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func storageLabel(cfg *config.Config) string {
	switch cfg.Storage.Driver {
	case store.DriverSQLite:
		return "sqlite " + cfg.Storage.Path
	case store.DriverRedis:
		return "redis " + cfg.Storage.Redis.Addr
	}
	return cfg.Storage.Driver
}

func checkSourceHealth(ctx context.Context, st store.SeenStore, cat *catalogue.Catalogue) {
	stats, err := st.Stats(ctx)
	if err != nil || len(stats) == 0 {
		return // no data yet, skip
	}

	byID := statsByID(stats)
	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Println()

	for _, s := range cat.Sources() {
		cs, ok := byID[s.ID]
		if !ok {
			printInfo("never reported: %s — no items seen yet", s.ID)
			continue
		}
		if cs.LastSeen.Before(staleThreshold) {
			daysAgo := int(time.Since(cs.LastSeen).Hours() / 24)
			printInfo("stale: %s — last new link %d days ago", s.ID, daysAgo)
		}
	}
	for _, cs := range orphaned(stats, cat.Sources()) {
		printInfo("orphaned: %s — %d seen links for a source no longer in the catalogue (removed by prune as they age out)", cs.SourceID, cs.Links)
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
