package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop seen links outside the retention policy",
	RunE:  pruneAction,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func pruneAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ret := retention(a.cfg)
	ret.Now = time.Now()
	n, err := a.store.Prune(ctx, ret)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Printf("Pruned %d seen links (older than %d days or beyond %d per source).\n",
		n, a.cfg.Storage.RetainDays, a.cfg.Storage.MaxLinksPerSource)
	return nil
}
