// Package cli provides the command-line interface for feeddigest.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".feeddigest"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "feeddigest",
	Short: "Turn a catalogue of feeds into a digest of what is new",
	Long: "feeddigest fetches a catalogue of RSS, Atom, and plain listing sources, drops items it has already " +
		"reported, summarizes the rest, and prints a digest grouped by source.",
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return loadDotEnv(".env", filepath.Join(configDir, ".env"))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("feeddigest %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir, "directory holding config.yaml and sources.yaml")
	rootCmd.AddCommand(versionCmd)
}

// loadDotEnv loads each file that exists. Variables already set in the
// environment win.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
