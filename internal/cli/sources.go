package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List catalogue sources by category",
	RunE:  sourcesAction,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func sourcesAction(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cat, err := catalogue.LoadFile(cfg.CataloguePath(configDir))
	if err != nil {
		return err
	}
	printSources(os.Stdout, cat)
	return nil
}

func printSources(w io.Writer, cat *catalogue.Catalogue) {
	total := 0
	for _, c := range cat.Categories {
		if len(c.Sources) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d)\n", c.Name, len(c.Sources))
		for _, s := range c.Sources {
			line := fmt.Sprintf("  %-20s %s", s.ID, s.Title)
			if len(s.Tags) > 0 {
				line += " [" + strings.Join(s.Tags, ", ") + "]"
			}
			fmt.Fprintln(w, line)
			fmt.Fprintf(w, "  %-20s %s\n", "", s.URL)
		}
		total += len(c.Sources)
	}
	fmt.Fprintf(w, "\n%d sources in %d categories\n", total, len(cat.Categories))
}
