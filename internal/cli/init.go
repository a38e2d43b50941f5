package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeddigest/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	files := []struct {
		name string
		data string
	}{
		{config.DefaultConfigFile, exampleConfig},
		{config.DefaultCatalogueFile, exampleCatalogue},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data))
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# feeddigest configuration

catalogue: sources.yaml

storage:
  driver: sqlite            # sqlite, postgres, redis, memory
  path: .feeddigest/feeddigest.db
  # dsn_env: FEEDDIGEST_POSTGRES_DSN
  # redis:
  #   addr: localhost:6379
  #   password_env: FEEDDIGEST_REDIS_PASSWORD
  #   prefix: "feeddigest:"
  retain_days: 30
  max_links_per_source: 5000

fetch:
  timeout: 15s
  concurrency: 8
  retries: 0
  # domain_delay: 500ms
  run_timeout: 2m

digest:
  window: 24h
  timezone: "UTC"
  format: terminal

summarize:
  mode: extractive          # extractive or llm
  max_chars: 280
  concurrency: 4
  llm:
    # base_url: https://api.openai.com/v1
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY
    max_tokens: 160
    timeout: 20s

privacy:
  redact:
    enabled: true
    patterns: []

server:
  addr: ":8080"
  # schedule: "0 7 * * *"
  output: .feeddigest/latest.json

log:
  level: info
  format: text
  # file: .feeddigest/feeddigest.log
`

const exampleCatalogue = `# feeddigest sources, grouped by category. Order is preserved in digests.

categories:
  - name: Go
    sources:
      - id: go-blog
        title: The Go Blog
        url: https://go.dev/blog/feed.atom
        tags: [go, releases]
        language: en
      - id: golang-weekly
        title: Golang Weekly
        url: https://golangweekly.com/rss/
        tags: [go, newsletter]
  - name: Infrastructure
    sources:
      - id: kubernetes-blog
        title: Kubernetes Blog
        url: https://kubernetes.io/feed.xml
        tags: [kubernetes]
`
