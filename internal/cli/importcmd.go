package cli

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/config"
)

const defaultImportCategory = "Imported"

var (
	importDryRun   bool
	importCategory string
)

var importCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Import feeds from an OPML file into the catalogue",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without modifying the catalogue")
	importCmd.Flags().StringVar(&importCategory, "category", "", "category for imported feeds (default: the OPML folder, or "+defaultImportCategory+")")
	rootCmd.AddCommand(importCmd)
}

type opml struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	XMLURL   string        `xml:"xmlUrl,attr"`
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// opmlFeed is one feed outline with the folder it was found in.
type opmlFeed struct {
	URL    string
	Title  string
	Folder string
}

func importAction(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read OPML: %w", err)
	}

	var doc opml
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse OPML: %w", err)
	}

	feeds := extractFeeds(doc.Body.Outlines, "")
	if len(feeds) == 0 {
		fmt.Println("No feed URLs found in OPML file.")
		return nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := cfg.CataloguePath(configDir)

	added, skipped, err := mergeFeeds(path, feeds, importCategory, importDryRun)
	if err != nil {
		return fmt.Errorf("merge feeds: %w", err)
	}

	if len(added) == 0 {
		fmt.Printf("All %d feeds already present, nothing to add.\n", skipped)
		return nil
	}
	if importDryRun {
		fmt.Printf("Would add %d feeds (skipping %d duplicates):\n", len(added), skipped)
		for _, s := range added {
			fmt.Printf("  + %s  %s\n", s.ID, s.URL)
		}
		return nil
	}
	fmt.Printf("Added %d feeds to %s, skipped %d duplicates.\n", len(added), path, skipped)
	return nil
}

func extractFeeds(outlines []opmlOutline, folder string) []opmlFeed {
	var feeds []opmlFeed
	for _, o := range outlines {
		u := strings.TrimSpace(o.XMLURL)
		if u != "" && (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			feeds = append(feeds, opmlFeed{URL: u, Title: outlineTitle(o), Folder: folder})
		}
		// Recurse into nested outlines (folders)
		if len(o.Outlines) > 0 {
			feeds = append(feeds, extractFeeds(o.Outlines, outlineTitle(o))...)
		}
	}
	return feeds
}

func outlineTitle(o opmlOutline) string {
	if t := strings.TrimSpace(o.Title); t != "" {
		return t
	}
	return strings.TrimSpace(o.Text)
}

// mergeFeeds appends feeds missing from the catalogue at path, editing the
// YAML node tree so comments and layout survive. A missing file is
// created. It returns the added sources and the number of duplicates.
func mergeFeeds(path string, feeds []opmlFeed, category string, dryRun bool) ([]catalogue.Source, int, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("read catalogue: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parse catalogue YAML: %w", err)
	}
	var existing catalogue.Catalogue
	if doc.Kind != 0 {
		if err := doc.Decode(&existing); err != nil {
			return nil, 0, fmt.Errorf("decode catalogue: %w", err)
		}
	}

	urls := make(map[string]bool)
	ids := make(map[string]bool)
	for _, s := range existing.Sources() {
		urls[s.URL] = true
		ids[s.ID] = true
	}

	var (
		added   []catalogue.Source
		folders = make(map[string][]catalogue.Source)
		order   []string
		skipped int
	)
	for _, f := range feeds {
		if urls[f.URL] {
			skipped++
			continue
		}
		urls[f.URL] = true

		src := catalogue.Source{ID: uniqueID(sourceID(f), ids), Title: f.Title, URL: f.URL}
		if src.Title == "" {
			src.Title = src.ID
		}
		ids[src.ID] = true

		name := firstNonEmpty(category, f.Folder, defaultImportCategory)
		if _, ok := folders[name]; !ok {
			order = append(order, name)
		}
		folders[name] = append(folders[name], src)
		added = append(added, src)
	}
	if len(added) == 0 || dryRun {
		return added, skipped, nil
	}

	categories := categoriesNode(&doc)
	for _, name := range order {
		seq := categorySources(categories, name)
		for _, src := range folders[name] {
			var n yaml.Node
			if err := n.Encode(src); err != nil {
				return nil, 0, fmt.Errorf("encode source: %w", err)
			}
			seq.Content = append(seq.Content, &n)
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal catalogue: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, 0, fmt.Errorf("write catalogue: %w", err)
	}
	return added, skipped, nil
}

// categoriesNode returns the categories sequence, creating the document
// structure as needed.
func categoriesNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if seq := findMapValue(root, "categories"); seq != nil {
		return seq
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	root.Content = append(root.Content, scalar("categories"), seq)
	return seq
}

// categorySources returns the sources sequence of the named category,
// appending the category when absent.
func categorySources(categories *yaml.Node, name string) *yaml.Node {
	for _, c := range categories.Content {
		if n := findMapValue(c, "name"); n != nil && n.Value == name {
			if seq := findMapValue(c, "sources"); seq != nil {
				return seq
			}
			seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			c.Content = append(c.Content, scalar("sources"), seq)
			return seq
		}
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	categories.Content = append(categories.Content, &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!!map",
		Content: []*yaml.Node{scalar("name"), scalar(name), scalar("sources"), seq},
	})
	return seq
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// sourceID derives a slug from the feed title, or from its host.
func sourceID(f opmlFeed) string {
	base := f.Title
	if base == "" {
		if u, err := url.Parse(f.URL); err == nil {
			base = strings.TrimPrefix(u.Hostname(), "www.")
		}
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimRight(b.String(), "-")
	if id == "" {
		id = "feed"
	}
	return id
}

func uniqueID(id string, taken map[string]bool) string {
	if !taken[id] {
		return id
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", id, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
