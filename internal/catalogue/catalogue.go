// Package catalogue loads the ordered list of monitored sources.
package catalogue

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Source describes one monitored feed or listing.
type Source struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	URL         string   `yaml:"url"`
	Tags        []string `yaml:"tags,omitempty"`
	Language    string   `yaml:"language,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Category groups sources under a display name.
type Category struct {
	Name    string   `yaml:"name"`
	Sources []Source `yaml:"sources"`
}

// Catalogue is the full, ordered source list.
type Catalogue struct {
	Categories []Category `yaml:"categories"`
}

// Loader supplies a catalogue for each run.
type Loader interface {
	Load() (*Catalogue, error)
}

// File loads the catalogue from a YAML file on every call, so edits are
// picked up by long-running processes.
type File string

func (f File) Load() (*Catalogue, error) {
	return LoadFile(string(f))
}

// Static serves a fixed catalogue.
type Static struct {
	Catalogue *Catalogue
}

func (s Static) Load() (*Catalogue, error) {
	if s.Catalogue == nil {
		return nil, errors.New("catalogue is nil")
	}
	if err := s.Catalogue.Validate(); err != nil {
		return nil, err
	}
	return s.Catalogue, nil
}

// LoadFile reads and validates a catalogue file.
func LoadFile(path string) (*Catalogue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalogue path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}

	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	c.normalize()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Sources returns every source in catalogue order.
func (c *Catalogue) Sources() []Source {
	var out []Source
	for _, cat := range c.Categories {
		out = append(out, cat.Sources...)
	}
	return out
}

// Validate checks that the catalogue is usable for a run.
func (c *Catalogue) Validate() error {
	sources := c.Sources()
	if len(sources) == 0 {
		return errors.New("catalogue: no sources configured")
	}

	ids := make(map[string]bool, len(sources))
	urls := make(map[string]bool, len(sources))
	for i, s := range sources {
		if s.ID == "" {
			return fmt.Errorf("catalogue: source %d: id is required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("catalogue: duplicate source id %q", s.ID)
		}
		ids[s.ID] = true

		if s.Title == "" {
			return fmt.Errorf("catalogue: source %q: title is required", s.ID)
		}

		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("catalogue: source %q: invalid url %q", s.ID, s.URL)
		}
		if urls[s.URL] {
			return fmt.Errorf("catalogue: duplicate source url %q", s.URL)
		}
		urls[s.URL] = true

		if s.Language != "" {
			if _, err := language.Parse(s.Language); err != nil {
				return fmt.Errorf("catalogue: source %q: language %q: %w", s.ID, s.Language, err)
			}
		}
	}
	return nil
}

func (c *Catalogue) normalize() {
	for i := range c.Categories {
		for j := range c.Categories[i].Sources {
			s := &c.Categories[i].Sources[j]
			s.ID = strings.TrimSpace(s.ID)
			s.Title = strings.TrimSpace(s.Title)
			s.URL = strings.TrimSpace(s.URL)
			s.Language = strings.TrimSpace(s.Language)
		}
	}
}
