package digest

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes the digest in its wire shape.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the digest as indented JSON to w.
func (f *JSONFormatter) Format(w io.Writer, d Digest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}
