// Package render writes dashboard snapshots for terminals and files.
package render

import (
	"fmt"
	"io"
	"strings"

	"marketdash/backend-go/internal/models"
)

// Snapshot is one selection's view together with the quote table read right
// after it.
type Snapshot struct {
	Title  string            `json:"title"`
	View   models.ViewUpdate `json:"view"`
	Quotes models.QuoteTable `json:"quotes"`
}

// Renderer renders a snapshot to an output writer.
type Renderer interface {
	Render(w io.Writer, s Snapshot, opts RenderOptions) error
}

type RenderOptions struct {
	Color       bool
	PrettyJSON  bool
	MaxColWidth int
}

// ForFormat picks a renderer by output name: table, json or yaml.
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return NewTableRenderer(), nil
	case "json":
		return NewJSONRenderer(), nil
	case "yaml", "yml":
		return NewYAMLRenderer(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
