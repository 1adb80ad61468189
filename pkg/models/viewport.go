package models

import "strings"

// ViewportSpec is a named width/height pair used by the responsive sweep
type ViewportSpec struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Label  string `json:"label" yaml:"label"`
}

// Slug turns the label into a file-safe key ("Desktop Large" -> "desktop-large")
func (v ViewportSpec) Slug() string {
	return strings.Join(strings.Fields(strings.ToLower(v.Label)), "-")
}

// DefaultViewports is the sweep used when configuration does not override it
func DefaultViewports() []ViewportSpec {
	return []ViewportSpec{
		{Width: 1920, Height: 1080, Label: "Desktop Large"},
		{Width: 1366, Height: 768, Label: "Desktop Standard"},
		{Width: 768, Height: 1024, Label: "Tablet"},
		{Width: 375, Height: 667, Label: "Mobile"},
	}
}
