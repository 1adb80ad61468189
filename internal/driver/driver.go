// Package driver defines the browser capability surface scenarios run against.
package driver

import (
	"context"
	"time"
)

// Unknown is reported for page bindings that could not be resolved
const Unknown = "unknown"

// PageDriver is a handle to one live browser page. A PageDriver is not safe
// for concurrent use by more than one scenario at a time.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches an element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Evaluate runs script in the page and decodes its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Query returns the first element matching selector, or nil.
	Query(ctx context.Context, selector string) (*Element, error)
	QueryAll(ctx context.Context, selector string) ([]*Element, error)
	Click(ctx context.Context, el *Element) error
	PressKey(ctx context.Context, key string) error
	SetViewport(ctx context.Context, width, height int) error
	// Screenshot captures the visible page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Metrics(ctx context.Context) (map[string]float64, error)
	CurrentURL(ctx context.Context) (string, error)
	// Globals looks up dotted global binding paths without failing on
	// missing ones.
	Globals(ctx context.Context, paths ...string) (map[string]Binding, error)
	// FrameCounter starts counting animation frame callbacks.
	FrameCounter(ctx context.Context) (FrameCounter, error)
	Layout(ctx context.Context) (Layout, error)
	Close() error
}

// Element is a snapshot of a DOM element taken when it was queried
type Element struct {
	Selector   string            `json:"selector"`
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns the named attribute
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// Binding is the outcome of looking up a page global
type Binding struct {
	Present bool `json:"present"`
	Value   any  `json:"value,omitempty"`
}

// Truthy reports the binding's value as a flag. Missing bindings are false;
// present non-boolean values count as set.
func (b Binding) Truthy() bool {
	if !b.Present {
		return false
	}
	switch v := b.Value.(type) {
	case bool:
		return v
	case nil:
		return true
	case string:
		return v != ""
	case float64:
		return v != 0
	}
	return true
}

// ValueOr returns the bound value, or fallback when missing
func (b Binding) ValueOr(fallback any) any {
	if !b.Present || b.Value == nil {
		return fallback
	}
	return b.Value
}

// FrameCounter counts animation frame callbacks from the moment it was
// started.
type FrameCounter interface {
	Count(ctx context.Context) (int, error)
	Stop(ctx context.Context) error
}

// Layout compares rendered content size to the viewport
type Layout struct {
	ContentWidth  float64 `json:"contentWidth"`
	ViewportWidth float64 `json:"viewportWidth"`
}

// FitsViewport reports whether the page renders without horizontal scroll
func (l Layout) FitsViewport() bool {
	return l.ContentWidth <= l.ViewportWidth
}
