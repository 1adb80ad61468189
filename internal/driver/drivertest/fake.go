// Package drivertest provides an in-memory PageDriver for tests. Pages are
// plain HTML documents queried with goquery, with page globals and script
// results supplied as data.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
)

// Page describes one URL served by a Site
type Page struct {
	HTML string
	// Globals maps dotted binding paths to their values
	Globals map[string]any
	// Scripts maps an exact script to the value Evaluate decodes from it
	Scripts map[string]any
	Metrics map[string]float64
	// ContentWidth is the rendered document width; 0 means it fits any viewport
	ContentWidth float64
	// FrameRate generates animation frames per second for frame counters.
	// When zero, counters report FrameCount.
	FrameRate  float64
	FrameCount int
	// LoadDelay is how long Navigate takes for this page
	LoadDelay time.Duration
}

// Site is a set of pages keyed by absolute URL
type Site struct {
	mu    sync.RWMutex
	pages map[string]*Page
}

// NewSite creates an empty site
func NewSite() *Site {
	return &Site{pages: make(map[string]*Page)}
}

// Add registers a page at rawURL
func (s *Site) Add(rawURL string, page *Page) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = page
	return s
}

func (s *Site) page(rawURL string) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[rawURL]
	return p, ok
}

// Driver is a fake driver.PageDriver bound to a Site
type Driver struct {
	site *Site

	mu        sync.Mutex
	url       string
	page      *Page
	doc       *goquery.Document
	width     int
	height    int
	closed    bool
	failures  map[string]error
	blocked   map[string]bool
	history   []string
	keys      []string
	viewports [][2]int
	shots     int
}

var _ driver.PageDriver = (*Driver)(nil)

// NewDriver creates a driver with a 1280x720 viewport showing about:blank
func NewDriver(site *Site) *Driver {
	return &Driver{
		site:     site,
		url:      "about:blank",
		width:    1280,
		height:   720,
		failures: make(map[string]error),
		blocked:  make(map[string]bool),
	}
}

// Fail makes every later call of op return err. op is the method name, for
// example "Navigate" or "Evaluate".
func (d *Driver) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// Block makes op wait until its context is done
func (d *Driver) Block(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked[op] = true
}

// History returns every URL navigated to, in order
func (d *Driver) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.history...)
}

// Keys returns the keys pressed so far
func (d *Driver) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

// Viewports returns every viewport applied, as width/height pairs
func (d *Driver) Viewports() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]int(nil), d.viewports...)
}

// Screenshots returns the number of screenshots taken
func (d *Driver) Screenshots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shots
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) enter(ctx context.Context, op string) error {
	d.mu.Lock()
	closed := d.closed
	err := d.failures[op]
	blocked := d.blocked[op]
	d.mu.Unlock()

	if closed {
		return driver.NewError(driver.CodeClosed, op, driver.ErrSessionClosed)
	}
	if err != nil {
		return err
	}
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

func (d *Driver) current() (*Page, *goquery.Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page, d.doc
}

func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	if err := d.enter(ctx, "Navigate"); err != nil {
		return err
	}
	page, ok := d.site.page(rawURL)
	if !ok {
		return driver.NewError(driver.CodeNavigation, "navigate", fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", rawURL))
	}
	if page.LoadDelay > 0 {
		select {
		case <-time.After(page.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return driver.NewError(driver.CodeNavigation, "navigate", err)
	}

	d.mu.Lock()
	d.url = rawURL
	d.page = page
	d.doc = doc
	d.history = append(d.history, rawURL)
	d.mu.Unlock()
	return nil
}

func (d *Driver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := d.enter(ctx, "WaitFor"); err != nil {
		return err
	}
	_, doc := d.current()
	if doc != nil && doc.Find(selector).Length() > 0 {
		return nil
	}

	// Static pages never change, so a missing selector waits out the timeout
	if timeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-time.After(timeout):
		return driver.WaitTimeout(selector)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) Evaluate(ctx context.Context, script string, out any) error {
	if err := d.enter(ctx, "Evaluate"); err != nil {
		return err
	}
	page, _ := d.current()
	if page == nil {
		return driver.NewError(driver.CodeEvaluate, "evaluate", fmt.Errorf("no page loaded"))
	}
	value, ok := page.Scripts[script]
	if !ok {
		return driver.NewError(driver.CodeEvaluate, "evaluate", fmt.Errorf("ReferenceError: script is not defined on this page"))
	}
	return decode(value, out)
}

func (d *Driver) Query(ctx context.Context, selector string) (*driver.Element, error) {
	all, err := d.QueryAll(ctx, selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (d *Driver) QueryAll(ctx context.Context, selector string) ([]*driver.Element, error) {
	if err := d.enter(ctx, "QueryAll"); err != nil {
		return nil, err
	}
	_, doc := d.current()
	if doc == nil {
		return nil, nil
	}

	var found []*driver.Element
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		el := &driver.Element{
			Selector:   selector,
			Index:      i,
			Text:       strings.TrimSpace(s.Text()),
			Attributes: make(map[string]string),
		}
		for _, attr := range s.Nodes[0].Attr {
			el.Attributes[attr.Key] = attr.Val
		}
		found = append(found, el)
	})
	return found, nil
}

// Click follows href attributes relative to the current URL
func (d *Driver) Click(ctx context.Context, el *driver.Element) error {
	if err := d.enter(ctx, "Click"); err != nil {
		return err
	}
	if el == nil {
		return driver.NewError(driver.CodeInput, "click", driver.ErrElementNotFound)
	}
	href, ok := el.Attr("href")
	if !ok {
		return nil
	}

	d.mu.Lock()
	base := d.url
	d.mu.Unlock()
	target, err := resolve(base, href)
	if err != nil {
		return driver.NewError(driver.CodeInput, "click", err)
	}
	return d.Navigate(ctx, target)
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	if err := d.enter(ctx, "PressKey"); err != nil {
		return err
	}
	if _, err := driver.KeyValue(key); err != nil {
		return driver.NewError(driver.CodeInput, "press", err)
	}
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetViewport(ctx context.Context, width, height int) error {
	if err := d.enter(ctx, "SetViewport"); err != nil {
		return err
	}
	d.mu.Lock()
	d.width, d.height = width, height
	d.viewports = append(d.viewports, [2]int{width, height})
	d.mu.Unlock()
	return nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.enter(ctx, "Screenshot"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.shots++
	w, h := d.width, d.height
	d.mu.Unlock()
	return []byte(fmt.Sprintf("\x89PNG fake %dx%d", w, h)), nil
}

func (d *Driver) Metrics(ctx context.Context) (map[string]float64, error) {
	if err := d.enter(ctx, "Metrics"); err != nil {
		return nil, err
	}
	page, _ := d.current()
	out := make(map[string]float64)
	if page != nil {
		for k, v := range page.Metrics {
			out[k] = v
		}
	}
	return out, nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	if err := d.enter(ctx, "CurrentURL"); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *Driver) Globals(ctx context.Context, paths ...string) (map[string]driver.Binding, error) {
	if err := d.enter(ctx, "Globals"); err != nil {
		return nil, err
	}
	page, _ := d.current()
	out := make(map[string]driver.Binding, len(paths))
	for _, p := range paths {
		if page == nil {
			out[p] = driver.Binding{}
			continue
		}
		v, ok := page.Globals[p]
		out[p] = driver.Binding{Present: ok, Value: v}
	}
	return out, nil
}

func (d *Driver) FrameCounter(ctx context.Context) (driver.FrameCounter, error) {
	if err := d.enter(ctx, "FrameCounter"); err != nil {
		return nil, err
	}
	page, _ := d.current()
	if page == nil {
		return nil, driver.NewError(driver.CodeEvaluate, "frames", fmt.Errorf("no page loaded"))
	}
	return &frameCounter{page: page, started: time.Now()}, nil
}

func (d *Driver) Layout(ctx context.Context) (driver.Layout, error) {
	if err := d.enter(ctx, "Layout"); err != nil {
		return driver.Layout{}, err
	}
	page, _ := d.current()
	d.mu.Lock()
	width := float64(d.width)
	d.mu.Unlock()

	content := width
	if page != nil && page.ContentWidth > 0 {
		content = page.ContentWidth
	}
	return driver.Layout{ContentWidth: content, ViewportWidth: width}, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type frameCounter struct {
	page    *Page
	started time.Time
	stopped bool
	mu      sync.Mutex
}

func (f *frameCounter) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.page.FrameRate > 0 {
		return int(time.Since(f.started).Seconds() * f.page.FrameRate), nil
	}
	return f.page.FrameCount, nil
}

func (f *frameCounter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

func decode(value, out any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
