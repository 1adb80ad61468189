package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/performance"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

var bindingPath = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

const queryScript = `((sel) => Array.from(document.querySelectorAll(sel)).map((el) => ({
	text: (el.textContent || "").trim(),
	attributes: Object.fromEntries(Array.from(el.attributes).map((a) => [a.name, a.value])),
})))(%s)`

const clickScript = `((sel, i) => {
	const el = document.querySelectorAll(sel)[i];
	if (!el) return false;
	el.click();
	return true;
})(%s, %d)`

// Global lookups go through Function so top-level let/const bindings resolve too.
const globalsScript = `((paths) => {
	const out = {};
	for (const path of paths) {
		const [head, ...rest] = path.split(".");
		let cur;
		try {
			cur = new Function("return typeof " + head + " === 'undefined' ? undefined : " + head)();
		} catch (e) {
			cur = undefined;
		}
		let present = cur !== undefined;
		for (const key of rest) {
			if (!present) break;
			if (cur === null || (typeof cur !== "object" && typeof cur !== "function") || !(key in cur)) {
				present = false;
				break;
			}
			cur = cur[key];
			present = cur !== undefined;
		}
		const simple = ["string", "number", "boolean"].includes(typeof cur);
		out[path] = { present: present, value: present && simple ? cur : null };
	}
	return out;
})(%s)`

const frameCounterStartScript = `(() => {
	const id = "f" + Math.random().toString(36).slice(2);
	const state = { count: 0, running: true };
	window.__gameprobeFrames = window.__gameprobeFrames || {};
	window.__gameprobeFrames[id] = state;
	const tick = () => {
		if (!state.running) return;
		state.count++;
		requestAnimationFrame(tick);
	};
	requestAnimationFrame(tick);
	return id;
})()`

const frameCounterCountScript = `(() => {
	const s = window.__gameprobeFrames && window.__gameprobeFrames[%[1]q];
	return s ? s.count : -1;
})()`

const frameCounterStopScript = `(() => {
	const s = window.__gameprobeFrames && window.__gameprobeFrames[%[1]q];
	if (s) {
		s.running = false;
		delete window.__gameprobeFrames[%[1]q];
	}
	return true;
})()`

const layoutScript = `({ contentWidth: document.body.scrollWidth, viewportWidth: window.innerWidth })`

// Chrome drives one tab of a remote Chrome over the DevTools protocol
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	closeOnce   sync.Once
}

// NewChrome opens a new tab on the browser listening at connectURL. parent
// bounds the lifetime of the tab, not of individual operations.
func NewChrome(parent context.Context, connectURL string, logger *zap.Logger) (*Chrome, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(parent, connectURL)
	sugar := logger.Sugar()
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	// The first Run allocates the tab
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, NewError(CodeConnectionLost, "connect", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	return &Chrome{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// run executes actions on the tab, bounded by the caller's ctx
func (c *Chrome) run(ctx context.Context, code, op string, actions ...chromedp.Action) error {
	if c.ctx.Err() != nil {
		return NewError(CodeClosed, op, ErrSessionClosed)
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case c.ctx.Err() != nil:
		return NewError(CodeClosed, op, ErrSessionClosed)
	case errors.Is(err, chromedp.ErrChannelClosed), errors.Is(err, chromedp.ErrInvalidContext):
		return NewError(CodeConnectionLost, op, fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
	return NewError(code, op, err)
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	if err := c.run(ctx, CodeNavigation, "navigate", chromedp.Navigate(url)); err != nil {
		return err
	}
	c.logger.Debug("navigated", zap.String("url", url), zap.Duration("latency", time.Since(start)))
	return nil
}

func (c *Chrome) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := c.run(waitCtx, CodeEvaluate, "wait", chromedp.WaitReady(selector, chromedp.ByQuery))
	if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return WaitTimeout(selector)
	}
	return err
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	return c.run(ctx, CodeEvaluate, "evaluate", chromedp.Evaluate(script, out, awaitPromise))
}

func (c *Chrome) Query(ctx context.Context, selector string) (*Element, error) {
	all, err := c.QueryAll(ctx, selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (c *Chrome) QueryAll(ctx context.Context, selector string) ([]*Element, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var found []*Element
	if err := c.Evaluate(ctx, fmt.Sprintf(queryScript, sel), &found); err != nil {
		return nil, err
	}
	for i, el := range found {
		el.Selector = selector
		el.Index = i
	}
	return found, nil
}

func (c *Chrome) Click(ctx context.Context, el *Element) error {
	if el == nil {
		return NewError(CodeInput, "click", ErrElementNotFound)
	}
	sel, err := json.Marshal(el.Selector)
	if err != nil {
		return err
	}
	var clicked bool
	if err := c.Evaluate(ctx, fmt.Sprintf(clickScript, sel, el.Index), &clicked); err != nil {
		return err
	}
	if !clicked {
		return NewError(CodeInput, "click "+el.Selector, ErrElementNotFound)
	}
	return nil
}

func (c *Chrome) PressKey(ctx context.Context, key string) error {
	k, err := KeyValue(key)
	if err != nil {
		return NewError(CodeInput, "press", err)
	}
	return c.run(ctx, CodeInput, "press "+key, chromedp.KeyEvent(k))
}

func (c *Chrome) SetViewport(ctx context.Context, width, height int) error {
	return c.run(ctx, CodeEvaluate, "viewport", chromedp.EmulateViewport(int64(width), int64(height)))
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, CodeEvaluate, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Chrome) Metrics(ctx context.Context) (map[string]float64, error) {
	var metrics []*performance.Metric
	err := c.run(ctx, CodeEvaluate, "metrics",
		performance.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			metrics, err = performance.GetMetrics().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		out[m.Name] = m.Value
	}
	return out, nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, CodeEvaluate, "location", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Chrome) Globals(ctx context.Context, paths ...string) (map[string]Binding, error) {
	for _, p := range paths {
		if !bindingPath.MatchString(p) {
			return nil, NewError(CodeEvaluate, "globals", fmt.Errorf("invalid binding path %q", p))
		}
	}
	arg, err := json.Marshal(paths)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Binding, len(paths))
	if err := c.Evaluate(ctx, fmt.Sprintf(globalsScript, arg), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) FrameCounter(ctx context.Context) (FrameCounter, error) {
	var id string
	if err := c.Evaluate(ctx, frameCounterStartScript, &id); err != nil {
		return nil, err
	}
	return &chromeFrameCounter{chrome: c, id: id}, nil
}

func (c *Chrome) Layout(ctx context.Context) (Layout, error) {
	var layout Layout
	err := c.Evaluate(ctx, layoutScript, &layout)
	return layout, err
}

// Close closes the tab and releases the remote allocator
func (c *Chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = chromedp.Cancel(c.ctx)
		c.cancel()
		c.allocCancel()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromeFrameCounter struct {
	chrome *Chrome
	id     string
}

func (f *chromeFrameCounter) Count(ctx context.Context) (int, error) {
	var n int
	if err := f.chrome.Evaluate(ctx, fmt.Sprintf(frameCounterCountScript, f.id), &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, NewError(CodeEvaluate, "frames", errors.New("frame counter lost, page reloaded"))
	}
	return n, nil
}

func (f *chromeFrameCounter) Stop(ctx context.Context) error {
	var stopped bool
	return f.chrome.Evaluate(ctx, fmt.Sprintf(frameCounterStopScript, f.id), &stopped)
}

// KeyValue maps a key name such as "ArrowLeft" or "Space" to the value
// dispatched to the page.
func KeyValue(name string) (string, error) {
	switch name {
	case "ArrowLeft":
		return kb.ArrowLeft, nil
	case "ArrowRight":
		return kb.ArrowRight, nil
	case "ArrowUp":
		return kb.ArrowUp, nil
	case "ArrowDown":
		return kb.ArrowDown, nil
	case "Enter":
		return kb.Enter, nil
	case "Escape":
		return kb.Escape, nil
	case "Tab":
		return kb.Tab, nil
	case "Space":
		return " ", nil
	}
	if utf8.RuneCountInString(name) == 1 {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedKey, name)
}
