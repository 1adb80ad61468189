package scenario

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/internal/driver/drivertest"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

const (
	baseURL   = "https://games.test/smi/"
	pixiURL   = baseURL + "speedy-maths-pixi.html"
	canvasURL = baseURL + "smi-legacy.html"
)

const landingHTML = `<html><body>
<h1>Speedy Maths Games</h1>
<div class="game-card"><a class="play-button" href="speedy-maths-pixi.html">Play PIXI</a></div>
<div class="game-card"><a class="play-button" href="smi-legacy.html">Play Canvas</a></div>
</body></html>`

func newSite() *drivertest.Site {
	return drivertest.NewSite().
		Add(baseURL, &drivertest.Page{HTML: landingHTML}).
		Add(pixiURL, &drivertest.Page{
			HTML: `<html><body><canvas></canvas></body></html>`,
			Globals: map[string]any{
				"app":                nil,
				"gameRunning":        false,
				"player":             nil,
				"Tone":               nil,
				"Tone.context.state": "suspended",
				"backgroundMusic":    nil,

				"performance.memory.usedJSHeapSize":  float64(1024),
				"performance.memory.totalJSHeapSize": float64(4096),
			},
			Metrics: map[string]float64{"JSEventListeners": 12},
		}).
		Add(canvasURL, &drivertest.Page{HTML: `<html><body><canvas width="800"></canvas></body></html>`})
}

type memoryArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryArtifacts) Save(name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[name] = data
	return filepath.Join("/artifacts", name), nil
}

func env(t *testing.T, target string) Env {
	return Env{
		RunID:     "run-test",
		Suite:     "test",
		BaseURL:   baseURL,
		TargetURL: target,
		Logger:    zaptest.NewLogger(t),
	}
}

func open(t *testing.T, site *drivertest.Site, url string) *drivertest.Driver {
	t.Helper()
	d := drivertest.NewDriver(site)
	require.NoError(t, d.Navigate(context.Background(), url))
	return d
}

func TestNewSuiteRejectsDuplicateNames(t *testing.T) {
	_, err := NewSuite("landing", "",
		LoadCheck("load", LoadOptions{Selector: "h1"}),
		NavigationCheck("load", "a"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate scenario name "load"`)
}

func TestNewSuiteRequiresBodies(t *testing.T) {
	_, err := NewSuite("landing", "", Scenario{Name: "empty"})
	assert.Error(t, err)

	_, err = NewSuite("", "")
	assert.Error(t, err)
}

func TestSuiteTargetURL(t *testing.T) {
	s := &Suite{Name: "pixi", TargetPath: "speedy-maths-pixi.html"}
	assert.Equal(t, pixiURL, s.TargetURL(baseURL))
	assert.Equal(t, pixiURL, s.TargetURL("https://games.test/smi"))

	landing := &Suite{Name: "landing"}
	assert.Equal(t, baseURL, landing.TargetURL(baseURL))
}

func TestAssertf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Assertf("want %d", 2))
	assert.True(t, IsAssertion(err))
	assert.False(t, IsAssertion(errors.New("plain")))
	assert.Equal(t, "wrapped: assertion failed: want 2", err.Error())
}

func TestLoadCheck(t *testing.T) {
	page := open(t, newSite(), baseURL)
	sc := LoadCheck("load", LoadOptions{Selector: "h1", CountSelector: ".game-card", MinCount: 2})

	data, err := sc.Body(context.Background(), page, env(t, baseURL))
	require.NoError(t, err)
	assert.Equal(t, models.Data{"title": "Speedy Maths Games", "gameCount": 2}, data)
	assert.Equal(t, KindLoad, sc.Kind)
	assert.True(t, sc.Fresh)
}

func TestLoadCheckTooFewCards(t *testing.T) {
	page := open(t, newSite(), baseURL)
	sc := LoadCheck("load", LoadOptions{Selector: "h1", CountSelector: ".game-card", MinCount: 3})

	data, err := sc.Body(context.Background(), page, env(t, baseURL))
	assert.True(t, IsAssertion(err))
	assert.Equal(t, 2, data["gameCount"])
}

func TestLoadCheckWaitsForDeadline(t *testing.T) {
	page := open(t, newSite(), canvasURL)
	sc := LoadCheck("load", LoadOptions{Selector: "h1", CountSelector: ".game-card"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := sc.Body(ctx, page, env(t, canvasURL))
	assert.True(t, driver.IsTimeout(err))
}

func TestNavigationCheckFollowsLink(t *testing.T) {
	page := open(t, newSite(), baseURL)
	sc := NavigationCheck("pixi", `a[href="speedy-maths-pixi.html"]`)

	data, err := sc.Body(context.Background(), page, env(t, baseURL))
	require.NoError(t, err)
	assert.Equal(t, true, data["found"])
	assert.Equal(t, pixiURL, data["url"])
	assert.Equal(t, []string{baseURL, pixiURL}, page.History())
}

func TestNavigationCheckMissingControlIsDegradedPass(t *testing.T) {
	page := open(t, newSite(), baseURL)
	sc := NavigationCheck("missing", `a[href="nope.html"]`)

	data, err := sc.Body(context.Background(), page, env(t, baseURL))
	require.NoError(t, err)
	assert.Equal(t, false, data["found"])
	assert.Equal(t, "control not found", data["caveat"])
}

func TestStateProbeToleratesMissingBindings(t *testing.T) {
	page := open(t, newSite(), pixiURL)
	sc := StateProbe("init",
		Element("canvasExists", "canvas"),
		Exists("pixiAppExists", "app"),
		Flag("audioInitialized", "audioInitialized"),
		Flag("gameRunning", "gameRunning"),
		Value("contextState", "Tone.context.state"),
		Value("missingValue", "Howler.ctx.state"),
	)

	data, err := sc.Body(context.Background(), page, env(t, pixiURL))
	require.NoError(t, err)
	assert.Equal(t, models.Data{
		"canvasExists":     true,
		"pixiAppExists":    true,
		"audioInitialized": false,
		"gameRunning":      false,
		"contextState":     "suspended",
		"missingValue":     driver.Unknown,
	}, data)
}

func TestStateProbeDriverFailureIsError(t *testing.T) {
	page := open(t, newSite(), pixiURL)
	page.Fail("Globals", driver.NewError(driver.CodeEvaluate, "globals", errors.New("boom")))

	_, err := StateProbe("init", Exists("app", "app")).Body(context.Background(), page, env(t, pixiURL))
	assert.Error(t, err)
}

func TestInputSimulationDispatchesInOrder(t *testing.T) {
	page := open(t, newSite(), pixiURL)
	sc := InputSimulation("controls", InputOptions{
		Keys:   []string{"ArrowLeft", "ArrowRight", "Space"},
		Pause:  10 * time.Millisecond,
		Before: []Probe{Exists("playerExists", "player"), Flag("gameStarted", "gameRunning")},
		Guard:  "playerExists",
	})

	start := time.Now()
	data, err := sc.Body(context.Background(), page, env(t, pixiURL))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []string{"ArrowLeft", "ArrowRight", "Space"}, page.Keys())
	assert.Equal(t, true, data["dispatched"])
	assert.Equal(t, true, data["playerExists"])
	assert.Equal(t, false, data["gameStarted"])
}

func TestInputSimulationSkipsWithoutGuard(t *testing.T) {
	page := open(t, newSite(), canvasURL)
	sc := InputSimulation("controls", InputOptions{
		Keys:   []string{"ArrowLeft"},
		Before: []Probe{Exists("playerExists", "player")},
		Guard:  "playerExists",
	})

	data, err := sc.Body(context.Background(), page, env(t, canvasURL))
	require.NoError(t, err)
	assert.Equal(t, false, data["dispatched"])
	assert.Empty(t, page.Keys())
}

func TestInputSimulationReportsDispatchError(t *testing.T) {
	page := open(t, newSite(), pixiURL)
	sc := InputSimulation("controls", InputOptions{Keys: []string{"ArrowLeft", "Hyper"}})

	data, err := sc.Body(context.Background(), page, env(t, pixiURL))
	assert.ErrorIs(t, err, driver.ErrUnsupportedKey)
	assert.Equal(t, []string{"ArrowLeft"}, data["keys"])
}

func TestScriptProbe(t *testing.T) {
	site := newSite()
	site.Add(canvasURL, &drivertest.Page{
		HTML:    `<html><body><canvas></canvas></body></html>`,
		Scripts: map[string]any{"canvasState()": map[string]any{"canvasWidth": 800, "contextExists": true}},
	})
	page := open(t, site, canvasURL)

	data, err := ScriptProbe("render", "canvasState()").Body(context.Background(), page, env(t, canvasURL))
	require.NoError(t, err)
	assert.Equal(t, float64(800), data["canvasWidth"])
	assert.Equal(t, true, data["contextExists"])
}

func TestFrameSampleData(t *testing.T) {
	sample := FrameSample{Count: 10, Elapsed: 5000 * time.Millisecond, TimedOut: true}
	data := sample.Data()

	assert.Equal(t, 10, data["frameCount"])
	assert.Equal(t, true, data["timeout"])
	assert.InDelta(t, 2.0, data["fps"], 1e-9)
	assert.Equal(t, int64(5000), data["duration"])

	_, ok := FrameSample{Count: 60, Elapsed: time.Second}.Data()["timeout"]
	assert.False(t, ok)
	assert.Equal(t, float64(0), FrameSample{Count: 3}.FPS())
}

type staticCounter struct{ n int }

func (c staticCounter) Count(ctx context.Context) (int, error) { return c.n, nil }
func (c staticCounter) Stop(ctx context.Context) error         { return nil }

type slowCounter struct {
	delay time.Duration
	n     int
}

func (c slowCounter) Count(ctx context.Context) (int, error) {
	time.Sleep(c.delay)
	return c.n, nil
}
func (c slowCounter) Stop(ctx context.Context) error { return nil }

func TestSampleFramesWindowElapses(t *testing.T) {
	window := 100 * time.Millisecond
	sample, err := SampleFrames(context.Background(), staticCounter{n: 10}, window, 60, 5*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, sample.TimedOut)
	assert.Equal(t, 10, sample.Count)
	assert.Equal(t, window, sample.Elapsed)
	assert.InDelta(t, 100.0, sample.FPS(), 1e-9)
}

func TestSampleFramesTargetReached(t *testing.T) {
	sample, err := SampleFrames(context.Background(), staticCounter{n: 60}, time.Second, 60, 5*time.Millisecond)
	require.NoError(t, err)

	assert.False(t, sample.TimedOut)
	assert.Equal(t, 60, sample.Count)
	assert.Less(t, sample.Elapsed, time.Second)
}

func TestSampleFramesTimeoutWinsTie(t *testing.T) {
	// The target is reached, but only after the window closed
	counter := slowCounter{delay: 60 * time.Millisecond, n: 100}
	sample, err := SampleFrames(context.Background(), counter, 20*time.Millisecond, 60, 5*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, sample.TimedOut)
	assert.Equal(t, 20*time.Millisecond, sample.Elapsed)
}

func TestSampleFramesHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SampleFrames(ctx, staticCounter{}, time.Second, 60, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrameSamplingScenario(t *testing.T) {
	site := newSite()
	site.Add(canvasURL, &drivertest.Page{HTML: `<canvas></canvas>`, FrameRate: 2000})
	page := open(t, site, canvasURL)

	sc := FrameSampling("loop", 2*time.Second, 60)
	assert.Equal(t, KindMonitoring, sc.Kind)
	assert.Equal(t, 2*time.Second, sc.Window)

	data, err := sc.Body(context.Background(), page, env(t, canvasURL))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, data["frameCount"], 60)
	_, timedOut := data["timeout"]
	assert.False(t, timedOut)
}

type stuckCounter struct{ driver.FrameCounter }

func (stuckCounter) Stop(ctx context.Context) error { return errors.New("page crashed") }

type stuckCounterPage struct{ *drivertest.Driver }

func (p stuckCounterPage) FrameCounter(ctx context.Context) (driver.FrameCounter, error) {
	counter, err := p.Driver.FrameCounter(ctx)
	if err != nil {
		return nil, err
	}
	return stuckCounter{counter}, nil
}

func TestFrameSamplingLogsStopFailures(t *testing.T) {
	site := newSite()
	site.Add(canvasURL, &drivertest.Page{HTML: `<canvas></canvas>`, FrameRate: 2000})
	page := stuckCounterPage{open(t, site, canvasURL)}

	core, logs := observer.New(zap.DebugLevel)
	e := env(t, canvasURL)
	e.Logger = zap.New(core)

	data, err := FrameSampling("loop", time.Second, 10).Body(context.Background(), page, e)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, data["frameCount"], 10)

	entries := logs.FilterMessage("failed to stop frame counter").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "page crashed", entries[0].ContextMap()["error"])
}

func TestMemorySampling(t *testing.T) {
	page := open(t, newSite(), pixiURL)

	data, err := MemorySampling("perf", 20*time.Millisecond).Body(context.Background(), page, env(t, pixiURL))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, data["duration"], int64(20))
	assert.Equal(t, map[string]float64{"JSEventListeners": 12}, data["metrics"])
	assert.Equal(t, models.Data{"usedJSHeapSize": float64(1024), "totalJSHeapSize": float64(4096)}, data["memoryUsage"])
}

func TestMemorySamplingWithoutHeapInfo(t *testing.T) {
	page := open(t, newSite(), canvasURL)

	data, err := MemorySampling("perf", time.Millisecond).Body(context.Background(), page, env(t, canvasURL))
	require.NoError(t, err)
	assert.Nil(t, data["memoryUsage"])
}

func TestResponsiveSweep(t *testing.T) {
	site := newSite()
	page := drivertest.NewDriver(site)
	artifacts := &memoryArtifacts{}
	e := env(t, baseURL)
	e.Artifacts = artifacts

	sc := ResponsiveSweep("responsive", ResponsiveOptions{
		Viewports: []models.ViewportSpec{
			{Width: 1920, Height: 1080, Label: "Desktop Large"},
			{Width: 375, Height: 667, Label: "Mobile"},
		},
		CardSelector:     ".game-card",
		ButtonSelector:   ".play-button",
		ScreenshotPrefix: "landing",
	})

	data, err := sc.Body(context.Background(), page, e)
	require.NoError(t, err)

	viewports := data["viewports"].([]models.Data)
	require.Len(t, viewports, 2)
	for _, vp := range viewports {
		assert.Equal(t, true, vp["gameCardsVisible"], vp["viewport"])
		assert.Equal(t, true, vp["buttonsClickable"], vp["viewport"])
		assert.Equal(t, true, vp["noHorizontalScroll"], vp["viewport"])
		assert.Equal(t, true, vp["screenshotTaken"], vp["viewport"])
	}
	assert.Equal(t, "/artifacts/landing-desktop-large.png", viewports[0]["screenshot"])
	assert.Equal(t, "/artifacts/landing-mobile.png", viewports[1]["screenshot"])
	assert.Equal(t, [][2]int{{1920, 1080}, {375, 667}}, page.Viewports())
	assert.Equal(t, []string{baseURL, baseURL}, page.History())
	assert.Len(t, artifacts.files, 2)
}

func TestResponsiveSweepDetectsHorizontalScroll(t *testing.T) {
	site := drivertest.NewSite().Add(baseURL, &drivertest.Page{HTML: landingHTML, ContentWidth: 900})
	page := drivertest.NewDriver(site)

	sc := ResponsiveSweep("responsive", ResponsiveOptions{
		Viewports:    []models.ViewportSpec{{Width: 1920, Height: 1080, Label: "Desktop"}, {Width: 375, Height: 667, Label: "Mobile"}},
		CardSelector: ".game-card",
	})
	data, err := sc.Body(context.Background(), page, env(t, baseURL))
	require.NoError(t, err)

	viewports := data["viewports"].([]models.Data)
	assert.Equal(t, true, viewports[0]["noHorizontalScroll"])
	assert.Equal(t, false, viewports[1]["noHorizontalScroll"])
}

func TestResponsiveSweepUsesEnvViewportsAndKeepsPartialData(t *testing.T) {
	site := drivertest.NewSite().Add(baseURL, &drivertest.Page{HTML: landingHTML})
	page := drivertest.NewDriver(site)
	e := env(t, baseURL)
	e.Viewports = []models.ViewportSpec{{Width: 800, Height: 600, Label: "Small"}}
	e.Artifacts = &memoryArtifacts{}

	data, err := ResponsiveSweep("r", ResponsiveOptions{CardSelector: ".game-card"}).Body(context.Background(), page, e)
	require.NoError(t, err)
	assert.Len(t, data["viewports"], 1)

	page.Fail("Screenshot", errors.New("capture failed"))
	data, err = ResponsiveSweep("r", ResponsiveOptions{CardSelector: ".game-card"}).Body(context.Background(), page, e)
	assert.Error(t, err)
	assert.Empty(t, data["viewports"])
}

func TestWaitingFor(t *testing.T) {
	page := open(t, newSite(), pixiURL)
	sc := WaitingFor("canvas", StateProbe("init", Exists("pixiAppExists", "app")))

	data, err := sc.Body(context.Background(), page, env(t, pixiURL))
	require.NoError(t, err)
	assert.Equal(t, true, data["pixiAppExists"])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	missing := WaitingFor("#stage", StateProbe("init", Exists("pixiAppExists", "app")))
	_, err = missing.Body(ctx, page, env(t, pixiURL))
	assert.True(t, driver.IsTimeout(err))
}
