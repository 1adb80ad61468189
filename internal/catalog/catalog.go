// Package catalog defines the probe suites for the Speedy Maths game site:
// the landing page, the PIXI.js game, the Canvas game and the responsive
// layout sweep.
package catalog

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/shehryarbajwa/gameprobe/internal/scenario"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// Page paths relative to the base URL
const (
	LandingPath = ""
	PixiPath    = "speedy-maths-pixi.html"
	CanvasPath  = "smi-legacy.html"
)

// Suite names
const (
	Landing    = "landing"
	Pixi       = "pixi"
	Canvas     = "canvas"
	Responsive = "responsive"
)

const canvasStateScript = `(() => {
	const canvas = document.querySelector('canvas');
	const ctx = canvas ? canvas.getContext('2d') : null;
	return {
		canvasExists: !!canvas,
		contextExists: !!ctx,
		canvasWidth: canvas ? canvas.width : 0,
		canvasHeight: canvas ? canvas.height : 0,
		gameInitialized: typeof gameLoop !== 'undefined'
	};
})()`

// Options tunes the catalog
type Options struct {
	// Viewports swept by the responsive suite; empty means the runner's
	Viewports []models.ViewportSpec
	// FrameWindow bounds game loop sampling
	FrameWindow time.Duration
	// FrameTarget stops sampling early once reached
	FrameTarget int
	// MemoryWindow is how long the PIXI game runs before memory is read
	MemoryWindow time.Duration
	// KeyPause separates simulated key presses
	KeyPause time.Duration
}

// DefaultOptions returns the stock windows: 5s of sampling, 60 frames,
// 100ms between keys
func DefaultOptions() Options {
	return Options{
		FrameWindow:  5 * time.Second,
		FrameTarget:  60,
		MemoryWindow: 5 * time.Second,
		KeyPause:     100 * time.Millisecond,
	}
}

// Default builds every suite in declared order
func Default(opts Options) ([]*scenario.Suite, error) {
	builders := []func(Options) (*scenario.Suite, error){
		LandingSuite,
		PixiSuite,
		CanvasSuite,
		ResponsiveSuite,
	}

	suites := make([]*scenario.Suite, 0, len(builders))
	for _, build := range builders {
		s, err := build(opts)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// Names lists the suite names in declared order
func Names(suites []*scenario.Suite) []string {
	return lo.Map(suites, func(s *scenario.Suite, _ int) string { return s.Name })
}

// Select keeps the named suites, in catalog order. No names selects all.
func Select(suites []*scenario.Suite, names []string) ([]*scenario.Suite, error) {
	if len(names) == 0 {
		return suites, nil
	}
	known := Names(suites)
	if unknown := lo.Without(lo.Uniq(names), known...); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown suites %v, available: %v", unknown, known)
	}
	return lo.Filter(suites, func(s *scenario.Suite, _ int) bool {
		return lo.Contains(names, s.Name)
	}), nil
}

// LandingSuite checks the landing page renders its game cards and links
func LandingSuite(Options) (*scenario.Suite, error) {
	return scenario.NewSuite(Landing, LandingPath,
		scenario.LoadCheck("landing page load", scenario.LoadOptions{
			Selector:      "h1",
			CountSelector: ".game-card",
			MinCount:      2,
		}),
		scenario.NavigationCheck("navigate to pixi game", `a[href="`+PixiPath+`"]`),
		scenario.NavigationCheck("navigate to canvas game", `a[href="`+CanvasPath+`"]`),
	)
}

// PixiSuite probes the PIXI.js game state, audio, controls and memory
func PixiSuite(opts Options) (*scenario.Suite, error) {
	initialization := scenario.WaitingFor("canvas", scenario.StateProbe("game initialization",
		scenario.Element("canvasExists", "canvas"),
		scenario.Exists("pixiAppExists", "app"),
		scenario.Flag("audioInitialized", "audioInitialized"),
		scenario.Flag("gameRunning", "gameRunning"),
	))

	audio := scenario.WaitingFor("canvas", scenario.StateProbe("audio system",
		scenario.Exists("toneJsAvailable", "Tone"),
		scenario.Value("contextState", "Tone.context.state"),
		scenario.Exists("backgroundMusicExists", "backgroundMusic"),
		scenario.Exists("soundsExists", "sounds"),
	))

	controls := scenario.WaitingFor("canvas", scenario.InputSimulation("game controls", scenario.InputOptions{
		Keys:  []string{"ArrowLeft", "ArrowRight", "Space"},
		Pause: opts.KeyPause,
		Before: []scenario.Probe{
			scenario.Exists("playerExists", "player"),
			scenario.Flag("gameStarted", "gameRunning"),
		},
		Guard: "playerExists",
	}))

	performance := scenario.WaitingFor("canvas", scenario.MemorySampling("performance", opts.MemoryWindow))

	return scenario.NewSuite(Pixi, PixiPath, initialization, audio, controls, performance)
}

// CanvasSuite probes the Canvas game rendering surface and its game loop
func CanvasSuite(opts Options) (*scenario.Suite, error) {
	return scenario.NewSuite(Canvas, CanvasPath,
		scenario.WaitingFor("canvas", scenario.ScriptProbe("canvas rendering", canvasStateScript)),
		scenario.WaitingFor("canvas", scenario.FrameSampling("game loop", opts.FrameWindow, opts.FrameTarget)),
	)
}

// ResponsiveSuite sweeps the landing page across viewports
func ResponsiveSuite(opts Options) (*scenario.Suite, error) {
	return scenario.NewSuite(Responsive, LandingPath,
		scenario.ResponsiveSweep("responsive design", scenario.ResponsiveOptions{
			Viewports:        opts.Viewports,
			CardSelector:     ".game-card",
			ButtonSelector:   ".play-button",
			ScreenshotPrefix: "landing",
		}),
	)
}

// CanvasStateScript is the rendering probe evaluated by the canvas suite
func CanvasStateScript() string {
	return canvasStateScript
}
