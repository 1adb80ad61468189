// Package app assembles the probe components from a Config. Both binaries
// share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/gameprobe/internal/artifact"
	"github.com/shehryarbajwa/gameprobe/internal/browser"
	"github.com/shehryarbajwa/gameprobe/internal/catalog"
	"github.com/shehryarbajwa/gameprobe/internal/config"
	"github.com/shehryarbajwa/gameprobe/internal/metrics"
	"github.com/shehryarbajwa/gameprobe/internal/ratelimit"
	"github.com/shehryarbajwa/gameprobe/internal/runner"
	"github.com/shehryarbajwa/gameprobe/internal/scenario"
	"github.com/shehryarbajwa/gameprobe/internal/session"
	"github.com/shehryarbajwa/gameprobe/internal/stream"
)

// App holds the wired components
type App struct {
	Config    *config.Config
	Pool      *browser.Pool // nil with the remote backend
	Sessions  *session.Manager
	Artifacts *artifact.Store
	Metrics   *metrics.Metrics
	Hub       *stream.Hub
	Runner    *runner.Runner
	Suites    []*scenario.Suite
}

// NewLogger builds the process logger, human readable in debug mode
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Options adjusts what New builds
type Options struct {
	Catalog catalog.Options
	// Suites restricts the catalog to these names; empty keeps every suite
	Suites []string
}

// New builds every component. With the docker backend the browser image is
// pulled first, which can take minutes on a cold host.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg}

	suites, err := catalog.Default(opts.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	if a.Suites, err = catalog.Select(suites, opts.Suites); err != nil {
		return nil, err
	}

	a.Artifacts, err = artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("✓ Artifact store initialized", zap.String("dir", cfg.Artifacts.Dir))

	var launcher session.Launcher
	if cfg.Browser.Backend == session.BackendDocker {
		pool, err := browser.NewPool(cfg.Browser.Image, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("⏳ Ensuring Chrome image is available...")
		if err := pool.EnsureImage(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure browser image: %w", err)
		}
		logger.Info("✓ Chrome image ready")
		a.Pool = pool
		launcher = pool
	}

	sessions, err := session.NewManager(cfg.SessionConfig(), launcher, session.ChromeConnector, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metrics = metrics.New()
	a.Sessions = sessions.WithGauge(a.Metrics.ActiveSessions)
	logger.Info("✓ Session manager initialized",
		zap.String("backend", string(cfg.Browser.Backend)),
		zap.Int64("maxSessions", cfg.Browser.MaxSessions))

	a.Hub = stream.NewHub(cfg.API.RunTTL, logger)
	navigation := ratelimit.New(rate.Limit(cfg.Browser.NavigationRate), 1)

	store := a.Artifacts
	a.Runner = runner.New(cfg.RunnerConfig(), a.Sessions, logger,
		runner.WithObserver(a.Hub),
		runner.WithObserver(a.Metrics),
		runner.WithArtifacts(func(runID string) scenario.Artifacts { return store.Run(runID) }),
		runner.WithThrottle(navigation),
	)
	logger.Info("✓ Runner initialized",
		zap.Strings("suites", catalog.Names(a.Suites)),
		zap.String("isolation", string(cfg.Isolation)),
		zap.Int("parallelism", cfg.Parallelism))

	return a, nil
}

// Close ends every open session and releases the Docker client
func (a *App) Close() error {
	var err error
	if a.Sessions != nil {
		err = multierr.Append(err, a.Sessions.Close())
	}
	if a.Pool != nil {
		err = multierr.Append(err, a.Pool.Close())
	}
	return err
}
