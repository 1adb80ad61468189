// Package runner executes suites of scenarios against browser sessions and
// assembles the results into a report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/internal/scenario"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// Isolation decides how page handles are shared between scenarios
type Isolation string

const (
	// IsolationShared keeps one page handle for a whole suite
	IsolationShared Isolation = "shared"
	// IsolationPerScenario opens a new page handle for every scenario
	IsolationPerScenario Isolation = "per-scenario"
)

// SessionUnavailable is the diagnostic message of scenarios that never ran
// because no page handle could be opened
const SessionUnavailable = "session unavailable"

// Timeouts is the per-kind deadline policy
type Timeouts struct {
	Load        time.Duration `yaml:"load"`
	Interaction time.Duration `yaml:"interaction"`
	// Monitoring is added on top of the scenario's sampling window
	Monitoring time.Duration `yaml:"monitoring"`
	Responsive time.Duration `yaml:"responsive"`
}

// DefaultTimeouts returns the stock deadlines
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Load:        10 * time.Second,
		Interaction: 10 * time.Second,
		Monitoring:  5 * time.Second,
		Responsive:  30 * time.Second,
	}
}

// For returns the deadline for sc
func (t Timeouts) For(sc scenario.Scenario) time.Duration {
	if sc.Timeout > 0 {
		return sc.Timeout
	}
	switch sc.Kind {
	case scenario.KindLoad, scenario.KindNavigation:
		return t.Load
	case scenario.KindMonitoring:
		return t.Monitoring + sc.Window
	case scenario.KindResponsive:
		return t.Responsive
	default:
		return t.Interaction
	}
}

// Config controls how suites are executed
type Config struct {
	BaseURL     string
	Isolation   Isolation
	Parallelism int
	Timeouts    Timeouts
	Viewports   []models.ViewportSpec
}

// SessionOpener provides page handles. Each call returns a new, independent
// handle that the runner closes when done with it.
type SessionOpener interface {
	Open(ctx context.Context, suite string) (driver.PageDriver, error)
}

// OpenerFunc adapts a function to SessionOpener
type OpenerFunc func(ctx context.Context, suite string) (driver.PageDriver, error)

func (f OpenerFunc) Open(ctx context.Context, suite string) (driver.PageDriver, error) {
	return f(ctx, suite)
}

// Observer is notified of scenario state transitions. Calls may come from
// several goroutines at once.
type Observer interface {
	ScenarioStarted(runID string, result models.Result)
	ScenarioFinished(runID string, result models.Result)
}

// Throttle paces navigations per key
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Option customizes a Runner
type Option func(*Runner)

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithArtifacts supplies the artifact sink of each run
func WithArtifacts(sink func(runID string) scenario.Artifacts) Option {
	return func(r *Runner) { r.artifacts = sink }
}

// WithThrottle paces page navigations per target host
func WithThrottle(t Throttle) Option {
	return func(r *Runner) { r.throttle = t }
}

// Runner executes suites
type Runner struct {
	cfg       Config
	sessions  SessionOpener
	logger    *zap.Logger
	observers []Observer
	artifacts func(runID string) scenario.Artifacts
	throttle  Throttle
}

// New creates a runner
func New(cfg Config, sessions SessionOpener, logger *zap.Logger, opts ...Option) *Runner {
	if cfg.Isolation == "" {
		cfg.Isolation = IsolationShared
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.Named("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes suites under a new run ID and returns the report
func (r *Runner) Run(ctx context.Context, suites []*scenario.Suite) *models.Report {
	return r.Execute(ctx, uuid.New().String(), suites)
}

// Execute runs suites concurrently, up to the configured parallelism. Every
// scenario of every suite gets exactly one result, appended in completion
// order.
func (r *Runner) Execute(ctx context.Context, runID string, suites []*scenario.Suite) *models.Report {
	startedAt := time.Now()
	r.logger.Info("run started",
		zap.String("run", runID),
		zap.Int("suites", len(suites)),
		zap.Int("parallelism", r.cfg.Parallelism),
		zap.String("isolation", string(r.cfg.Isolation)),
	)

	var (
		mu      sync.Mutex
		results []models.Result
	)
	emit := func(res models.Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	// Suites never fail the group; errors are recorded as results
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Parallelism)
	for _, suite := range suites {
		g.Go(func() error {
			r.runSuite(ctx, runID, suite, emit)
			return nil
		})
	}
	_ = g.Wait()

	report := models.Finalize(runID, startedAt, results)
	r.logger.Info("run finished",
		zap.String("run", runID),
		zap.Int("results", len(report.Results)),
		zap.Any("summary", report.Summary),
	)
	return report
}

// RunSuite executes one suite and returns its results in declared order
func (r *Runner) RunSuite(ctx context.Context, suite *scenario.Suite) []models.Result {
	var results []models.Result
	r.runSuite(ctx, uuid.New().String(), suite, func(res models.Result) {
		results = append(results, res)
	})
	return results
}

func (r *Runner) runSuite(ctx context.Context, runID string, suite *scenario.Suite, emit func(models.Result)) {
	log := r.logger.With(zap.String("run", runID), zap.String("suite", suite.Name))

	env := scenario.Env{
		RunID:     runID,
		Suite:     suite.Name,
		BaseURL:   r.cfg.BaseURL,
		TargetURL: suite.TargetURL(r.cfg.BaseURL),
		Viewports: r.cfg.Viewports,
		Logger:    log,
	}
	if r.artifacts != nil {
		env.Artifacts = r.artifacts(runID)
	}

	var page driver.PageDriver
	release := func() {
		if page == nil {
			return
		}
		if err := page.Close(); err != nil {
			log.Warn("failed to close page", zap.Error(err))
		}
		page = nil
	}
	defer release()

	var unavailable error
	for _, sc := range suite.Scenarios {
		if unavailable == nil && ctx.Err() != nil {
			unavailable = fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		if unavailable != nil {
			emit(r.skip(runID, suite, sc, unavailable))
			continue
		}

		newHandle := false
		if page == nil || r.cfg.Isolation == IsolationPerScenario {
			release()
			opened, err := r.sessions.Open(ctx, suite.Name)
			if err != nil {
				log.Error("failed to open session", zap.Error(err))
				unavailable = err
				emit(r.skip(runID, suite, sc, unavailable))
				continue
			}
			page = r.wrap(opened)
			newHandle = true
		}

		res, err := r.execute(ctx, runID, env, sc, page, newHandle || sc.Fresh)
		emit(res)

		if err != nil && driver.IsSessionLost(err) {
			log.Warn("session lost, reopening for the next scenario",
				zap.String("scenario", sc.Name), zap.Error(err))
			release()
		}
	}
}

type outcome struct {
	data     models.Data
	err      error
	panicked *models.Diagnostic
}

// execute runs one scenario body under its deadline. A body still running at
// the deadline is abandoned with its context cancelled.
func (r *Runner) execute(ctx context.Context, runID string, env scenario.Env, sc scenario.Scenario, page driver.PageDriver, navigate bool) (models.Result, error) {
	res := models.Result{
		Suite:     env.Suite,
		Scenario:  sc.Name,
		Kind:      string(sc.Kind),
		Status:    models.StatusRunning,
		StartedAt: time.Now(),
	}
	r.started(runID, res)

	timeout := r.cfg.Timeouts.For(sc)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{panicked: &models.Diagnostic{
					Kind:    models.DiagnosticPanic,
					Message: fmt.Sprint(v),
					Stack:   string(debug.Stack()),
				}}
			}
		}()
		if navigate {
			if err := page.Navigate(sctx, env.TargetURL); err != nil {
				done <- outcome{err: fmt.Errorf("navigate to %s: %w", env.TargetURL, err)}
				return
			}
		}
		data, err := sc.Body(sctx, page, env)
		done <- outcome{data: data, err: err}
	}()

	var err error
	select {
	case out := <-done:
		res.Data = out.data
		err = out.err
		switch {
		case out.panicked != nil:
			res.Status, res.Error = models.StatusErrored, out.panicked
		case ctx.Err() != nil && err != nil:
			res.Status, res.Error = cancelled(ctx.Err())
		default:
			res.Status, res.Error = classify(err)
		}
	case <-sctx.Done():
		err = sctx.Err()
		if ctx.Err() != nil {
			res.Status, res.Error = cancelled(ctx.Err())
		} else {
			res.Status = models.StatusTimedOut
			res.Error = &models.Diagnostic{
				Kind:    models.DiagnosticTimeout,
				Message: fmt.Sprintf("scenario exceeded %s", timeout),
			}
		}
	}

	res.FinishedAt = time.Now()
	res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	r.finished(runID, res)
	return res, err
}

// classify maps a body's error to its terminal status
func classify(err error) (models.Status, *models.Diagnostic) {
	switch {
	case err == nil:
		return models.StatusPassed, nil
	case scenario.IsAssertion(err):
		return models.StatusFailed, &models.Diagnostic{Kind: models.DiagnosticAssertion, Message: err.Error()}
	case driver.IsTimeout(err):
		return models.StatusTimedOut, &models.Diagnostic{Kind: models.DiagnosticTimeout, Message: err.Error()}
	default:
		return models.StatusErrored, &models.Diagnostic{Kind: models.DiagnosticInfrastructure, Message: err.Error()}
	}
}

func cancelled(err error) (models.Status, *models.Diagnostic) {
	return models.StatusErrored, &models.Diagnostic{
		Kind:    models.DiagnosticInfrastructure,
		Message: "run cancelled: " + err.Error(),
	}
}

// skip records a scenario that could not run for lack of a page handle
func (r *Runner) skip(runID string, suite *scenario.Suite, sc scenario.Scenario, cause error) models.Result {
	now := time.Now()
	kind := models.DiagnosticSessionUnavailable
	message := SessionUnavailable
	if cause != nil {
		message = SessionUnavailable + ": " + cause.Error()
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		kind = models.DiagnosticInfrastructure
		message = cause.Error()
	}
	res := models.Result{
		Suite:      suite.Name,
		Scenario:   sc.Name,
		Kind:       string(sc.Kind),
		Status:     models.StatusErrored,
		Error:      &models.Diagnostic{Kind: kind, Message: message},
		StartedAt:  now,
		FinishedAt: now,
	}
	r.finished(runID, res)
	return res
}

func (r *Runner) wrap(page driver.PageDriver) driver.PageDriver {
	if r.throttle == nil {
		return page
	}
	return &throttledPage{PageDriver: page, throttle: r.throttle}
}

func (r *Runner) started(runID string, res models.Result) {
	for _, o := range r.observers {
		o.ScenarioStarted(runID, res)
	}
}

func (r *Runner) finished(runID string, res models.Result) {
	log := r.logger.With(
		zap.String("run", runID),
		zap.String("suite", res.Suite),
		zap.String("scenario", res.Scenario),
		zap.String("status", string(res.Status)),
		zap.Int64("durationMs", res.DurationMs),
	)
	if res.Error != nil {
		log.Info("scenario finished", zap.String("error", res.Error.Message))
	} else {
		log.Info("scenario finished")
	}
	for _, o := range r.observers {
		o.ScenarioFinished(runID, res)
	}
}
