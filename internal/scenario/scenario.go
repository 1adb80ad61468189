// Package scenario models suites of browser probes and provides the scenario
// kinds the runner knows how to schedule.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// Kind selects the runner's timeout policy for a scenario
type Kind string

const (
	KindLoad       Kind = "load"
	KindNavigation Kind = "navigation"
	KindProbe      Kind = "probe"
	KindInput      Kind = "input"
	KindMonitoring Kind = "monitoring"
	KindResponsive Kind = "responsive"
)

// Body is the work a scenario performs against a page
type Body func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error)

// Artifacts persists files produced by a scenario and returns their location
type Artifacts interface {
	Save(name string, data []byte) (string, error)
}

// Env is what a scenario body knows about the run it belongs to
type Env struct {
	RunID     string
	Suite     string
	BaseURL   string
	TargetURL string
	Viewports []models.ViewportSpec
	Artifacts Artifacts
	Logger    *zap.Logger
}

// Scenario is a single named probe owned by one Suite
type Scenario struct {
	Name string
	Kind Kind
	// Fresh asks the runner to navigate to the suite target before Body runs.
	// Otherwise the page is left as the previous scenario did.
	Fresh bool
	// Timeout overrides the runner's default for Kind when non-zero.
	Timeout time.Duration
	// Window is the fixed observation time of monitoring scenarios. The
	// runner adds it to the deadline.
	Window time.Duration
	Body   Body
}

// Suite is an ordered group of scenarios sharing a target page
type Suite struct {
	Name       string
	TargetPath string
	Scenarios  []Scenario
}

// NewSuite builds a validated suite
func NewSuite(name, targetPath string, scenarios ...Scenario) (*Suite, error) {
	s := &Suite{Name: name, TargetPath: targetPath, Scenarios: scenarios}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the suite is runnable and scenario names are unique
func (s *Suite) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("suite name is required")
	}
	for i, sc := range s.Scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return fmt.Errorf("suite %s: scenario %d has no name", s.Name, i)
		}
		if sc.Body == nil {
			return fmt.Errorf("suite %s: scenario %s has no body", s.Name, sc.Name)
		}
	}
	dups := lo.FindDuplicatesBy(s.Scenarios, func(sc Scenario) string { return sc.Name })
	if len(dups) > 0 {
		return fmt.Errorf("suite %s: duplicate scenario name %q", s.Name, dups[0].Name)
	}
	return nil
}

// TargetURL joins baseURL and the suite's target path
func (s *Suite) TargetURL(baseURL string) string {
	if s.TargetPath == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(s.TargetPath, "/")
}

// WaitingFor returns sc with its body deferred until selector is present.
// The wait shares the scenario deadline.
func WaitingFor(selector string, sc Scenario) Scenario {
	body := sc.Body
	sc.Body = func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
		if err := page.WaitFor(ctx, selector, 0); err != nil {
			return nil, err
		}
		return body(ctx, page, env)
	}
	return sc
}

// AssertionError marks an expectation inside a scenario that did not hold
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

// Assertf returns an AssertionError
func Assertf(format string, args ...any) error {
	return &AssertionError{Message: fmt.Sprintf(format, args...)}
}

// IsAssertion reports whether err is an AssertionError
func IsAssertion(err error) bool {
	var assertion *AssertionError
	return errors.As(err, &assertion)
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
