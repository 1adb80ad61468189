package scenario

import (
	"context"
	"time"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

const navigationPoll = 50 * time.Millisecond

// LoadOptions configures a load/presence check
type LoadOptions struct {
	// Selector must appear before the deadline; its text is reported as title
	Selector string
	// CountSelector elements are counted into gameCount
	CountSelector string
	// MinCount fails the scenario when fewer elements match
	MinCount int
}

// LoadCheck waits for the page to render and reads simple DOM facts
func LoadCheck(name string, opts LoadOptions) Scenario {
	return Scenario{
		Name:  name,
		Kind:  KindLoad,
		Fresh: true,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			// No explicit timeout: the scenario deadline bounds the wait
			if err := page.WaitFor(ctx, opts.Selector, 0); err != nil {
				return nil, err
			}
			heading, err := page.Query(ctx, opts.Selector)
			if err != nil {
				return nil, err
			}
			if heading == nil {
				return nil, Assertf("%s disappeared after it was rendered", opts.Selector)
			}
			cards, err := page.QueryAll(ctx, opts.CountSelector)
			if err != nil {
				return nil, err
			}

			data := models.Data{
				"title":     heading.Text,
				"gameCount": len(cards),
			}
			if len(cards) < opts.MinCount {
				return data, Assertf("expected at least %d %s elements, found %d", opts.MinCount, opts.CountSelector, len(cards))
			}
			return data, nil
		},
	}
}

// NavigationCheck activates a link-like control and reports where it led. A
// missing control is a degraded pass, not a failure.
func NavigationCheck(name, selector string) Scenario {
	return Scenario{
		Name:  name,
		Kind:  KindNavigation,
		Fresh: true,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			control, err := page.Query(ctx, selector)
			if err != nil {
				return nil, err
			}
			if control == nil {
				return models.Data{
					"found":    false,
					"selector": selector,
					"caveat":   "control not found",
				}, nil
			}

			before, err := page.CurrentURL(ctx)
			if err != nil {
				return nil, err
			}
			if err := page.Click(ctx, control); err != nil {
				return models.Data{"found": true, "selector": selector}, err
			}
			url, err := waitForNavigation(ctx, page, before)
			if err != nil {
				return models.Data{"found": true, "selector": selector}, err
			}
			return models.Data{
				"found":    true,
				"selector": selector,
				"url":      url,
			}, nil
		},
	}
}

// waitForNavigation polls until the page URL moves away from before and the
// new document has a body.
func waitForNavigation(ctx context.Context, page driver.PageDriver, before string) (string, error) {
	ticker := time.NewTicker(navigationPoll)
	defer ticker.Stop()
	for {
		url, err := page.CurrentURL(ctx)
		if err != nil {
			return "", err
		}
		if url != before {
			if err := page.WaitFor(ctx, "body", 0); err != nil {
				return url, err
			}
			return url, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

type probeMode int

const (
	probeExists probeMode = iota
	probeFlag
	probeValue
	probeElement
)

// Probe is one named fact read from the page by StateProbe
type Probe struct {
	Key      string
	Path     string
	Selector string
	mode     probeMode
}

// Exists reports whether the global binding at path is defined
func Exists(key, path string) Probe {
	return Probe{Key: key, Path: path, mode: probeExists}
}

// Flag reports the binding's truthiness, false when undefined
func Flag(key, path string) Probe {
	return Probe{Key: key, Path: path, mode: probeFlag}
}

// Value reports the binding's value, "unknown" when undefined
func Value(key, path string) Probe {
	return Probe{Key: key, Path: path, mode: probeValue}
}

// Element reports whether selector matches anything
func Element(key, selector string) Probe {
	return Probe{Key: key, Selector: selector, mode: probeElement}
}

// StateProbe takes a read-only snapshot of page globals. Bindings that do not
// exist yet are reported as false or unknown.
func StateProbe(name string, probes ...Probe) Scenario {
	return Scenario{
		Name:  name,
		Kind:  KindProbe,
		Fresh: true,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			return collect(ctx, page, probes)
		},
	}
}

func collect(ctx context.Context, page driver.PageDriver, probes []Probe) (models.Data, error) {
	var paths []string
	for _, p := range probes {
		if p.mode != probeElement {
			paths = append(paths, p.Path)
		}
	}

	bindings := map[string]driver.Binding{}
	if len(paths) > 0 {
		var err error
		if bindings, err = page.Globals(ctx, paths...); err != nil {
			return nil, err
		}
	}

	data := make(models.Data, len(probes))
	for _, p := range probes {
		switch p.mode {
		case probeExists:
			data[p.Key] = bindings[p.Path].Present
		case probeFlag:
			data[p.Key] = bindings[p.Path].Truthy()
		case probeValue:
			data[p.Key] = bindings[p.Path].ValueOr(driver.Unknown)
		case probeElement:
			el, err := page.Query(ctx, p.Selector)
			if err != nil {
				return data, err
			}
			data[p.Key] = el != nil
		}
	}
	return data, nil
}

// InputOptions configures an input simulation
type InputOptions struct {
	Keys []string
	// Pause is the fixed delay between consecutive keys
	Pause time.Duration
	// Before is read prior to dispatch and merged into the result
	Before []Probe
	// Guard names a Before key that must be true for keys to be dispatched
	Guard string
}

// InputSimulation dispatches a fixed key sequence to exercise control
// handling. It only checks that dispatch worked, not what the game did.
func InputSimulation(name string, opts InputOptions) Scenario {
	return Scenario{
		Name:  name,
		Kind:  KindInput,
		Fresh: true,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			data, err := collect(ctx, page, opts.Before)
			if err != nil {
				return data, err
			}

			if opts.Guard != "" {
				if ok, _ := data[opts.Guard].(bool); !ok {
					data["dispatched"] = false
					data["caveat"] = opts.Guard + " is false, input skipped"
					return data, nil
				}
			}

			var sent []string
			for i, key := range opts.Keys {
				if i > 0 {
					if err := sleep(ctx, opts.Pause); err != nil {
						data["keys"] = sent
						return data, err
					}
				}
				if err := page.PressKey(ctx, key); err != nil {
					data["keys"] = sent
					return data, err
				}
				sent = append(sent, key)
			}
			data["dispatched"] = true
			data["keys"] = sent
			return data, nil
		},
	}
}

// ScriptProbe evaluates a read-only script and returns the object it yields
func ScriptProbe(name, script string) Scenario {
	return Scenario{
		Name:  name,
		Kind:  KindProbe,
		Fresh: true,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			var out map[string]any
			if err := page.Evaluate(ctx, script, &out); err != nil {
				return nil, err
			}
			return models.Data(out), nil
		},
	}
}
