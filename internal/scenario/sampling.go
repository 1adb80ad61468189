package scenario

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// DefaultFramePoll is how often SampleFrames reads the frame counter
const DefaultFramePoll = 50 * time.Millisecond

// FrameSample is the outcome of observing animation frames
type FrameSample struct {
	Count    int
	Elapsed  time.Duration
	TimedOut bool
}

// FPS is Count / (elapsedMs/1000)
func (s FrameSample) FPS() float64 {
	ms := s.Elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(s.Count) / (float64(ms) / 1000)
}

// Data renders the sample as a scenario payload. timeout is present only
// when the window elapsed first.
func (s FrameSample) Data() models.Data {
	data := models.Data{
		"frameCount": s.Count,
		"duration":   s.Elapsed.Milliseconds(),
		"fps":        s.FPS(),
	}
	if s.TimedOut {
		data["timeout"] = true
	}
	return data
}

// SampleFrames races the counter reaching target against a fixed window.
// When both are ready at once the window wins. A timed out sample reports
// the window as its elapsed time.
func SampleFrames(ctx context.Context, counter driver.FrameCounter, window time.Duration, target int, poll time.Duration) (FrameSample, error) {
	if poll <= 0 {
		poll = DefaultFramePoll
	}
	start := time.Now()
	timer := time.NewTimer(window)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	timedOut := func() (FrameSample, error) {
		n, err := counter.Count(ctx)
		if err != nil {
			return FrameSample{}, err
		}
		return FrameSample{Count: n, Elapsed: window, TimedOut: true}, nil
	}

	for {
		select {
		case <-ctx.Done():
			return FrameSample{}, ctx.Err()
		case <-timer.C:
			return timedOut()
		case <-ticker.C:
		}

		select {
		case <-timer.C:
			return timedOut()
		default:
		}

		n, err := counter.Count(ctx)
		if err != nil {
			return FrameSample{}, err
		}

		select {
		case <-timer.C:
			return FrameSample{Count: n, Elapsed: window, TimedOut: true}, nil
		default:
		}
		if n >= target {
			return FrameSample{Count: n, Elapsed: time.Since(start)}, nil
		}
	}
}

// FrameSampling counts animation frames for up to window, stopping early
// once target frames were seen. Running out of time is reported in the data,
// not as a failure.
func FrameSampling(name string, window time.Duration, target int) Scenario {
	return Scenario{
		Name:   name,
		Kind:   KindMonitoring,
		Fresh:  true,
		Window: window,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			counter, err := page.FrameCounter(ctx)
			if err != nil {
				return nil, err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				if err := counter.Stop(stopCtx); err != nil {
					env.Logger.Debug("failed to stop frame counter", zap.Error(err))
				}
			}()

			sample, err := SampleFrames(ctx, counter, window, target, DefaultFramePoll)
			if err != nil {
				return nil, err
			}
			return sample.Data(), nil
		},
	}
}

// MemorySampling lets the page run for window, then reads the browser's
// performance counters and the JS heap figures when the host exposes them.
func MemorySampling(name string, window time.Duration) Scenario {
	return Scenario{
		Name:   name,
		Kind:   KindMonitoring,
		Fresh:  true,
		Window: window,
		Body: func(ctx context.Context, page driver.PageDriver, env Env) (models.Data, error) {
			start := time.Now()
			if err := sleep(ctx, window); err != nil {
				return nil, err
			}

			metrics, err := page.Metrics(ctx)
			if err != nil {
				return nil, err
			}
			heap, err := page.Globals(ctx,
				"performance.memory.usedJSHeapSize",
				"performance.memory.totalJSHeapSize",
			)
			if err != nil {
				return nil, err
			}

			var memory any
			used, total := heap["performance.memory.usedJSHeapSize"], heap["performance.memory.totalJSHeapSize"]
			if used.Present && total.Present {
				memory = models.Data{
					"usedJSHeapSize":  used.Value,
					"totalJSHeapSize": total.Value,
				}
			}

			return models.Data{
				"duration":    time.Since(start).Milliseconds(),
				"metrics":     metrics,
				"memoryUsage": memory,
			}, nil
		},
	}
}
