package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

func TestObserverCountsOutcomes(t *testing.T) {
	m := New()
	start := time.Now()

	load := models.Result{Suite: "landing", Scenario: "load", Kind: "load", StartedAt: start}
	m.ScenarioStarted("run-1", load)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scenariosRunning))

	load.Status = models.StatusPassed
	load.DurationMs = 1500
	load.FinishedAt = start.Add(1500 * time.Millisecond)
	m.ScenarioFinished("run-1", load)

	// Skipped scenarios finish without starting
	m.ScenarioFinished("run-1", models.Result{Suite: "landing", Scenario: "nav", Status: models.StatusErrored})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.scenariosRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scenariosTotal.WithLabelValues("landing", "PASSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scenariosTotal.WithLabelValues("landing", "ERRORED")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.scenarioDuration))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RunsTotal.Inc()
	m.ActiveSessions.Set(2)
	m.RateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gameprobe_runs_total 1")
	assert.Contains(t, string(body), "gameprobe_sessions_active 2")
	assert.Contains(t, string(body), "gameprobe_api_rate_limited_total 1")
}
