package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/gameprobe/internal/runner"
	"github.com/shehryarbajwa/gameprobe/internal/session"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gameprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, runner.IsolationShared, cfg.Isolation)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Load)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Monitoring)
	assert.Len(t, cfg.Viewports, 4)
	assert.Equal(t, session.BackendDocker, cfg.Browser.Backend)
}

func TestLoadFromPathMergesFile(t *testing.T) {
	path := writeFile(t, `
baseUrl: http://localhost:8000/
isolation: per-scenario
parallelism: 3
timeouts:
  load: 20s
viewports:
  - width: 1024
    height: 768
    label: Laptop
browser:
  backend: remote
  remoteUrl: ws://chrome:9222
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/", cfg.BaseURL)
	assert.Equal(t, runner.IsolationPerScenario, cfg.Isolation)
	assert.Equal(t, 3, cfg.Parallelism)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Load)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Interaction, "unset fields keep defaults")
	assert.Equal(t, []models.ViewportSpec{{Width: 1024, Height: 768, Label: "Laptop"}}, cfg.Viewports)
	assert.Equal(t, session.BackendRemote, cfg.Browser.Backend)
	assert.Equal(t, int64(4), cfg.Browser.MaxSessions)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "parallelism: 3\n")
	t.Setenv("PROBE_PARALLELISM", "5")
	t.Setenv("PROBE_BASE_URL", "https://staging.example.com/smi/")
	t.Setenv("PROBE_TIMEOUT_MONITORING", "8s")
	t.Setenv("PROBE_ARCHIVE", "yes")
	t.Setenv("PROBE_MAX_SESSIONS", "2")
	t.Setenv("PROBE_NAVIGATION_RATE", "0.5")
	t.Setenv("PROBE_RUN_TTL", "1h")
	t.Setenv("PROBE_DEBUG", "1")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Parallelism)
	assert.Equal(t, "https://staging.example.com/smi/", cfg.BaseURL)
	assert.Equal(t, 8*time.Second, cfg.Timeouts.Monitoring)
	assert.True(t, cfg.Artifacts.Archive)
	assert.Equal(t, int64(2), cfg.Browser.MaxSessions)
	assert.Equal(t, 0.5, cfg.Browser.NavigationRate)
	assert.Equal(t, time.Hour, cfg.API.RunTTL)
	assert.True(t, cfg.Debug)
}

func TestMalformedEnvIsReported(t *testing.T) {
	t.Setenv("PROBE_PARALLELISM", "many")
	t.Setenv("PROBE_TIMEOUT_LOAD", "soon")

	_, err := LoadFromPath("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROBE_PARALLELISM")
	assert.Contains(t, err.Error(), "PROBE_TIMEOUT_LOAD")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "not a url"
	cfg.Isolation = "global"
	cfg.Parallelism = 0
	cfg.Browser.Backend = session.BackendRemote
	cfg.Viewports = append(cfg.Viewports, models.ViewportSpec{Width: 0, Height: 100})

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"baseUrl", "isolation", "parallelism", "remoteUrl", "viewport"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	rc := cfg.RunnerConfig()
	assert.Equal(t, cfg.BaseURL, rc.BaseURL)
	assert.Equal(t, cfg.Timeouts, rc.Timeouts)

	sc := cfg.SessionConfig()
	assert.Equal(t, cfg.Browser.MaxSessions, sc.MaxSessions)
	assert.Equal(t, session.BackendDocker, sc.Backend)
}
