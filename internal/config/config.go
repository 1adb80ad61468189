// Package config loads gameprobe settings from defaults, an optional YAML
// file and PROBE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/gameprobe/internal/runner"
	"github.com/shehryarbajwa/gameprobe/internal/session"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// DefaultBaseURL is the published Speedy Maths site
const DefaultBaseURL = "https://benixmaxedis.github.io/smi-legacy/"

// Config is the complete gameprobe configuration
type Config struct {
	BaseURL     string                `yaml:"baseUrl"`
	Isolation   runner.Isolation      `yaml:"isolation"`
	Parallelism int                   `yaml:"parallelism"`
	Timeouts    runner.Timeouts       `yaml:"timeouts"`
	Viewports   []models.ViewportSpec `yaml:"viewports"`
	Artifacts   ArtifactConfig        `yaml:"artifacts"`
	Browser     BrowserConfig         `yaml:"browser"`
	API         APIConfig             `yaml:"api"`
	Debug       bool                  `yaml:"debug"`
}

// ArtifactConfig controls where screenshots go
type ArtifactConfig struct {
	Dir string `yaml:"dir"`
	// Archive packs a finished run's artifacts into <dir>/<run>.tar.gz
	Archive bool `yaml:"archive"`
}

// BrowserConfig selects and sizes the browser backend
type BrowserConfig struct {
	Backend     session.Backend `yaml:"backend"`
	RemoteURL   string          `yaml:"remoteUrl"`
	Image       string          `yaml:"image"`
	MaxSessions int64           `yaml:"maxSessions"`
	// NavigationRate caps navigations per second per target host; 0 is unlimited
	NavigationRate float64 `yaml:"navigationRate"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Listen          string        `yaml:"listen"`
	RequestsPerHour int           `yaml:"requestsPerHour"`
	Burst           int           `yaml:"burst"`
	RunTTL          time.Duration `yaml:"runTtl"`
}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Isolation:   runner.IsolationShared,
		Parallelism: 1,
		Timeouts:    runner.DefaultTimeouts(),
		Viewports:   models.DefaultViewports(),
		Artifacts: ArtifactConfig{
			Dir: "./storage/artifacts",
		},
		Browser: BrowserConfig{
			Backend:        session.BackendDocker,
			MaxSessions:    4,
			NavigationRate: 2,
		},
		API: APIConfig{
			Listen:          ":8080",
			RequestsPerHour: 100,
			Burst:           10,
			RunTTL:          24 * time.Hour,
		},
	}
}

// Load reads .env, then the YAML file named by PROBE_CONFIG when set, then
// environment overrides
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()
	return LoadFromPath(os.Getenv("PROBE_CONFIG"))
}

// LoadFromPath is Load with an explicit YAML path; an empty path skips the file
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields absent from the file keep their defaults
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	var errs error

	if v := os.Getenv("PROBE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PROBE_ISOLATION"); v != "" {
		cfg.Isolation = runner.Isolation(v)
	}
	if v := strings.TrimSpace(os.Getenv("PROBE_PARALLELISM")); v != "" {
		n, err := strconv.Atoi(v)
		errs = multierr.Append(errs, wrapEnv("PROBE_PARALLELISM", err))
		if err == nil {
			cfg.Parallelism = n
		}
	}
	errs = multierr.Append(errs, envDuration("PROBE_TIMEOUT_LOAD", &cfg.Timeouts.Load))
	errs = multierr.Append(errs, envDuration("PROBE_TIMEOUT_INTERACTION", &cfg.Timeouts.Interaction))
	errs = multierr.Append(errs, envDuration("PROBE_TIMEOUT_MONITORING", &cfg.Timeouts.Monitoring))
	errs = multierr.Append(errs, envDuration("PROBE_TIMEOUT_RESPONSIVE", &cfg.Timeouts.Responsive))

	if v := os.Getenv("PROBE_ARTIFACT_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v, ok := envBool("PROBE_ARCHIVE"); ok {
		cfg.Artifacts.Archive = v
	}

	if v := os.Getenv("PROBE_BROWSER_BACKEND"); v != "" {
		cfg.Browser.Backend = session.Backend(v)
	}
	if v := os.Getenv("PROBE_REMOTE_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	if v := os.Getenv("PROBE_BROWSER_IMAGE"); v != "" {
		cfg.Browser.Image = v
	}
	if v := strings.TrimSpace(os.Getenv("PROBE_MAX_SESSIONS")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = multierr.Append(errs, wrapEnv("PROBE_MAX_SESSIONS", err))
		if err == nil {
			cfg.Browser.MaxSessions = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PROBE_NAVIGATION_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = multierr.Append(errs, wrapEnv("PROBE_NAVIGATION_RATE", err))
		if err == nil {
			cfg.Browser.NavigationRate = f
		}
	}

	if v := os.Getenv("PROBE_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("PROBE_API_RATE")); v != "" {
		n, err := strconv.Atoi(v)
		errs = multierr.Append(errs, wrapEnv("PROBE_API_RATE", err))
		if err == nil {
			cfg.API.RequestsPerHour = n
		}
	}
	errs = multierr.Append(errs, envDuration("PROBE_RUN_TTL", &cfg.API.RunTTL))

	if v, ok := envBool("PROBE_DEBUG"); ok {
		cfg.Debug = v
	}
	return errs
}

func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return wrapEnv(key, err)
	}
	*dst = d
	return nil
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs error

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("baseUrl %q must be an absolute URL", c.BaseURL))
	}
	switch c.Isolation {
	case runner.IsolationShared, runner.IsolationPerScenario:
	default:
		errs = multierr.Append(errs, fmt.Errorf("isolation must be %q or %q, got %q",
			runner.IsolationShared, runner.IsolationPerScenario, c.Isolation))
	}
	if c.Parallelism < 1 {
		errs = multierr.Append(errs, errors.New("parallelism must be at least 1"))
	}
	if c.Timeouts.Load <= 0 || c.Timeouts.Interaction <= 0 || c.Timeouts.Monitoring <= 0 || c.Timeouts.Responsive <= 0 {
		errs = multierr.Append(errs, errors.New("timeouts must be positive"))
	}
	for _, vp := range c.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 || vp.Label == "" {
			errs = multierr.Append(errs, fmt.Errorf("viewport %+v needs a label and positive size", vp))
		}
	}

	switch c.Browser.Backend {
	case session.BackendDocker:
	case session.BackendRemote:
		if c.Browser.RemoteURL == "" {
			errs = multierr.Append(errs, errors.New("browser.remoteUrl is required for the remote backend"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown browser backend %q", c.Browser.Backend))
	}
	if c.Browser.MaxSessions < 1 {
		errs = multierr.Append(errs, errors.New("browser.maxSessions must be at least 1"))
	}
	if c.Browser.NavigationRate < 0 {
		errs = multierr.Append(errs, errors.New("browser.navigationRate cannot be negative"))
	}

	if c.API.RequestsPerHour < 1 {
		errs = multierr.Append(errs, errors.New("api.requestsPerHour must be at least 1"))
	}
	if c.API.RunTTL <= 0 {
		errs = multierr.Append(errs, errors.New("api.runTtl must be positive"))
	}
	return errs
}

// RunnerConfig extracts the runner settings
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		BaseURL:     c.BaseURL,
		Isolation:   c.Isolation,
		Parallelism: c.Parallelism,
		Timeouts:    c.Timeouts,
		Viewports:   c.Viewports,
	}
}

// SessionConfig extracts the session manager settings
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Backend:     c.Browser.Backend,
		RemoteURL:   c.Browser.RemoteURL,
		MaxSessions: c.Browser.MaxSessions,
	}
}
