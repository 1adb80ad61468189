// Package session opens browser page handles for the runner, either in
// fresh Docker containers or against a remote DevTools endpoint.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/gameprobe/internal/browser"
	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// Backend selects where browsers come from
type Backend string

const (
	BackendDocker Backend = "docker"
	BackendRemote Backend = "remote"
)

// Launcher starts and stops browser containers
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (*browser.Instance, error)
	Stop(ctx context.Context, containerID string) error
}

// Connector attaches a page driver to a DevTools endpoint
type Connector func(ctx context.Context, connectURL string, logger *zap.Logger) (driver.PageDriver, error)

// ChromeConnector connects through chromedp
func ChromeConnector(ctx context.Context, connectURL string, logger *zap.Logger) (driver.PageDriver, error) {
	return driver.NewChrome(ctx, connectURL, logger)
}

// Gauge tracks the number of open sessions
type Gauge interface {
	Inc()
	Dec()
}

// Config configures a Manager
type Config struct {
	Backend     Backend
	RemoteURL   string
	MaxSessions int64
	// ConnectAttempts bounds retries of attaching to a fresh browser
	ConnectAttempts uint
}

// Manager handles all session operations
type Manager struct {
	cfg      Config
	launcher Launcher
	connect  Connector
	logger   *zap.Logger
	gauge    Gauge

	sessions sync.Map // map[sessionID]*models.Session
	handles  sync.Map // map[sessionID]*handle
	slots    *semaphore.Weighted
	mu       sync.Mutex
}

// NewManager creates a session manager. launcher may be nil for the remote
// backend.
func NewManager(cfg Config, launcher Launcher, connect Connector, logger *zap.Logger) (*Manager, error) {
	switch cfg.Backend {
	case BackendDocker:
		if launcher == nil {
			return nil, fmt.Errorf("docker backend requires a browser pool")
		}
	case BackendRemote:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote backend requires a connect URL")
		}
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 3
	}
	if connect == nil {
		connect = ChromeConnector
	}

	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		connect:  connect,
		logger:   logger.Named("session"),
		slots:    semaphore.NewWeighted(cfg.MaxSessions),
	}, nil
}

// WithGauge reports open session counts to g
func (m *Manager) WithGauge(g Gauge) *Manager {
	m.gauge = g
	return m
}

// Open acquires a session slot and returns a page handle for suite. It
// blocks while MaxSessions handles are open. Closing the handle releases the
// browser and the slot.
func (m *Manager) Open(ctx context.Context, suite string) (driver.PageDriver, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a browser slot: %w", err)
	}

	sess := &models.Session{
		ID:        uuid.New().String(),
		Suite:     suite,
		Backend:   string(m.cfg.Backend),
		StartedAt: time.Now(),
	}
	log := m.logger.With(zap.String("session", sess.ID), zap.String("suite", suite))

	page, err := m.start(ctx, sess, log)
	if err != nil {
		m.slots.Release(1)
		m.finish(sess, models.SessionError, err)
		log.Error("failed to open session", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", driver.ErrUnavailable, err)
	}

	sess.Status = models.SessionRunning
	m.store(sess)
	h := &handle{PageDriver: page, mgr: m, session: sess}
	m.handles.Store(sess.ID, h)
	if m.gauge != nil {
		m.gauge.Inc()
	}
	log.Info("session opened", zap.String("backend", sess.Backend))
	return h, nil
}

func (m *Manager) start(ctx context.Context, sess *models.Session, log *zap.Logger) (driver.PageDriver, error) {
	sess.ConnectURL = m.cfg.RemoteURL
	if m.cfg.Backend == BackendDocker {
		instance, err := m.launcher.Launch(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		sess.ConnectURL = instance.ConnectURL
		sess.ContainerID = instance.ContainerID
	}

	var page driver.PageDriver
	err := retry.Do(
		func() (err error) {
			page, err = m.connect(ctx, sess.ConnectURL, log)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.cfg.ConnectAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying browser connection", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if stopErr := m.stopContainer(sess.ContainerID); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return page, nil
}

// release tears down a session's browser and frees its slot
func (m *Manager) release(h *handle) error {
	err := multierr.Combine(
		h.PageDriver.Close(),
		m.stopContainer(h.session.ContainerID),
	)
	m.handles.Delete(h.session.ID)
	m.slots.Release(1)
	if m.gauge != nil {
		m.gauge.Dec()
	}

	if err != nil {
		m.finish(h.session, models.SessionError, err)
		m.logger.Warn("session closed with errors", zap.String("session", h.session.ID), zap.Error(err))
		return err
	}
	m.finish(h.session, models.SessionCompleted, nil)
	m.logger.Info("session closed", zap.String("session", h.session.ID))
	return nil
}

func (m *Manager) stopContainer(containerID string) error {
	if containerID == "" || m.launcher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.launcher.Stop(ctx, containerID)
}

func (m *Manager) store(sess *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sess
	m.sessions.Store(sess.ID, &copied)
}

func (m *Manager) finish(sess *models.Session, status models.SessionStatus, err error) {
	now := time.Now()
	sess.Status = status
	sess.EndedAt = &now
	if err != nil {
		sess.Error = err.Error()
	}
	m.store(sess)
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(id string) (*models.Session, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	copied := *value.(*models.Session)
	return &copied, nil
}

// ListSessions returns sessions, optionally filtered by status, oldest first
func (m *Manager) ListSessions(status models.SessionStatus) []*models.Session {
	var sessions []*models.Session

	m.sessions.Range(func(key, value any) bool {
		session := *value.(*models.Session)
		if status != "" && session.Status != status {
			return true
		}
		sessions = append(sessions, &session)
		return true
	})

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions
}

// Close releases every open session
func (m *Manager) Close() error {
	var errs error
	m.handles.Range(func(_, value any) bool {
		errs = multierr.Append(errs, value.(*handle).Close())
		return true
	})
	return errs
}

// handle is the PageDriver the runner sees. Close returns the browser to
// the manager.
type handle struct {
	driver.PageDriver
	mgr     *Manager
	session *models.Session
	once    sync.Once
	err     error
}

func (h *handle) Close() error {
	h.once.Do(func() {
		h.err = h.mgr.release(h)
	})
	return h.err
}
