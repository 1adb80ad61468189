package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/gameprobe/internal/browser"
	"github.com/shehryarbajwa/gameprobe/internal/driver"
	"github.com/shehryarbajwa/gameprobe/internal/driver/drivertest"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

type fakeLauncher struct {
	mu        sync.Mutex
	launched  []string
	stopped   []string
	launchErr error
	stopErr   error
}

func (f *fakeLauncher) Launch(ctx context.Context, sessionID string) (*browser.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launched = append(f.launched, sessionID)
	return &browser.Instance{
		ContainerID: "container-" + sessionID[:8],
		SessionID:   sessionID,
		ConnectURL:  "ws://localhost:9222",
		Port:        "9222",
	}, nil
}

func (f *fakeLauncher) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, containerID)
	return f.stopErr
}

type gauge struct {
	mu sync.Mutex
	n  int
}

func (g *gauge) Inc() { g.mu.Lock(); g.n++; g.mu.Unlock() }
func (g *gauge) Dec() { g.mu.Lock(); g.n--; g.mu.Unlock() }
func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func fakeConnector(site *drivertest.Site, failures int) (Connector, *[]string) {
	var (
		mu   sync.Mutex
		urls []string
	)
	return func(ctx context.Context, connectURL string, logger *zap.Logger) (driver.PageDriver, error) {
		mu.Lock()
		defer mu.Unlock()
		urls = append(urls, connectURL)
		if len(urls) <= failures {
			return nil, driver.NewError(driver.CodeConnectionLost, "connect", driver.ErrConnectionLost)
		}
		return drivertest.NewDriver(site), nil
	}, &urls
}

func TestNewManagerValidatesBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewManager(Config{Backend: BackendDocker}, nil, nil, logger)
	assert.Error(t, err)

	_, err = NewManager(Config{Backend: BackendRemote}, nil, nil, logger)
	assert.Error(t, err)

	_, err = NewManager(Config{Backend: "kubernetes"}, nil, nil, logger)
	assert.Error(t, err)
}

func TestDockerSessionLifecycle(t *testing.T) {
	launcher := &fakeLauncher{}
	connect, urls := fakeConnector(drivertest.NewSite(), 0)
	g := &gauge{}
	m, err := NewManager(Config{Backend: BackendDocker, MaxSessions: 2}, launcher, connect, zaptest.NewLogger(t))
	require.NoError(t, err)
	m.WithGauge(g)

	page, err := m.Open(context.Background(), "landing")
	require.NoError(t, err)
	assert.Equal(t, 1, g.value())
	assert.Equal(t, []string{"ws://localhost:9222"}, *urls)

	running := m.ListSessions(models.SessionRunning)
	require.Len(t, running, 1)
	assert.Equal(t, "landing", running[0].Suite)
	assert.Equal(t, "docker", running[0].Backend)
	assert.NotEmpty(t, running[0].ContainerID)

	require.NoError(t, page.Close())
	require.NoError(t, page.Close())
	assert.Equal(t, 0, g.value())
	assert.Equal(t, []string{running[0].ContainerID}, launcher.stopped)

	sess, err := m.GetSession(running[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.NotNil(t, sess.EndedAt)
	assert.Empty(t, m.ListSessions(models.SessionRunning))
}

func TestOpenBlocksAtMaxSessions(t *testing.T) {
	connect, _ := fakeConnector(drivertest.NewSite(), 0)
	m, err := NewManager(Config{Backend: BackendRemote, RemoteURL: "ws://chrome:9222", MaxSessions: 1}, nil, connect, zaptest.NewLogger(t))
	require.NoError(t, err)

	first, err := m.Open(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Open(ctx, "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Close())
	second, err := m.Open(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestConnectIsRetried(t *testing.T) {
	launcher := &fakeLauncher{}
	connect, urls := fakeConnector(drivertest.NewSite(), 2)
	m, err := NewManager(Config{Backend: BackendDocker, ConnectAttempts: 3}, launcher, connect, zaptest.NewLogger(t))
	require.NoError(t, err)

	page, err := m.Open(context.Background(), "pixi")
	require.NoError(t, err)
	assert.Len(t, *urls, 3)
	require.NoError(t, page.Close())
}

func TestConnectFailureStopsContainerAndFreesSlot(t *testing.T) {
	launcher := &fakeLauncher{}
	connect, _ := fakeConnector(drivertest.NewSite(), 10)
	m, err := NewManager(Config{Backend: BackendDocker, MaxSessions: 1, ConnectAttempts: 2}, launcher, connect, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = m.Open(context.Background(), "pixi")
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrUnavailable)
	assert.Len(t, launcher.stopped, 1)

	failed := m.ListSessions(models.SessionError)
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].Error)

	// The slot was handed back
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	launcher.launchErr = errors.New("image missing")
	_, err = m.Open(ctx, "pixi")
	assert.ErrorContains(t, err, "image missing")
}

func TestCloseAggregatesErrors(t *testing.T) {
	launcher := &fakeLauncher{stopErr: errors.New("container already gone")}
	connect, _ := fakeConnector(drivertest.NewSite(), 0)
	m, err := NewManager(Config{Backend: BackendDocker, MaxSessions: 3}, launcher, connect, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, suite := range []string{"a", "b"} {
		_, err := m.Open(context.Background(), suite)
		require.NoError(t, err)
	}

	err = m.Close()
	require.Error(t, err)
	assert.Len(t, launcher.stopped, 2)
	assert.Len(t, m.ListSessions(models.SessionError), 2)
}
