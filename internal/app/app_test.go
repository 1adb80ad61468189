package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/gameprobe/internal/catalog"
	"github.com/shehryarbajwa/gameprobe/internal/config"
	"github.com/shehryarbajwa/gameprobe/internal/session"
)

func remoteConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Browser.Backend = session.BackendRemote
	cfg.Browser.RemoteURL = "ws://127.0.0.1:9222"
	cfg.Artifacts.Dir = t.TempDir()
	return cfg
}

func TestNewWithRemoteBackend(t *testing.T) {
	a, err := New(context.Background(), remoteConfig(t), Options{
		Catalog: catalog.DefaultOptions(),
		Suites:  []string{catalog.Canvas, catalog.Pixi},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Pool)
	assert.Equal(t, []string{catalog.Pixi, catalog.Canvas}, catalog.Names(a.Suites))
	assert.Empty(t, a.Sessions.ListSessions(""))
	assert.NoError(t, a.Close())
}

func TestNewRejectsUnknownSuites(t *testing.T) {
	_, err := New(context.Background(), remoteConfig(t), Options{
		Catalog: catalog.DefaultOptions(),
		Suites:  []string{"phaser"},
	}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown suites")
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		require.NoError(t, err)
		assert.Equal(t, debug, logger.Core().Enabled(-1), "debug level enabled")
	}
}
