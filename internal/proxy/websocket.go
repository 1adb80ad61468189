// Package proxy relays a DevTools websocket between a client and the
// browser behind a running probe session
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionLookup finds sessions by ID
type SessionLookup interface {
	GetSession(id string) (*models.Session, error)
}

type Server struct {
	sessions SessionLookup
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

func NewServer(sessions SessionLookup, logger *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		dialer:   websocket.DefaultDialer,
		logger:   logger.Named("proxy"),
	}
}

// HandleDebugConnection proxies the client to the session's DevTools endpoint
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.GetSession(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if sess.Status != models.SessionRunning {
		http.Error(w, "Session is not running", http.StatusBadRequest)
		return
	}

	log := s.logger.With(zap.String("session", sessionID))

	// Dial the browser first so a dead endpoint is reported as HTTP
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	chromeConn, _, err := s.dialer.DialContext(ctx, sess.ConnectURL, nil)
	if err != nil {
		log.Warn("failed to connect to browser", zap.String("url", sess.ConnectURL), zap.Error(err))
		http.Error(w, fmt.Sprintf("Error connecting to browser: %v", err), http.StatusBadGateway)
		return
	}
	defer chromeConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer clientConn.Close()

	log.Info("debug client connected")

	errChan := make(chan error, 2)
	go func() {
		errChan <- s.proxyMessages(clientConn, chromeConn, "client→chrome")
	}()
	go func() {
		errChan <- s.proxyMessages(chromeConn, clientConn, "chrome→client")
	}()

	// Wait for either direction to close
	err = <-errChan
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
		log.Warn("proxy error", zap.Error(err))
	}

	log.Info("debug client disconnected")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			s.logger.Debug("failed to write message", zap.String("direction", direction), zap.Error(err))
			return err
		}
	}
}
