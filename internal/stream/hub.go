// Package stream fans scenario events out to websocket listeners
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscription receives the events of one run. C is closed when the run
// completes or the subscription is cancelled.
type Subscription struct {
	C     <-chan models.Event
	ch    chan models.Event
	runID string
	hub   *Hub
	once  sync.Once
}

// Cancel stops delivery
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Hub implements runner.Observer and publishes every transition to the
// subscribers of its run
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	completed *cache.Cache
	logger    *zap.Logger
}

// NewHub creates an empty hub. Completed run IDs are remembered for
// retention so late subscribers are closed at once.
func NewHub(retention time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		completed: cache.New(retention, retention/2),
		logger:    logger.Named("stream"),
	}
}

// Subscribe listens to the events of runID. The subscription of a run that
// already completed is returned closed.
func (h *Hub) Subscribe(runID string) *Subscription {
	ch := make(chan models.Event, bufferSize)
	sub := &Subscription{C: ch, ch: ch, runID: runID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, done := h.completed.Get(runID); done {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*Subscription]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	return sub
}

// Listeners returns the number of open subscriptions to runID
func (h *Hub) Listeners(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(sub)
}

// detach must be called with h.mu held
func (h *Hub) detach(sub *Subscription) {
	if set, ok := h.subs[sub.runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.runID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers ev to the run's subscribers. Slow subscribers lose
// events rather than block the runner.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.RunID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("event buffer full, dropping event",
				zap.String("run", ev.RunID), zap.String("type", string(ev.Type)))
		}
	}
}

func (h *Hub) ScenarioStarted(runID string, result models.Result) {
	h.Publish(models.Event{
		Type:      models.EventScenarioStarted,
		RunID:     runID,
		Suite:     result.Suite,
		Scenario:  result.Scenario,
		Status:    models.StatusRunning,
		Timestamp: result.StartedAt,
	})
}

func (h *Hub) ScenarioFinished(runID string, result models.Result) {
	res := result
	h.Publish(models.Event{
		Type:      models.EventScenarioFinished,
		RunID:     runID,
		Suite:     result.Suite,
		Scenario:  result.Scenario,
		Status:    result.Status,
		Result:    &res,
		Timestamp: result.FinishedAt,
	})
}

// RunCompleted publishes the summary and closes every subscription of the run
func (h *Hub) RunCompleted(report *models.Report) {
	h.Publish(models.Event{
		Type:      models.EventRunCompleted,
		RunID:     report.RunID,
		Summary:   report.Summary,
		Timestamp: report.FinishedAt,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed.SetDefault(report.RunID, struct{}{})
	for sub := range h.subs[report.RunID] {
		h.detach(sub)
	}
}

// ServeWS upgrades the request and streams the events of runID as JSON
// messages until the run completes or the client goes away
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.Subscribe(runID)
	defer sub.Cancel()
	h.logger.Debug("listener connected", zap.String("run", runID))

	// Reader: only control frames are expected; any error means the client left
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("listener read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run completed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("listener write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
