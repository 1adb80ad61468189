package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/internal/artifact"
	"github.com/shehryarbajwa/gameprobe/internal/catalog"
	"github.com/shehryarbajwa/gameprobe/internal/metrics"
	"github.com/shehryarbajwa/gameprobe/internal/scenario"
	"github.com/shehryarbajwa/gameprobe/internal/stream"
	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

// Executor runs suites under a caller-chosen run ID
type Executor interface {
	Execute(ctx context.Context, runID string, suites []*scenario.Suite) *models.Report
}

// Sessions exposes the browser sessions the runner opened
type Sessions interface {
	GetSession(id string) (*models.Session, error)
	ListSessions(status models.SessionStatus) []*models.Session
}

// Deps are the components the handlers drive
type Deps struct {
	Runner    Executor
	Suites    []*scenario.Suite
	Sessions  Sessions
	Artifacts *artifact.Store
	Hub       *stream.Hub
	Metrics   *metrics.Metrics
	// RunTTL is how long finished runs and their artifacts are kept
	RunTTL time.Duration
	// Archive packs each finished run's artifacts into a tarball
	Archive bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	deps   Deps
	runs   *cache.Cache
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a new HTTP handler. Runs started through it execute in
// the background until they finish or Shutdown is called.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	runs := cache.New(deps.RunTTL, deps.RunTTL/2)
	log := logger.Named("api")
	runs.OnEvicted(func(id string, _ interface{}) {
		if err := deps.Artifacts.Delete(id); err != nil {
			log.Warn("failed to delete expired run artifacts", zap.String("run", id), zap.Error(err))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		deps:   deps,
		runs:   runs,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Shutdown cancels in-flight runs and waits for them to record their reports
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest

	// An empty body runs every suite
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	suites, err := catalog.Select(h.deps.Suites, req.Suites)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run := models.Run{
		ID:        uuid.New().String(),
		Status:    models.RunQueued,
		Suites:    catalog.Names(suites),
		CreatedAt: time.Now(),
	}
	// Runs only start expiring once they complete
	h.runs.Set(run.ID, run, cache.NoExpiration)
	h.deps.Metrics.RunsTotal.Inc()

	h.wg.Add(1)
	go h.execute(run, suites)

	h.logger.Info("run started", zap.String("run", run.ID), zap.Strings("suites", run.Suites))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) execute(run models.Run, suites []*scenario.Suite) {
	defer h.wg.Done()

	run.Status = models.RunRunning
	h.runs.Set(run.ID, run, cache.NoExpiration)

	report := h.deps.Runner.Execute(h.ctx, run.ID, suites)

	if h.deps.Archive && len(h.deps.Artifacts.List(run.ID)) > 0 {
		if _, err := h.deps.Artifacts.Archive(run.ID); err != nil {
			h.logger.Warn("failed to archive run artifacts", zap.String("run", run.ID), zap.Error(err))
		}
	}

	run.Status = models.RunCompleted
	run.Report = report
	h.runs.SetDefault(run.ID, run)
	h.deps.Hub.RunCompleted(report)

	h.logger.Info("run completed",
		zap.String("run", run.ID),
		zap.Int("passed", report.Summary[models.StatusPassed]),
		zap.Int("failed", report.Summary[models.StatusFailed]),
		zap.Int("timedOut", report.Summary[models.StatusTimedOut]),
		zap.Int("errored", report.Summary[models.StatusErrored]),
	)
}

func (h *Handler) lookupRun(id string) (models.Run, bool) {
	v, ok := h.runs.Get(id)
	if !ok {
		return models.Run{}, false
	}
	return v.(models.Run), true
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// ListRuns handles GET /v1/runs. Reports are left out; fetch a run for its report.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	statusStr := r.URL.Query().Get("status")

	runs := make([]models.Run, 0, h.runs.ItemCount())
	for _, item := range h.runs.Items() {
		run := item.Object.(models.Run)
		if statusStr != "" && run.Status != models.RunStatus(statusStr) {
			continue
		}
		run.Report = nil
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// ListArtifacts handles GET /v1/runs/{id}/artifacts
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.lookupRun(id); !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	refs := h.deps.Artifacts.List(id)
	if refs == nil {
		refs = []*artifact.Ref{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refs)
}

// GetArtifact handles GET /v1/runs/{id}/artifacts/{name}
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ref, err := h.deps.Artifacts.Get(vars["id"], vars["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.ServeFile(w, r, ref.Path)
}

// GetArchive handles GET /v1/runs/{id}/archive
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, ok := h.lookupRun(id)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status != models.RunCompleted {
		http.Error(w, "run is still in progress", http.StatusConflict)
		return
	}

	path, err := h.deps.Artifacts.Archive(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="gameprobe-%s.tar.gz"`, id))
	http.ServeFile(w, r, path)
}

// StreamEvents handles GET /v1/runs/{id}/events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, ok := h.lookupRun(id)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status == models.RunCompleted {
		http.Error(w, "run already completed", http.StatusGone)
		return
	}

	h.deps.Hub.ServeWS(w, r, id)
}

type suiteInfo struct {
	Name      string         `json:"name"`
	Target    string         `json:"target"`
	Scenarios []scenarioInfo `json:"scenarios"`
}

type scenarioInfo struct {
	Name string        `json:"name"`
	Kind scenario.Kind `json:"kind"`
}

// ListSuites handles GET /v1/suites
func (h *Handler) ListSuites(w http.ResponseWriter, r *http.Request) {
	out := make([]suiteInfo, 0, len(h.deps.Suites))
	for _, s := range h.deps.Suites {
		info := suiteInfo{Name: s.Name, Target: s.TargetPath}
		for _, sc := range s.Scenarios {
			info.Scenarios = append(info.Scenarios, scenarioInfo{Name: sc.Name, Kind: sc.Kind})
		}
		out = append(out, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.deps.Sessions.GetSession(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	var status models.SessionStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status = models.SessionStatus(statusStr)
	}

	sessions := h.deps.Sessions.ListSessions(status)
	if sessions == nil {
		sessions = []*models.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// GetDebugURL handles GET /v1/sessions/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	session, err := h.deps.Sessions.GetSession(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	debugURL := fmt.Sprintf("ws://%s/v1/sessions/%s/ws", r.Host, session.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"debuggerUrl": debugURL,
		"sessionId":   session.ID,
		"status":      string(session.Status),
	})
}
