package main

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/daniacca/membranedb/internal/plingua"
	"github.com/daniacca/membranedb/internal/psystem"
	"github.com/daniacca/membranedb/internal/psystem/notifiers"
	"github.com/daniacca/membranedb/internal/snapshotstore"
	"github.com/daniacca/membranedb/internal/tracestore"
)

const maxSystemBody = 1 << 20

// extractEnvID extracts the environment ID from a path like "/env/{envID}/..."
// Returns the environment ID and the remaining path, or empty string if not found
func extractEnvID(path string) (psystem.EnvironmentID, string) {
	if !strings.HasPrefix(path, "/env/") {
		return "", ""
	}
	rest := path[len("/env/"):]

	idx := strings.Index(rest, "/")
	if idx == -1 {
		return psystem.EnvironmentID(rest), ""
	}
	return psystem.EnvironmentID(rest[:idx]), rest[idx:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /envs
func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	envIDs := s.manager.ListEnvironments()
	ids := make([]string, len(envIDs))
	for i, id := range envIDs {
		ids[i] = string(id)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"environments": ids})
}

// handleEnvironmentRoutes routes requests to environment-specific handlers
func (s *Server) handleEnvironmentRoutes(w http.ResponseWriter, r *http.Request) {
	envID, remainingPath := extractEnvID(r.URL.Path)
	if envID == "" {
		http.Error(w, "environment ID is required in path: /env/{envID}/...", http.StatusBadRequest)
		return
	}

	if remainingPath == "/system" && r.Method == http.MethodPost {
		s.handleLoadSystem(w, r, envID)
		return
	}
	if remainingPath == "" && r.Method == http.MethodDelete {
		s.handleDeleteEnvironment(w, r, envID)
		return
	}

	env, exists := s.manager.GetEnvironment(envID)
	if !exists {
		http.Error(w, "environment not found", http.StatusNotFound)
		return
	}

	switch {
	case remainingPath == "/system" && r.Method == http.MethodGet:
		s.handleGetSystem(w, r, env)
	case remainingPath == "/step" && r.Method == http.MethodPost:
		s.handleStep(w, r, env)
	case remainingPath == "/start" && r.Method == http.MethodPost:
		s.handleStart(w, r, env)
	case remainingPath == "/stop" && r.Method == http.MethodPost:
		env.Stop()
		s.logger.Infof("Environment stopped: env_id=%s", envID)
		_, _ = w.Write([]byte("environment stopped"))
	case remainingPath == "/reset" && r.Method == http.MethodPost:
		env.Reset()
		s.logger.Infof("Environment reset: env_id=%s", envID)
		_, _ = w.Write([]byte("environment reset"))
	case remainingPath == "/configuration" && r.Method == http.MethodGet:
		s.handleConfiguration(w, r, env)
	case remainingPath == "/inject" && r.Method == http.MethodPost:
		s.handleInject(w, r, env)
	case remainingPath == "/simulate" && r.Method == http.MethodPost:
		s.handleSimulate(w, r, env)
	case remainingPath == "/notifications" && r.Method == http.MethodPost:
		s.handleSetNotifications(w, r, env)
	case remainingPath == "/snapshot" && r.Method == http.MethodPost:
		s.handleSaveSnapshot(w, r, env)
	case remainingPath == "/snapshot" && r.Method == http.MethodGet:
		s.handleGetSnapshot(w, r, env)
	case remainingPath == "/restore" && r.Method == http.MethodPost:
		s.handleRestoreSnapshot(w, r, env)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// POST /env/{envID}/system
// Body: DSL source, or a SystemConfig when Content-Type is application/json.
// Creates the environment or replaces the system of an existing one.
func (s *Server) handleLoadSystem(w http.ResponseWriter, r *http.Request, envID psystem.EnvironmentID) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSystemBody))
	if err != nil {
		http.Error(w, "cannot read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var sys *psystem.System
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var cfg psystem.SystemConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			http.Error(w, "invalid system json: "+err.Error(), http.StatusBadRequest)
			return
		}
		sys, err = psystem.BuildSystemFromConfig(cfg)
	} else {
		sys, err = plingua.Parse(string(body))
	}
	if err != nil {
		http.Error(w, "cannot build system: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := s.installSystem(envID, sys)
	if err != nil {
		s.logger.Errorf("Failed to install system: env_id=%s error=%v", envID, err)
		http.Error(w, "cannot update environment: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if created {
		s.logger.Infof("Environment created: env_id=%s system=%s", envID, sys.Name())
	} else {
		s.logger.Infof("Environment system updated: env_id=%s system=%s", envID, sys.Name())
	}

	_, _ = w.Write([]byte("system loaded"))
}

// GET /env/{envID}/system
// DSL rendering by default; JSON SystemConfig with ?format=json or when
// the system has no textual form.
func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	sys := env.System()
	if r.URL.Query().Get("format") != "json" {
		if src, err := plingua.Format(sys); err == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(src))
			return
		}
	}
	writeJSON(w, http.StatusOK, psystem.ConfigFromSystem(sys))
}

type stepResponse struct {
	Report        psystem.StepReport    `json:"report"`
	Halted        bool                  `json:"halted"`
	Configuration psystem.Configuration `json:"configuration"`
}

// POST /env/{envID}/step
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	report := env.Step()
	writeJSON(w, http.StatusOK, stepResponse{
		Report:        report,
		Halted:        env.IsHalted(),
		Configuration: env.Configuration(),
	})
}

// POST /env/{envID}/start?interval=ms (default 1000ms)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	interval := 1000 * time.Millisecond
	if intervalStr := r.URL.Query().Get("interval"); intervalStr != "" {
		if ms, err := strconv.Atoi(intervalStr); err == nil && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		} else {
			http.Error(w, "invalid interval: must be a positive integer (milliseconds)", http.StatusBadRequest)
			return
		}
	}

	env.Run(interval)
	s.logger.Infof("Environment started: env_id=%s interval=%v", env.ID(), interval)
	_, _ = w.Write([]byte("environment started"))
}

type configurationResponse struct {
	Configuration psystem.Configuration `json:"configuration"`
	Halted        bool                  `json:"halted"`
	Running       bool                  `json:"running"`
}

// GET /env/{envID}/configuration
func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	writeJSON(w, http.StatusOK, configurationResponse{
		Configuration: env.Configuration(),
		Halted:        env.IsHalted(),
		Running:       env.IsRunning(),
	})
}

// POST /env/{envID}/inject
// Body: {"membrane": 2, "objects": {"a": 3}}
type injectRequest struct {
	Membrane int            `json:"membrane"`
	Objects  map[string]int `json:"objects"`
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	defer r.Body.Close()

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	counts := make(map[psystem.Object]int, len(req.Objects))
	for obj, n := range req.Objects {
		if obj == "" || n <= 0 {
			http.Error(w, "objects must have non-empty names and positive counts", http.StatusBadRequest)
			return
		}
		counts[psystem.Object(obj)] = n
	}
	if err := env.Inject(psystem.MembraneID(req.Membrane), psystem.NewMultiset(counts)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Debugf("Objects injected: env_id=%s membrane=%d objects=%v", env.ID(), req.Membrane, req.Objects)
	_, _ = w.Write([]byte("ok"))
}

type simulateResponse struct {
	RunID string `json:"run_id,omitempty"`
	psystem.SimulationResult
}

// POST /env/{envID}/simulate?max_steps=N&trace=true
// Runs from the initial configuration without touching the environment.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	q := r.URL.Query()
	maxSteps := 100
	if v := q.Get("max_steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid max_steps: must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxSteps = n
	}
	trace := false
	if v := q.Get("trace"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid trace: must be a boolean", http.StatusBadRequest)
			return
		}
		trace = b
	}

	result := env.Simulate(maxSteps, trace)
	resp := simulateResponse{SimulationResult: result}

	if s.traceStore != nil {
		run, err := s.traceStore.Record(r.Context(), env.System(), result, tracestore.RecordOptions{
			Policy:   env.Policy(),
			MaxSteps: maxSteps,
			Source:   string(env.ID()),
		})
		if err != nil {
			s.logger.Errorf("Failed to record run: env_id=%s error=%v", env.ID(), err)
		} else {
			resp.RunID = run.ID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /env/{envID}/notifications
// Body: {"notifiers": ["hook-1"]}
type setNotificationsRequest struct {
	Notifiers []string `json:"notifiers"`
}

func (s *Server) handleSetNotifications(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	defer r.Body.Close()

	var req setNotificationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, id := range req.Notifiers {
		if _, ok := s.notifierMgr.GetNotifier(id); !ok {
			http.Error(w, "unknown notifier: "+id, http.StatusBadRequest)
			return
		}
	}

	env.SetNotifiers(req.Notifiers)
	_, _ = w.Write([]byte("notifications configured"))
}

// POST /env/{envID}/snapshot
// Triggers a synchronous snapshot save
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	if s.snapshotStore == nil {
		http.Error(w, "snapshot store not configured", http.StatusInternalServerError)
		return
	}

	snap, err := env.SaveSnapshot(r.Context())
	if err != nil {
		s.logger.Errorf("Failed to save snapshot: env_id=%s error=%v", env.ID(), err)
		http.Error(w, "failed to save snapshot: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Debugf("Snapshot saved: env_id=%s step=%d", env.ID(), snap.Step)

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "step": snap.Step})
}

// GET /env/{envID}/snapshot
// Returns the stored snapshot without restoring it
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	if s.snapshotStore == nil {
		http.Error(w, "snapshot store not configured", http.StatusInternalServerError)
		return
	}

	snap, err := s.snapshotStore.Load(r.Context(), env.ID())
	if errors.Is(err, snapshotstore.ErrNotFound) {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to read snapshot: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /env/{envID}/restore
// Replaces the current configuration with the stored snapshot
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request, env *psystem.Environment) {
	if s.snapshotStore == nil {
		http.Error(w, "snapshot store not configured", http.StatusInternalServerError)
		return
	}

	snap, err := env.LoadSnapshot(r.Context())
	switch {
	case errors.Is(err, snapshotstore.ErrNotFound):
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Infof("Snapshot restored: env_id=%s step=%d", env.ID(), snap.Step)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "step": snap.Step})
}

// DELETE /env/{envID}
func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request, envID psystem.EnvironmentID) {
	if err := s.deleteEnvironment(envID); err != nil {
		s.logger.Warnf("Failed to delete environment: env_id=%s error=%v", envID, err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Infof("Environment deleted: env_id=%s", envID)
	_, _ = w.Write([]byte("environment deleted"))
}

// handleNotifiersRoutes handles notifier management endpoints
func (s *Server) handleNotifiersRoutes(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/notifiers" && r.Method == http.MethodGet:
		s.handleListNotifiers(w, r)
	case r.URL.Path == "/notifiers" && r.Method == http.MethodPost:
		s.handleRegisterNotifier(w, r)
	case strings.HasPrefix(r.URL.Path, "/notifiers/") && r.Method == http.MethodDelete:
		s.handleUnregisterNotifier(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// GET /notifiers
func (s *Server) handleListNotifiers(w http.ResponseWriter, _ *http.Request) {
	ids := s.notifierMgr.ListNotifiers()
	list := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		if notifier, exists := s.notifierMgr.GetNotifier(id); exists {
			list = append(list, map[string]string{"id": id, "type": notifier.Type()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifiers": list})
}

// POST /notifiers
// Body: { "type": "webhook", "id": "my-webhook", "config": { "url": "http://...", "halted_only": true } }
// or    { "type": "websocket", "id": "live" }
type registerNotifierRequest struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleRegisterNotifier(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req registerNotifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "notifier ID is required", http.StatusBadRequest)
		return
	}

	var notifier psystem.Notifier
	switch req.Type {
	case "webhook":
		url, ok := req.Config["url"].(string)
		if !ok || url == "" {
			http.Error(w, "webhook URL is required", http.StatusBadRequest)
			return
		}
		var opts []notifiers.WebhookOption
		if headers, ok := req.Config["headers"].(map[string]any); ok {
			for k, v := range headers {
				if vStr, ok := v.(string); ok {
					opts = append(opts, notifiers.WithHeader(k, vStr))
				}
			}
		}
		if haltedOnly, ok := req.Config["halted_only"].(bool); ok && haltedOnly {
			opts = append(opts, notifiers.WithHaltedOnly())
		}
		notifier = notifiers.NewWebhookNotifier(req.ID, url, opts...)
	case "websocket":
		notifier = notifiers.NewWebSocketNotifier(req.ID)
	default:
		http.Error(w, "unknown notifier type: "+req.Type, http.StatusBadRequest)
		return
	}

	if err := s.notifierMgr.RegisterNotifier(notifier); err != nil {
		_ = notifier.Close()
		http.Error(w, "cannot register notifier: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Infof("Notifier registered: id=%s type=%s", req.ID, req.Type)
	_, _ = w.Write([]byte("notifier registered"))
}

// DELETE /notifiers/{id}
func (s *Server) handleUnregisterNotifier(w http.ResponseWriter, r *http.Request) {
	notifierID := strings.TrimPrefix(r.URL.Path, "/notifiers/")
	if notifierID == "" {
		http.Error(w, "notifier ID is required", http.StatusBadRequest)
		return
	}

	if err := s.notifierMgr.UnregisterNotifier(notifierID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte("notifier unregistered"))
}

// GET /ws?notifier={id}
// Upgrades the connection and subscribes it to a websocket notifier.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("notifier")
	if id == "" {
		http.Error(w, "notifier query parameter is required", http.StatusBadRequest)
		return
	}
	notifier, ok := s.notifierMgr.GetNotifier(id)
	if !ok {
		http.Error(w, "notifier not found", http.StatusNotFound)
		return
	}
	ws, ok := notifier.(*notifiers.WebSocketNotifier)
	if !ok {
		http.Error(w, "notifier "+id+" is not a websocket notifier", http.StatusBadRequest)
		return
	}
	ws.ServeHTTP(w, r)
}

// GET /runs, GET /runs/{id}, DELETE /runs/{id}
func (s *Server) handleRunsRoutes(w http.ResponseWriter, r *http.Request) {
	if s.traceStore == nil {
		http.Error(w, "trace store not configured", http.StatusNotFound)
		return
	}

	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/runs"), "/")
	switch {
	case id == "" && r.Method == http.MethodGet:
		runs, err := s.traceStore.ListRuns(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []tracestore.Run{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})

	case id != "" && r.Method == http.MethodGet:
		run, err := s.traceStore.GetRun(r.Context(), id)
		if err != nil {
			s.runError(w, err)
			return
		}
		steps, err := s.traceStore.Steps(r.Context(), id)
		if err != nil {
			s.runError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run, "steps": steps})

	case id != "" && r.Method == http.MethodDelete:
		if err := s.traceStore.DeleteRun(r.Context(), id); err != nil {
			s.runError(w, err)
			return
		}
		_, _ = w.Write([]byte("run deleted"))

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, tracestore.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
