package main

import (
	"errors"
	"net/http"

	"github.com/daniacca/membranedb/internal/psystem"
	"github.com/daniacca/membranedb/internal/tracestore"
)

// psystemLoggerAdapter adapts the server's Logger to the psystem.Logger interface
type psystemLoggerAdapter struct {
	logger *Logger
}

func (a *psystemLoggerAdapter) Debugf(format string, v ...any) {
	a.logger.Debugf(format, v...)
}

func (a *psystemLoggerAdapter) Infof(format string, v ...any) {
	a.logger.Infof(format, v...)
}

func (a *psystemLoggerAdapter) Warnf(format string, v ...any) {
	a.logger.Warnf(format, v...)
}

func (a *psystemLoggerAdapter) Errorf(format string, v ...any) {
	a.logger.Errorf(format, v...)
}

// Server represents the HTTP server for MembraneDB
type Server struct {
	manager       *psystem.EnvironmentManager
	notifierMgr   *psystem.NotificationManager
	snapshotStore psystem.SnapshotStore
	snapshotEvery int
	traceStore    *tracestore.Store
	metrics       *metrics
	logger        *Logger
}

// NewServer creates a new server instance. opts configure the simulator of
// every environment the server creates.
func NewServer(logger *Logger, opts ...psystem.Option) *Server {
	engineLogger := &psystemLoggerAdapter{logger: logger}
	notifierMgr := psystem.NewNotificationManager()
	notifierMgr.SetLogger(engineLogger)

	opts = append([]psystem.Option{psystem.WithLogger(engineLogger)}, opts...)
	return &Server{
		manager:     psystem.NewEnvironmentManager(opts...),
		notifierMgr: notifierMgr,
		metrics:     newMetrics(),
		logger:      logger,
	}
}

// SetSnapshotStore sets the snapshot store and periodic snapshot frequency
// for all environments
func (s *Server) SetSnapshotStore(store psystem.SnapshotStore, every int) {
	s.snapshotStore = store
	s.snapshotEvery = every
}

// SetTraceStore enables recording of simulate requests.
func (s *Server) SetTraceStore(store *tracestore.Store) {
	s.traceStore = store
}

// configureEnvironment wires server-wide collaborators into env.
func (s *Server) configureEnvironment(env *psystem.Environment) {
	env.SetNotificationManager(s.notifierMgr)
	env.SetStepObserver(s.metrics.observeStep)
	if s.snapshotStore != nil {
		env.SetSnapshotStore(s.snapshotStore, s.snapshotEvery)
	}
}

// installSystem creates the environment, or replaces the system of an
// existing one.
func (s *Server) installSystem(id psystem.EnvironmentID, sys *psystem.System) (created bool, err error) {
	if _, exists := s.manager.GetEnvironment(id); exists {
		if err := s.manager.UpdateEnvironmentSystem(id, sys); err != nil {
			return false, err
		}
	} else {
		env, err := s.manager.CreateEnvironment(id, sys)
		if err != nil {
			return false, err
		}
		s.configureEnvironment(env)
		created = true
	}
	s.metrics.environments.Set(float64(len(s.manager.ListEnvironments())))
	return created, nil
}

func (s *Server) deleteEnvironment(id psystem.EnvironmentID) error {
	if err := s.manager.DeleteEnvironment(id); err != nil {
		return err
	}
	s.metrics.forget(id)
	s.metrics.environments.Set(float64(len(s.manager.ListEnvironments())))
	return nil
}

// Routes returns the HTTP handler serving every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/envs", s.handleListEnvironments)
	mux.Handle("/metrics", s.metrics.handler())
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/notifiers", s.handleNotifiersRoutes)
	mux.HandleFunc("/notifiers/", s.handleNotifiersRoutes)
	mux.HandleFunc("/runs", s.handleRunsRoutes)
	mux.HandleFunc("/runs/", s.handleRunsRoutes)
	mux.HandleFunc("/env/", s.handleEnvironmentRoutes)
	return mux
}

// Close stops every environment and releases notifiers and stores.
func (s *Server) Close() error {
	s.manager.StopAll()
	var errs []error
	if err := s.notifierMgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.traceStore != nil {
		if err := s.traceStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
