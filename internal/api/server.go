// Package api serves the HTTP control surface: status, profile switching,
// the shutdown override, pushed sensor values, event history and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/scheduler"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 1000

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Controller is the part of the thermal system driven over HTTP.
type Controller interface {
	Status() thermal.Status
	SwitchProfile(ctx context.Context, name string) error
	SetShutdownOverride(on bool)
	Notify(ctx context.Context, n scheduler.Notification) error
}

// EventSource returns the most recent thermal events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]event.ThermalEvent, error)
}

// Instrumenter records per-route request metrics and serves the scrape
// endpoint.
type Instrumenter interface {
	WrapHandler(route string, next http.Handler) http.Handler
	Handler() http.Handler
}

type Server struct {
	ctrl    Controller
	events  EventSource
	metrics Instrumenter
	log     logger.Logger
}

// New returns a server. events and metrics may be nil.
func New(ctrl Controller, events EventSource, metrics Instrumenter) *Server {
	return &Server{
		ctrl:    ctrl,
		events:  events,
		metrics: metrics,
		log:     logger.New("api"),
	}
}

type profileRequest struct {
	Name string `json:"name"`
}

type overrideRequest struct {
	Enabled *bool `json:"enabled"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Router registers every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	s.handle(r, "/healthz", s.health, http.MethodGet)
	s.handle(r, "/api/v1/status", s.status, http.MethodGet)
	s.handle(r, "/api/v1/profile", s.switchProfile, http.MethodPut)
	s.handle(r, "/api/v1/shutdown-override", s.shutdownOverride, http.MethodPut)
	s.handle(r, "/api/v1/notify", s.notify, http.MethodPost)
	s.handle(r, "/api/v1/events", s.recentEvents, http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handle(r *mux.Router, path string, h http.HandlerFunc, method string) {
	var handler http.Handler = h
	if s.metrics != nil {
		handler = s.metrics.WrapHandler(path, handler)
	}
	r.Handle(path, handler).Methods(method)
}

// Handler wraps the router with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(handlers.LoggingHandler(logger.Writer(), s.Router()))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New().Wrap(ErrServerFailed, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.New().Wrap(ErrServerFailed, err)
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) switchProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.writeError(w, errors.New().WithMessage(ErrBadRequest, "body must be {\"name\": <profile>}"))
		return
	}

	if err := s.ctrl.SwitchProfile(r.Context(), req.Name); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) shutdownOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, errors.New().WithMessage(ErrBadRequest, "body must be {\"enabled\": <bool>}"))
		return
	}

	s.ctrl.SetShutdownOverride(*req.Enabled)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	var n scheduler.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil || n.Sensor == "" {
		s.writeError(w, errors.New().WithMessage(ErrBadRequest, "body must be {\"sensor\": <name>, \"value\": <millidegrees>}"))
		return
	}

	if err := s.ctrl.Notify(r.Context(), n); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, errors.New().WithData(ErrBadRequest, "limit "+raw))
			return
		}
		limit = min(n, MaxEventLimit)
	}

	if s.events == nil {
		writeJSON(w, http.StatusOK, []event.ThermalEvent{})
		return
	}

	events, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []event.ThermalEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("code", string(code)).Msg("Request failed")
	}

	writeJSON(w, status, errorResponse{Error: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(v...))
}
