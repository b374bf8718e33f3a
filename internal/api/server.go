package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"gps-relay/internal/location"
	"gps-relay/internal/logsink"
	"gps-relay/internal/mock"
	"gps-relay/internal/relay"
	"gps-relay/internal/services"
)

type RelayController interface {
	StartSender() error
	StopSender()
	StartReceiver() error
	StopReceiver()
	Status() services.Status
}

type SettingsStore interface {
	All() map[string]any
	Set(values map[string]any) error
}

type PositionSource interface {
	Positions() []mock.Position
}

type Config struct {
	ListenAddr string
}

// Server is the HTTP control surface of the relay host.
type Server struct {
	r        chi.Router
	s        *http.Server
	relay    RelayController
	settings SettingsStore
	logs     *logsink.Buffer
	mocks    PositionSource
	logger   zerolog.Logger
}

// NewServer wires the routes. settings and mocks may be nil, in which case
// their routes answer 404.
func NewServer(cfg Config, controller RelayController, settings SettingsStore, logs *logsink.Buffer, mocks PositionSource, logger zerolog.Logger) *Server {
	srv := &Server{
		relay:    controller,
		settings: settings,
		logs:     logs,
		mocks:    mocks,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/status", srv.getStatus)
	r.Get("/logs", srv.getLogs)

	r.Route("/sender", func(r chi.Router) {
		r.Post("/start", srv.startSender)
		r.Post("/stop", srv.stopSender)
	})
	r.Route("/receiver", func(r chi.Router) {
		r.Post("/start", srv.startReceiver)
		r.Post("/stop", srv.stopReceiver)
	})

	if settings != nil {
		r.Get("/settings", srv.getSettings)
		r.Put("/settings", srv.putSettings)
	}
	if mocks != nil {
		r.Get("/providers", srv.getProviders)
	}

	srv.r = r
	srv.s = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.s.Addr).Msg("HTTP API listening")
	if err := s.s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.s.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

type logsResponse struct {
	Total   uint64          `json:"total"`
	Entries []logsink.Entry `json:"entries"`
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.logs.Entries()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, logsResponse{Total: s.logs.Total(), Entries: entries})
}

func (s *Server) startSender(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.StartSender(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.relay.Status().Sender)
}

func (s *Server) stopSender(w http.ResponseWriter, r *http.Request) {
	s.relay.StopSender()
	writeJSON(w, http.StatusOK, s.relay.Status().Sender)
}

func (s *Server) startReceiver(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.StartReceiver(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.relay.Status().Receiver)
}

func (s *Server) stopReceiver(w http.ResponseWriter, r *http.Request) {
	s.relay.StopReceiver()
	writeJSON(w, http.StatusOK, s.relay.Status().Receiver)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.All())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.settings.Set(values); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.All())
}

func (s *Server) getProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mocks.Positions())
}

func statusFor(err error) int {
	var terr *relay.TransportError
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &terr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
