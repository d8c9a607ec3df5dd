package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/deepwork/internal/focus"
	"github.com/goodtune/deepwork/internal/session"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Server represents the session tracker HTTP API server.
type Server struct {
	config      Config
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	handler     http.Handler
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, machine *session.Machine, engine *focus.Engine, clock session.Clock, logger zerolog.Logger) *Server {
	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 100 // Default: 100 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}
	if clock == nil {
		clock = session.RealClock{}
	}

	s := &Server{
		config:      cfg,
		rateLimiter: NewRateLimiter(rateLimit, rateLimitWindow),
		router:      mux.NewRouter(),
		logger:      logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes(NewSessionsHandler(machine, engine, clock, s.logger))

	// Middleware wraps the router so that preflight requests for any path reach CORS
	var handler http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	}
	handler = RateLimitMiddleware(s.rateLimiter)(handler)
	handler = MetricsMiddleware(s.router)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	s.handler = handler

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(h *SessionsHandler) {
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Collection and reporting routes are registered before /sessions/{id}
	s.router.HandleFunc("/sessions", h.Create).Methods("POST")
	s.router.HandleFunc("/sessions/", h.Create).Methods("POST")
	s.router.HandleFunc("/sessions/history", h.History).Methods("GET")
	s.router.HandleFunc("/sessions/history/summary", h.HistorySummary).Methods("GET")
	s.router.HandleFunc("/sessions/report/weekly", h.WeeklyReport).Methods("GET")
	s.router.HandleFunc("/sessions/export/csv", h.ExportCSV).Methods("GET")

	s.router.HandleFunc("/sessions/{id}", h.Get).Methods("GET")
	s.router.HandleFunc("/sessions/{id}", h.Delete).Methods("DELETE")
	s.router.HandleFunc("/sessions/{id}/interruptions", h.Interruptions).Methods("GET")
	s.router.HandleFunc("/sessions/{id}/start", h.Start).Methods("PATCH")
	s.router.HandleFunc("/sessions/{id}/pause", h.Pause).Methods("PATCH")
	s.router.HandleFunc("/sessions/{id}/resume", h.Resume).Methods("PATCH")
	s.router.HandleFunc("/sessions/{id}/complete", h.Complete).Methods("PATCH")
	s.router.HandleFunc("/sessions/{id}/focus-score", h.FocusScore).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	s.rateLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Deep Work Session Tracker API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}
