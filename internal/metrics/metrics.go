package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session lifecycle metrics
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepwork_session_transitions_total",
			Help: "Total state machine operations by outcome",
		},
		[]string{"operation", "result"},
	)

	InterruptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepwork_interruptions_total",
			Help: "Total interruptions recorded",
		},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepwork_sessions_finished_total",
			Help: "Sessions that reached a final status via complete or the pause limit",
		},
		[]string{"status"},
	)

	FocusScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepwork_focus_score",
			Help:    "Focus score of completed sessions",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepwork_api_requests_total",
			Help: "Total HTTP API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepwork_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Focus score cache metrics
	FocusCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepwork_focus_cache_hits_total",
			Help: "Focus score cache hits",
		},
	)

	FocusCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepwork_focus_cache_misses_total",
			Help: "Focus score cache misses",
		},
	)

	// Retention metrics
	RetentionDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deepwork_retention_deleted_sessions_total",
			Help: "Sessions removed by the retention scheduler",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionTransitions,
		InterruptionsTotal,
		SessionsFinished,
		FocusScore,
		APIRequestsTotal,
		APIRequestDuration,
		FocusCacheHits,
		FocusCacheMisses,
		RetentionDeleted,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
