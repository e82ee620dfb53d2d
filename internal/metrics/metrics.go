package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Status channel metrics
	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_status_updates_total",
			Help: "Total device status updates applied",
		},
		[]string{"source"},
	)

	StatusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_status_dropped_total",
			Help: "Device status payloads dropped before being applied",
		},
		[]string{"reason"},
	)

	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_feed_reconnects_total",
			Help: "Live feed reconnect attempts",
		},
	)

	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockbox_feed_connected",
			Help: "Whether the live status feed is connected (1) or polling (0)",
		},
	)

	// Override metrics
	OverrideRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_override_requests_total",
			Help: "Override requests by gate decision",
		},
		[]string{"route"},
	)

	OverrideSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_override_sessions_total",
			Help: "Finished override sessions",
		},
		[]string{"path", "outcome"},
	)

	GuidedInteractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_guided_interactions_total",
			Help: "Guided session interactions",
		},
		[]string{"kind"},
	)

	BreathingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_breathing_runs_total",
			Help: "Breathing exercise runs by outcome",
		},
		[]string{"outcome"},
	)

	// Policy metrics
	PolicyEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockbox_policy_evaluation_duration_seconds",
			Help:    "Trigger gate policy evaluation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		StatusUpdatesTotal,
		StatusDroppedTotal,
		FeedReconnectsTotal,
		FeedConnected,
		OverrideRequestsTotal,
		OverrideSessionsTotal,
		GuidedInteractionsTotal,
		BreathingRunsTotal,
		PolicyEvalDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	health   func() bool
}

// NewServer creates a new metrics server. health reports readiness for
// /health; nil means always healthy.
func NewServer(addr string, health func() bool, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "metrics").Logger(),
		health: health,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NO STATUS"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the server mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
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
