// Package web exposes the practice server over HTTP: the JSON REST API for
// content and progress, the stateless scoring endpoint, and the live practice
// WebSocket that drives a [practice.Drill] for each connected learner.
package web

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrWong99/lexicdys/internal/health"
	"github.com/MrWong99/lexicdys/internal/observe"
	"github.com/MrWong99/lexicdys/internal/practice"
	"github.com/MrWong99/lexicdys/pkg/audio"
	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	"github.com/MrWong99/lexicdys/pkg/scoring"
	"github.com/MrWong99/lexicdys/pkg/store"
)

// Config holds the settings fixed for the lifetime of a [Server].
type Config struct {
	// AllowedOrigins are host patterns allowed to open the practice socket
	// cross-origin. Same-origin requests are always accepted.
	AllowedOrigins []string

	Practice PracticeConfig
}

// PracticeConfig configures the live practice socket.
type PracticeConfig struct {
	// Provider opens recognition streams. Nil disables speech practice;
	// listen commands then fail with the "unavailable" error code.
	Provider     stt.Provider
	ProviderName string

	Language    string
	SampleRate  int
	AudioFormat audio.Encoding
}

// Tuning holds the practice settings that can change at runtime. New
// connections pick up the current values.
type Tuning struct {
	AdvanceDelay     time.Duration
	PhoneticFallback bool
}

// Server serves the HTTP API. Create one with [New].
type Server struct {
	store          store.Store
	cfg            Config
	log            *slog.Logger
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	drillOpts      []practice.DrillOption
	phonetic       *scoring.PhoneticMatcher

	tuning atomic.Pointer[Tuning]
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth registers the /healthz and /readyz probes of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithTuning sets the initial runtime tuning.
func WithTuning(t Tuning) Option {
	return func(s *Server) { s.tuning.Store(&t) }
}

// WithDrillOptions appends options passed to every [practice.NewDrill].
func WithDrillOptions(opts ...practice.DrillOption) Option {
	return func(s *Server) { s.drillOpts = append(s.drillOpts, opts...) }
}

// New returns a [Server] backed by st.
func New(st store.Store, cfg Config, opts ...Option) *Server {
	s := &Server{
		store:    st,
		cfg:      cfg,
		log:      slog.Default(),
		phonetic: scoring.NewPhoneticMatcher(),
	}
	s.tuning.Store(&Tuning{AdvanceDelay: practice.DefaultAdvanceDelay})
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Tuning returns the current runtime tuning.
func (s *Server) Tuning() Tuning {
	return *s.tuning.Load()
}

// SetTuning replaces the runtime tuning. Connected drills keep the values
// they started with.
func (s *Server) SetTuning(t Tuning) {
	s.tuning.Store(&t)
	s.log.Info("practice tuning updated",
		"advance_delay", t.AdvanceDelay,
		"phonetic_fallback", t.PhoneticFallback,
	)
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/content/{type}", s.listContent)
	mux.HandleFunc("GET /api/content/{type}/{id}", s.getContent)
	mux.HandleFunc("POST /api/admin/content/{type}", s.addContent)
	mux.HandleFunc("PUT /api/admin/content/{type}/{id}", s.updateContent)
	mux.HandleFunc("DELETE /api/admin/content/{type}/{id}", s.deleteContent)

	mux.HandleFunc("POST /api/progress", s.appendProgress)
	mux.HandleFunc("GET /api/progress/{userID}", s.listProgress)

	mux.HandleFunc("POST /api/score", s.score)
	mux.HandleFunc("GET /api/practice/{type}", s.practiceSocket)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}
