// Package app wires all Lexicdys subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lexicdys/internal/config"
	"github.com/MrWong99/lexicdys/internal/health"
	"github.com/MrWong99/lexicdys/internal/observe"
	"github.com/MrWong99/lexicdys/internal/resilience"
	"github.com/MrWong99/lexicdys/internal/web"
	"github.com/MrWong99/lexicdys/pkg/provider/stt"
	"github.com/MrWong99/lexicdys/pkg/store"
	"github.com/MrWong99/lexicdys/pkg/store/memstore"
	"github.com/MrWong99/lexicdys/pkg/store/postgres"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// errSpeechDown is reported by the readiness probe while every recognition
// backend has an open circuit.
var errSpeechDown = errors.New("all recognition backends are unavailable")

// NamedSTT is a speech recognition provider together with its configured
// name.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the recognition providers built by main.go via the config
// registry. A nil STT disables speech practice.
type Providers struct {
	STT       NamedSTT
	Fallbacks []NamedSTT
}

// App owns all subsystem lifetimes of the practice server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store          store.Store
	speech         *resilience.STTFallback
	web            *web.Server
	httpSrv        *http.Server
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	// baseCtx is the parent of every request context. Cancelling it ends
	// open practice sockets on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the handler served at /metrics. Defaults to
// the Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the logger
// backed by lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: store connection, content
// seeding, recognition failover setup, and HTTP routing.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Seed content ──────────────────────────────────────────────────
	if err := a.seed(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: seed content: %w", err)
	}

	// ── 3. Speech recognition ────────────────────────────────────────────
	a.initSpeech()

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL or falls back to the in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("no store.postgres_dsn configured, content and progress are kept in memory")
		a.store = memstore.New()
		return nil
	}

	pg, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	slog.Info("connected to postgres store")
	return nil
}

// seed adds the configured content for every type that has none yet. Items
// are added last to first so practice shows them in the configured order.
func (a *App) seed(ctx context.Context) error {
	sets := []struct {
		t     store.ContentType
		texts []string
	}{
		{store.ContentWord, a.cfg.Store.Seed.Words},
		{store.ContentSentence, a.cfg.Store.Seed.Sentences},
	}
	for _, set := range sets {
		if len(set.texts) == 0 {
			continue
		}
		existing, err := a.store.ListContent(ctx, set.t)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			slog.Debug("content present, skipping seed", "type", set.t, "count", len(existing))
			continue
		}
		for i := len(set.texts) - 1; i >= 0; i-- {
			if _, err := a.store.AddContent(ctx, set.t, set.texts[i]); err != nil {
				return fmt.Errorf("%s %q: %w", set.t, set.texts[i], err)
			}
		}
		slog.Info("seeded practice content", "type", set.t, "count", len(set.texts))
	}
	return nil
}

// initSpeech puts the configured recognition providers behind circuit
// breakers. The primary is always wrapped, even without fallbacks, so a
// failing backend is not hammered by every learner.
func (a *App) initSpeech() {
	named := make([]NamedSTT, 0, 1+len(a.providers.Fallbacks))
	if a.providers.STT.Provider != nil {
		named = append(named, a.providers.STT)
	}
	for _, fb := range a.providers.Fallbacks {
		if fb.Provider != nil {
			named = append(named, fb)
		}
	}
	for _, n := range named {
		if c, ok := n.Provider.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	if len(named) == 0 {
		slog.Warn("no speech recognition provider configured, live practice is disabled")
		return
	}

	a.speech = resilience.NewSTTFallback(named[0].Provider, named[0].Name, resilience.FallbackConfig{})
	for _, fb := range named[1:] {
		a.speech.AddFallback(fb.Name, fb.Provider)
	}
	slog.Info("speech recognition ready", "backends", a.speech.Names())
}

// initHTTP builds the API server and the http.Server around it.
func (a *App) initHTTP() {
	checks := []health.Checker{
		health.PingChecker("store", a.store),
		{Name: "speech", Check: a.checkSpeech, Optional: true},
	}

	practice := web.PracticeConfig{
		Language:    a.cfg.Practice.Language,
		SampleRate:  a.cfg.Practice.SampleRate,
		AudioFormat: a.cfg.Practice.AudioFormat,
	}
	if a.speech != nil {
		practice.Provider = a.speech
		practice.ProviderName = a.speech.Names()[0]
	}

	a.web = web.New(a.store,
		web.Config{
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			Practice:       practice,
		},
		web.WithLogger(slog.Default()),
		web.WithMetrics(a.metrics),
		web.WithHealth(health.New(checks...)),
		web.WithMetricsHandler(a.metricsHandler),
		web.WithTuning(tuningFrom(a.cfg)),
	)

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.web.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
}

// checkSpeech fails while no recognition backend can accept a stream.
func (a *App) checkSpeech(context.Context) error {
	if a.speech == nil {
		return stt.ErrUnavailable
	}
	for _, name := range a.speech.Names() {
		if a.speech.Breaker(name).State() != resilience.StateOpen {
			return nil
		}
	}
	return errSpeechDown
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Tuning returns the practice tuning applied to new connections.
func (a *App) Tuning() web.Tuning {
	return a.web.Tuning()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves HTTP until ctx is
// cancelled. It returns ctx.Err() on cancellation, or the listener error if
// serving fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.httpSrv.Serve(ln)
	}()

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"speech", a.speech != nil,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. It is
// the callback for [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	diff := config.Diff(old, new)

	if diff.LogLevelChanged {
		if a.level != nil {
			a.level.Set(diff.NewLogLevel.Slog())
		}
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.PracticeChanged {
		a.web.SetTuning(tuningFrom(new))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, ends open practice sockets, and then
// tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		// Hijacked WebSocket connections are not tracked by the server.
		a.cancelBase()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what New already acquired when a later step fails.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.cancelBase()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func tuningFrom(cfg *config.Config) web.Tuning {
	return web.Tuning{
		AdvanceDelay:     cfg.Practice.AdvanceDelay,
		PhoneticFallback: cfg.Practice.PhoneticFallback,
	}
}
