package app

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/credential"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/hcl"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/memruntime"
	"github.com/specialistvlad/streamgrid/internal/metric"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

// announceDelay is how long the in-process runtime takes to expose a
// transport's output once its location is set.
const announceDelay = 100 * time.Millisecond

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *Config

	loader      topology.Loader
	credentials credential.Service
	runtime     media.Runtime
	clock       clockwork.Clock

	registry *prometheus.Registry
	metrics  *metric.Metrics

	httpServer *http.Server

	mu     sync.Mutex
	graphs map[string]*binbuilder.Handle // by stream name
}

// Option overrides one of the App's collaborators.
type Option func(*App)

// WithLoader replaces the HCL topology loader.
func WithLoader(l topology.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithCredentials replaces the socket.io credential client dialed by Run.
func WithCredentials(s credential.Service) Option {
	return func(a *App) { a.credentials = s }
}

// WithRuntime replaces the in-process media runtime.
func WithRuntime(rt media.Runtime) Option {
	return func(a *App) { a.runtime = rt }
}

// WithClock replaces the wall clock driving renewal and restart timers.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// NewApp is the constructor for the main application. It returns an App with
// its own isolated logger and metrics registry.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := metric.NewRegistry()
	metrics, err := metric.New(reg)
	if err != nil {
		return nil, err
	}

	a := &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		registry: reg,
		metrics:  metrics,
		graphs:   make(map[string]*binbuilder.Handle),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.loader == nil {
		a.loader = hcl.NewLoader()
	}
	if a.runtime == nil {
		a.runtime = memruntime.New(memruntime.WithAutoAnnounce(announceDelay))
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	return a, nil
}

// Graphs returns the running top-level graph of every stream by stream
// name. This is primarily for testing.
func (a *App) Graphs() map[string]*binbuilder.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.graphs)
}

// Metrics returns the application's metrics. This is primarily for testing.
func (a *App) Metrics() *metric.Metrics {
	return a.metrics
}
