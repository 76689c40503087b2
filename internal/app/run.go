package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/credential/socketio"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/eventloop"
	"github.com/specialistvlad/streamgrid/internal/interpreter"
	"github.com/specialistvlad/streamgrid/internal/stream"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

// ErrBusError fails a graph whose runtime reported an error on its bus.
var ErrBusError = errors.New("runtime error")

// ErrShutdown is the teardown cause of every graph still running when Run
// returns.
var ErrShutdown = errors.New("shutting down")

// Run loads the topology, starts every stream in it and keeps them running
// until ctx is done. All graphs are torn down before it returns.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	streams, err := a.loader.Load(ctx, a.config.TopologyPath)
	if err != nil {
		return fmt.Errorf("failed to load topology: %w", err)
	}
	if len(streams) == 0 {
		return fmt.Errorf("topology %s defines no streams", a.config.TopologyPath)
	}
	a.logger.Info("Topology loaded.", "streams", len(streams))

	if a.credentials == nil {
		client, err := socketio.Dial(ctx, socketio.Config{
			URL:       a.config.CredentialsURL,
			Namespace: a.config.CredentialsNamespace,
			Timeout:   a.config.CredentialsTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to credential service: %w", err)
		}
		defer client.Close()
		a.credentials = client
	}

	loop := eventloop.New(a.clock)
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	factory := &binbuilder.Factory{
		Runtime:    a.runtime,
		Loop:       loop,
		Metrics:    a.metrics,
		OnBusError: failOnBusError,
	}
	engine := stream.New(stream.Config{
		Credentials:  a.credentials,
		Factory:      factory,
		Metrics:      a.metrics,
		SafetyMargin: a.config.SafetyMargin,
	})
	interp := interpreter.NewDefault(factory, engine, a.metrics)

	a.healthCheckServer()
	defer func() { _ = a.closeHealthCheckServer() }()

	started := 0
	for _, s := range streams {
		if err := a.startStream(ctx, interp, s); err != nil {
			a.logger.Error("Stream failed to start.", "stream", s.Name, "topology", topology.String(s.Source), "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return errors.New("no stream could be started")
	}
	a.logger.Info("🚀 Streams running.", "started", started, "total", len(streams))

	<-ctx.Done()
	a.logger.Info("🏁 Shutting down streams.", "cause", context.Cause(ctx))
	a.stopAll()

	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) startStream(ctx context.Context, interp *interpreter.Interpreter, s topology.Stream) error {
	ctx = ctxlog.With(ctx, "stream", s.Name)
	h, err := interp.Interpret(ctx, s.Source)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.graphs[s.Name] = h
	a.mu.Unlock()

	h.OnFailure(func(err error) {
		a.mu.Lock()
		if a.graphs[s.Name] == h {
			delete(a.graphs, s.Name)
		}
		a.mu.Unlock()
		if !errors.Is(err, ErrShutdown) {
			ctxlog.FromContext(ctx).Error("Stream graph torn down.", "graph", h.Name(), "error", err)
		}
	})
	ctxlog.FromContext(ctx).Info("Stream started.", "graph", h.Name(), "topology", topology.String(s.Source))
	return nil
}

func (a *App) stopAll() {
	a.mu.Lock()
	graphs := a.graphs
	a.graphs = make(map[string]*binbuilder.Handle)
	a.mu.Unlock()

	for _, h := range graphs {
		h.Fail(ErrShutdown)
	}
}

// failOnBusError treats every runtime error as fatal for the graph that
// raised it. Self-healing parents restart the failed graph.
func failOnBusError(h *binbuilder.Handle, kind, message string) {
	h.Fail(fmt.Errorf("%w: %s: %s", ErrBusError, kind, message))
}
