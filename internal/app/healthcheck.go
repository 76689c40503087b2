package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/metric"
)

// StreamStatus is one entry of the /streams endpoint.
type StreamStatus struct {
	Stream        string   `json:"stream"`
	Graph         string   `json:"graph"`
	State         string   `json:"state"`
	Nodes         []string `json:"nodes"`
	BoundaryPorts []string `json:"boundary_ports"`
}

func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (app *App) streamsHandler(w http.ResponseWriter, r *http.Request) {
	graphs := app.Graphs()
	out := make([]StreamStatus, 0, len(graphs))
	for name, h := range graphs {
		out = append(out, StreamStatus{
			Stream:        name,
			Graph:         h.Name(),
			State:         h.State().String(),
			Nodes:         h.NodeNames(),
			BoundaryPorts: h.BoundaryPorts(),
		})
	}
	slices.SortFunc(out, func(a, b StreamStatus) int { return strings.Compare(a.Stream, b.Stream) })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		ctxlog.FromContext(app.ctx).Error("Cannot encode stream status.", "error", err)
	}
}

// Handler serves /health, /streams and /metrics.
func (app *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", app.healthHandler)
	mux.HandleFunc("/streams", app.streamsHandler)
	mux.Handle("/metrics", metric.Handler(app.registry))
	return mux
}

// healthCheckServer initializes and runs the health check HTTP server.
func (app *App) healthCheckServer() {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Configuring health check server.")
	if app.config.HealthcheckPort <= 0 {
		logger.Warn("Health check server not started: disabled")
		return
	}

	addr := fmt.Sprintf(":%d", app.config.HealthcheckPort)
	app.httpServer = &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
}

func (app *App) closeHealthCheckServer() error {
	logger := ctxlog.FromContext(app.ctx)
	if app.httpServer == nil {
		logger.Debug("Health check server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	return nil
}
