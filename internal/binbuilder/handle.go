package binbuilder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/streamgrid/internal/eventloop"
	"github.com/specialistvlad/streamgrid/internal/media"
)

// Handle is the shareable reference to one live graph. Every mutation goes
// through Do, which holds the graph lock for the duration of the callback.
// Handles are safe for concurrent use and are what asynchronous callbacks
// capture.
type Handle struct {
	ctx     context.Context
	name    string
	loop    *eventloop.Loop
	runtime media.Runtime

	mu sync.Mutex
	b  *Builder

	failed    atomic.Bool
	failMu    sync.Mutex
	failErr   error
	onFailure []func(error)
}

// Name returns the graph's unique name.
func (h *Handle) Name() string {
	return h.name
}

// Do runs fn with exclusive access to the graph. A fatal error returned by fn
// (see IsFatal) tears the graph down before the lock is released, so no
// partially wired graph is ever left running.
func (h *Handle) Do(fn func(b *Builder) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.b.failure != nil {
		return fmt.Errorf("%w: %s", ErrTornDown, h.name)
	}
	err := fn(h.b)
	if err != nil && IsFatal(err) {
		h.b.ReportFailure(err)
	}
	return err
}

// Fail tears the graph down with the given cause. It is a no-op on a graph
// that has already failed.
func (h *Handle) Fail(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.b.ReportFailure(cause)
}

// Failed reports whether the graph has been torn down. It never blocks on
// the graph lock.
func (h *Handle) Failed() bool {
	return h.failed.Load()
}

// Err returns the cause the graph was torn down with, or nil.
func (h *Handle) Err() error {
	h.failMu.Lock()
	defer h.failMu.Unlock()
	return h.failErr
}

// OnFailure registers fn to run on the event loop once the graph is torn
// down. If the graph already failed, fn is scheduled immediately.
func (h *Handle) OnFailure(fn func(error)) {
	h.failMu.Lock()
	if h.failErr != nil {
		err := h.failErr
		h.failMu.Unlock()
		h.loop.Post(func() { fn(err) })
		return
	}
	h.onFailure = append(h.onFailure, fn)
	h.failMu.Unlock()
}

func (h *Handle) notifyFailure(err error) {
	h.failMu.Lock()
	h.failErr = err
	listeners := h.onFailure
	h.onFailure = nil
	h.failMu.Unlock()

	h.failed.Store(true)
	for _, fn := range listeners {
		fn := fn
		h.loop.Post(func() { fn(err) })
	}
}

// OnBoundaryPort calls fn on the event loop for every output boundary port
// the graph has now and every one it publishes later. Each port is reported
// once per registration.
func (h *Handle) OnBoundaryPort(fn func(port media.Pad)) {
	seen := make(map[string]bool)
	deliver := func(p media.Pad) {
		h.loop.Post(func() {
			if seen[p.Name()] {
				return
			}
			seen[p.Name()] = true
			fn(p)
		})
	}

	bin := h.b.bin
	bin.OnPadAdded(func(p media.Pad) {
		if p.Direction() == media.DirectionSrc {
			deliver(p)
		}
	})
	for _, p := range bin.SrcPads() {
		deliver(p)
	}
}

// BoundaryPorts returns the names of the graph's output boundary ports.
func (h *Handle) BoundaryPorts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, p := range h.b.bin.SrcPads() {
		out = append(out, p.Name())
	}
	return out
}

// State returns the playback state of the graph.
func (h *Handle) State() media.State {
	return h.b.bin.State()
}

// NodeCount returns the number of nodes currently in the graph.
func (h *Handle) NodeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.b.bin.Elements())
}

// NodeNames returns the sorted names of the graph's nodes.
func (h *Handle) NodeNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.b.NodeNames()
}

// PendingTimers returns how many of the graph's scheduled actions are still
// waiting to fire.
func (h *Handle) PendingTimers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.b.timers {
		if t.Armed() {
			n++
		}
	}
	return n
}

// Inspect gives fn read access to the underlying bin while the graph lock is
// held. It exists for diagnostics and tests; mutations must go through Do.
func (h *Handle) Inspect(fn func(bin media.Bin)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.b.bin)
}
