package binbuilder

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/eventloop"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/metric"
)

// BusErrorHandler receives errors raised on a graph's bus: the graph name,
// the kind of the node that raised it and its message. Whether the error is
// fatal is up to the handler, which may call Handle.Fail.
type BusErrorHandler func(h *Handle, kind, message string)

// Factory creates graphs that share one runtime and one event loop.
type Factory struct {
	Runtime media.Runtime
	Loop    *eventloop.Loop
	Metrics *metric.Metrics
	// OnBusError is optional. Without it bus errors are only logged.
	OnBusError BusErrorHandler

	seq atomic.Int64
}

// New creates an empty graph named "<prefix>-<n>", unique per factory.
func (f *Factory) New(ctx context.Context, prefix string) *Handle {
	name := fmt.Sprintf("%s-%d", prefix, f.seq.Add(1))
	bin := f.Runtime.NewBin(name)

	h := &Handle{
		ctx:     ctx,
		name:    name,
		loop:    f.Loop,
		runtime: f.Runtime,
	}
	h.b = &Builder{
		handle:    h,
		bin:       bin,
		loop:      f.Loop,
		metrics:   f.Metrics,
		children:  make(map[string]*Handle),
		published: make(map[media.Pad]bool),
	}

	bin.Bus().Subscribe(func(msg media.Message) {
		f.Loop.Post(func() {
			kind := "graph"
			if el := bin.ByName(msg.Source); el != nil {
				kind = el.Kind()
			}
			ctxlog.FromContext(ctx).Warn("Graph bus error.", "graph", name, "source", msg.Source, "kind", kind, "message", msg.Text)
			if f.OnBusError != nil {
				f.OnBusError(h, kind, msg.Text)
			}
		})
	})

	ctxlog.FromContext(ctx).Debug("Graph created.", "graph", name)
	return h
}
