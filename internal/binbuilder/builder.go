package binbuilder

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/eventloop"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/metric"
)

// inputPad is the fixed input port every linkable node exposes.
const inputPad = "sink"

// PortRef names a port by its owning node and its own name. Pad names such
// as "stream_0" repeat across nodes, so a port is only identified by both.
type PortRef struct {
	Node string
	Port string
}

func (p PortRef) String() string {
	return p.Node + "." + p.Port
}

// Builder mutates one graph. It is only reachable through Handle.Do and the
// callbacks the handle runs, so every method assumes the graph lock is held.
type Builder struct {
	handle  *Handle
	bin     media.Bin
	loop    *eventloop.Loop
	metrics *metric.Metrics

	failure   error
	timers    []*eventloop.Timer
	children  map[string]*Handle
	published map[media.Pad]bool
}

// Handle returns the shareable handle of the graph being built, for use in
// callbacks that must re-enter the graph later.
func (b *Builder) Handle() *Handle {
	return b.handle
}

// AddNode constructs a node of the given kind and inserts it under name.
func (b *Builder) AddNode(kind, name string) error {
	el, err := b.handle.runtime.Make(kind, name)
	if err != nil {
		return &ConstructionError{Kind: kind, Name: name, Err: err}
	}
	if err := b.bin.Add(el); err != nil {
		return &ConstructionError{Kind: kind, Name: name, Err: err}
	}
	ctxlog.FromContext(b.handle.ctx).Debug("Node added.", "graph", b.handle.name, "kind", kind, "node", el.Name())
	return nil
}

// SetProperty sets a configuration property on an existing node.
func (b *Builder) SetProperty(node, key string, value any) error {
	el, err := b.node(node)
	if err != nil {
		return err
	}
	if err := el.SetProperty(key, value); err != nil {
		return &ConstructionError{Kind: el.Kind(), Name: node, Err: err}
	}
	return nil
}

// OnPortAttached registers handler to run, under the graph lock on the event
// loop, every time node gains a new output port. It does nothing if the node
// does not exist. The handler stops being called once the node leaves the
// graph.
func (b *Builder) OnPortAttached(node string, handler func(b *Builder, port PortRef) error) {
	el := b.bin.ByName(node)
	if el == nil {
		ctxlog.FromContext(b.handle.ctx).Debug("Ignoring port listener for missing node.", "graph", b.handle.name, "node", node)
		return
	}

	h := b.handle
	el.OnPadAdded(func(p media.Pad) {
		if p.Direction() != media.DirectionSrc {
			return
		}
		ref := PortRef{Node: node, Port: p.Name()}
		h.loop.Post(func() {
			err := h.Do(func(b *Builder) error {
				if b.bin.ByName(node) != el {
					return nil
				}
				return handler(b, ref)
			})
			if err != nil && !errors.Is(err, ErrTornDown) {
				ctxlog.FromContext(h.ctx).Error("Port handler failed.", "graph", h.name, "port", ref.String(), "error", err)
			}
		})
	})
}

// LinkOutputToInput connects the output port to the fixed input port of node.
func (b *Builder) LinkOutputToInput(port PortRef, node string) error {
	src, err := b.port(port)
	if err != nil {
		return err
	}
	dst, err := b.port(PortRef{Node: node, Port: inputPad})
	if err != nil {
		return err
	}
	if err := src.Link(dst); err != nil {
		return &LinkError{From: port.String(), To: node + "." + inputPad, Err: err}
	}
	ctxlog.FromContext(b.handle.ctx).Debug("Ports linked.", "graph", b.handle.name, "from", port.String(), "to", node)
	return nil
}

// LinkToRequestInput requests a new input port on node and connects the
// output port to it.
func (b *Builder) LinkToRequestInput(port PortRef, node string) error {
	src, err := b.port(port)
	if err != nil {
		return err
	}
	el, err := b.node(node)
	if err != nil {
		return err
	}

	var tmpl *media.PadTemplate
	for _, t := range el.PadTemplates() {
		if t.Direction == media.DirectionSink && t.Presence == media.PresenceRequest {
			t := t
			tmpl = &t
			break
		}
	}
	if tmpl == nil {
		return &NotFoundError{What: "request input", Name: node}
	}
	dst, err := el.RequestPad(*tmpl)
	if err != nil {
		return &ConstructionError{Kind: el.Kind(), Name: node + "." + tmpl.Name, Err: err}
	}
	if err := src.Link(dst); err != nil {
		return &LinkError{From: port.String(), To: node + "." + dst.Name(), Err: err}
	}
	return nil
}

// UnlinkAndRemoveUpstream disconnects every linked input port of node and
// removes the node on the other side of each link. Only input ports are
// walked: nodes downstream of node stay linked and in the graph. Ports that
// are already unlinked are skipped.
func (b *Builder) UnlinkAndRemoveUpstream(node string) error {
	el, err := b.node(node)
	if err != nil {
		return err
	}
	for _, sink := range el.SinkPads() {
		peer := sink.Peer()
		if peer == nil {
			continue
		}
		upstream := peer.Parent()
		if err := peer.Unlink(sink); err != nil && !errors.Is(err, media.ErrNotLinked) {
			return &LinkError{From: peer.Name(), To: node + "." + sink.Name(), Err: err}
		}
		if upstream == nil || b.bin.ByName(upstream.Name()) != upstream {
			continue
		}
		if err := b.RemoveNode(upstream.Name()); err != nil {
			return err
		}
		ctxlog.FromContext(b.handle.ctx).Debug("Upstream node removed.", "graph", b.handle.name, "node", upstream.Name(), "downstream", node)
	}
	return nil
}

// PublishBoundaryPorts exposes the output ports of node as boundary ports of
// the graph. Always ports are published as they exist now, sometimes ports
// each time one appears, and one port is requested per request template.
func (b *Builder) PublishBoundaryPorts(node string) error {
	el, err := b.node(node)
	if err != nil {
		return err
	}

	for _, tmpl := range el.PadTemplates() {
		if tmpl.Direction != media.DirectionSrc {
			continue
		}
		switch tmpl.Presence {
		case media.PresenceAlways:
			for _, p := range el.SrcPads() {
				if tmpl.Matches(p.Name()) {
					if err := b.publish(node, p); err != nil {
						return err
					}
				}
			}
		case media.PresenceSometimes:
			b.publishSometimes(el, tmpl)
			for _, p := range el.SrcPads() {
				if tmpl.Matches(p.Name()) {
					if err := b.publish(node, p); err != nil {
						return err
					}
				}
			}
		case media.PresenceRequest:
			p, err := el.RequestPad(tmpl)
			if err != nil {
				return &ConstructionError{Kind: el.Kind(), Name: node + "." + tmpl.Name, Err: err}
			}
			if err := b.publish(node, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) publishSometimes(el media.Element, tmpl media.PadTemplate) {
	h := b.handle
	node := el.Name()
	el.OnPadAdded(func(p media.Pad) {
		if p.Direction() != media.DirectionSrc || !tmpl.Matches(p.Name()) {
			return
		}
		h.loop.Post(func() {
			err := h.Do(func(b *Builder) error {
				if b.bin.ByName(node) != el {
					return nil
				}
				return b.publish(node, p)
			})
			if err != nil && !errors.Is(err, ErrTornDown) {
				ctxlog.FromContext(h.ctx).Error("Cannot publish boundary port.", "graph", h.name, "port", node+"."+p.Name(), "error", err)
			}
		})
	})
}

func (b *Builder) publish(node string, p media.Pad) error {
	if b.published[p] {
		return nil
	}
	g, err := b.bin.AddGhostPad("", p)
	if err != nil {
		return &LinkError{From: node + "." + p.Name(), To: b.handle.name, Err: err}
	}
	b.published[p] = true
	ctxlog.FromContext(b.handle.ctx).Debug("Boundary port published.", "graph", b.handle.name, "port", g.Name(), "target", node+"."+p.Name())
	return nil
}

// ExposePort publishes port under a fixed boundary name. If the graph already
// has a boundary port of that name it is retargeted, so anything linked to it
// stays linked.
func (b *Builder) ExposePort(name string, port PortRef) error {
	target, err := b.port(port)
	if err != nil {
		return err
	}
	for _, g := range b.bin.GhostPads() {
		if g.Name() != name {
			continue
		}
		if err := g.SetTarget(target); err != nil {
			return &LinkError{From: port.String(), To: b.handle.name + "." + name, Err: err}
		}
		return nil
	}
	if _, err := b.bin.AddGhostPad(name, target); err != nil {
		return &LinkError{From: port.String(), To: b.handle.name + "." + name, Err: err}
	}
	return nil
}

// ScheduleAt runs action once on the event loop at or after ts. A timestamp
// in the past runs at the next opportunity. The action does not hold the
// graph lock; it must use the handle to mutate the graph.
func (b *Builder) ScheduleAt(ts time.Time, action func()) error {
	if b.failure != nil {
		return fmt.Errorf("%w: %s", ErrTornDown, b.handle.name)
	}

	live := b.timers[:0]
	for _, t := range b.timers {
		if t.Armed() {
			live = append(live, t)
		}
	}
	b.timers = live

	h := b.handle
	b.timers = append(b.timers, b.loop.At(ts, func() {
		if h.Failed() {
			return
		}
		action()
	}))
	return nil
}

// ReportFailure tears the graph down: it stops playback, cancels pending
// timers, fails every sub-graph and removes every node. The graph rejects
// further scheduling afterwards. Only the first call has an effect.
func (b *Builder) ReportFailure(cause error) {
	if b.failure != nil {
		return
	}
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	b.failure = cause
	logger := ctxlog.FromContext(b.handle.ctx)
	logger.Error("Tearing down graph.", "graph", b.handle.name, "error", cause)

	if err := b.bin.SetState(media.StateNull); err != nil {
		logger.Warn("Cannot stop graph.", "graph", b.handle.name, "error", err)
	}
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil

	for _, name := range sortedKeys(b.children) {
		b.children[name].Fail(fmt.Errorf("parent graph %s torn down: %w", b.handle.name, cause))
	}
	b.children = map[string]*Handle{}

	for _, el := range b.bin.Elements() {
		if err := b.bin.Remove(el); err != nil {
			logger.Warn("Cannot remove node.", "graph", b.handle.name, "node", el.Name(), "error", err)
		}
	}
	for _, g := range b.bin.GhostPads() {
		_ = g.SetTarget(nil)
	}
	b.published = map[media.Pad]bool{}

	b.metrics.TornDown()
	b.handle.notifyFailure(cause)
}

// AddSubgraph inserts another graph as an opaque node named after its handle.
// The child is torn down together with this graph.
func (b *Builder) AddSubgraph(child *Handle) error {
	if err := b.bin.Add(child.b.bin); err != nil {
		return &ConstructionError{Kind: "graph", Name: child.name, Err: err}
	}
	b.children[child.name] = child
	return nil
}

// RemoveNode unlinks and removes a node or sub-graph.
func (b *Builder) RemoveNode(name string) error {
	el, err := b.node(name)
	if err != nil {
		return err
	}
	if err := b.bin.Remove(el); err != nil {
		return &ConstructionError{Kind: el.Kind(), Name: name, Err: err}
	}
	delete(b.children, name)
	for p := range b.published {
		if p.Parent() == el {
			delete(b.published, p)
		}
	}
	return nil
}

// InputLinked reports whether any input port of node is linked.
func (b *Builder) InputLinked(node string) bool {
	el := b.bin.ByName(node)
	if el == nil {
		return false
	}
	for _, p := range el.SinkPads() {
		if p.Peer() != nil {
			return true
		}
	}
	return false
}

// HasNode reports whether the graph contains a node with the given name.
func (b *Builder) HasNode(name string) bool {
	return b.bin.ByName(name) != nil
}

// Play sets the graph playing.
func (b *Builder) Play() error {
	return b.bin.SetState(media.StatePlaying)
}

// PostError raises an error message on the graph's error bus on behalf of
// the graph itself.
func (b *Builder) PostError(text string) {
	b.bin.Bus().Post(media.Message{Source: b.handle.name, Text: text})
}

// NodeNames returns the sorted names of the graph's nodes.
func (b *Builder) NodeNames() []string {
	elements := b.bin.Elements()
	names := make([]string, 0, len(elements))
	for _, el := range elements {
		names = append(names, el.Name())
	}
	sort.Strings(names)
	return names
}

func (b *Builder) node(name string) (media.Element, error) {
	if name == "" {
		return nil, &NotFoundError{What: "node", Name: name}
	}
	el := b.bin.ByName(name)
	if el == nil {
		return nil, &NotFoundError{What: "node", Name: name}
	}
	return el, nil
}

func (b *Builder) port(ref PortRef) (media.Pad, error) {
	el, err := b.node(ref.Node)
	if err != nil {
		return nil, err
	}
	p := el.StaticPad(ref.Port)
	if p == nil {
		return nil, &NotFoundError{What: "port", Name: ref.String()}
	}
	return p, nil
}

func sortedKeys(m map[string]*Handle) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
