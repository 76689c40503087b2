package memruntime

import (
	"fmt"

	"github.com/specialistvlad/streamgrid/internal/media"
)

type pad struct {
	rt    *Runtime
	name  string
	tmpl  media.PadTemplate
	owner *element
	peer  linkable
}

// linkable is implemented by pad and ghostPad so links between the two are
// symmetric.
type linkable interface {
	media.Pad
	base() *pad
}

func (p *pad) base() *pad { return p }

func (p *pad) Name() string               { return p.name }
func (p *pad) Direction() media.Direction { return p.tmpl.Direction }

func (p *pad) Template() media.PadTemplate {
	p.rt.mu.Lock()
	defer p.rt.mu.Unlock()
	return p.tmpl
}

func (p *pad) Parent() media.Element {
	p.rt.mu.Lock()
	defer p.rt.mu.Unlock()
	if p.owner == nil {
		return nil
	}
	return p.owner.self
}

func (p *pad) Peer() media.Pad {
	p.rt.mu.Lock()
	defer p.rt.mu.Unlock()
	if p.peer == nil {
		return nil
	}
	return p.peer
}

func (p *pad) Link(sink media.Pad) error {
	return link(p, sink)
}

func (p *pad) Unlink(sink media.Pad) error {
	return unlink(p, sink)
}

func (p *pad) detachLocked() {
	if p.peer != nil {
		p.peer.base().peer = nil
		p.peer = nil
	}
}

func link(src linkable, sink media.Pad) error {
	dst, ok := sink.(linkable)
	if !ok {
		return fmt.Errorf("%w: pad %q was not created by this runtime", media.ErrLinkRefused, sink.Name())
	}
	s, d := src.base(), dst.base()

	s.rt.mu.Lock()
	if err := checkLinkLocked(s, d); err != nil {
		s.rt.mu.Unlock()
		return err
	}
	s.peer, d.peer = dst, src
	s.rt.mu.Unlock()

	s.rt.inputLinked(d.owner)
	return nil
}

func checkLinkLocked(s, d *pad) error {
	switch {
	case s.tmpl.Direction != media.DirectionSrc:
		return fmt.Errorf("%w: %q is not an output pad", media.ErrLinkRefused, s.name)
	case d.tmpl.Direction != media.DirectionSink:
		return fmt.Errorf("%w: %q is not an input pad", media.ErrLinkRefused, d.name)
	case s.peer != nil:
		return fmt.Errorf("%w: %q is already linked", media.ErrLinkRefused, s.name)
	case d.peer != nil:
		return fmt.Errorf("%w: %q is already linked", media.ErrLinkRefused, d.name)
	case !capsCompatible(s.caps(), d.caps()):
		return fmt.Errorf("%w: caps %q and %q are incompatible", media.ErrLinkRefused, s.caps(), d.caps())
	}
	return nil
}

func unlink(src linkable, sink media.Pad) error {
	dst, ok := sink.(linkable)
	if !ok {
		return media.ErrNotLinked
	}
	s, d := src.base(), dst.base()

	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if s.peer == nil || s.peer.base() != d {
		return fmt.Errorf("%w: %q and %q", media.ErrNotLinked, s.name, d.name)
	}
	s.peer, d.peer = nil, nil
	return nil
}

func (p *pad) caps() string {
	return p.tmpl.Caps
}

func capsCompatible(a, b string) bool {
	if a == "" || b == "" || a == media.AnyCaps || b == media.AnyCaps {
		return true
	}
	return a == b
}

// ghostPad is a bin's boundary pad. Its caps follow the current target.
type ghostPad struct {
	pad
	target *pad
}

func (g *ghostPad) base() *pad { return &g.pad }

func (g *ghostPad) Link(sink media.Pad) error {
	return link(g, sink)
}

func (g *ghostPad) Unlink(sink media.Pad) error {
	return unlink(g, sink)
}

func (g *ghostPad) Target() media.Pad {
	g.rt.mu.Lock()
	defer g.rt.mu.Unlock()
	if g.target == nil {
		return nil
	}
	return g.target
}

func (g *ghostPad) SetTarget(target media.Pad) error {
	g.rt.mu.Lock()
	defer g.rt.mu.Unlock()
	if target == nil {
		g.target = nil
		return nil
	}
	t, ok := target.(linkable)
	if !ok {
		return fmt.Errorf("pad %q was not created by this runtime", target.Name())
	}
	if t.base().tmpl.Direction != g.tmpl.Direction {
		return fmt.Errorf("ghost pad %q is %s but target %q is %s", g.name, g.tmpl.Direction, target.Name(), t.base().tmpl.Direction)
	}
	g.target = t.base()
	g.tmpl.Caps = g.target.tmpl.Caps
	return nil
}
