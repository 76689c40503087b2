package memruntime

import (
	"fmt"
	"sync"

	"github.com/specialistvlad/streamgrid/internal/media"
)

// bin is the runtime's media.Bin. Its pads are exclusively ghost pads.
type bin struct {
	*element
	children []media.Element
	ghosts   []*ghostPad
	ghostSeq int
	state    media.State
	bus      *bus
}

var _ media.Bin = (*bin)(nil)

// unwrap returns the element state behind any element created by a runtime.
func unwrap(el media.Element) (*element, *bin, bool) {
	switch v := el.(type) {
	case *bin:
		return v.element, v, true
	case *element:
		return v, nil, true
	default:
		return nil, nil, false
	}
}

func (b *bin) Add(el media.Element) error {
	child, _, ok := unwrap(el)
	if !ok {
		return fmt.Errorf("element %q was not created by this runtime", el.Name())
	}

	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()

	if child.parent != nil {
		return fmt.Errorf("element %q already belongs to bin %q", child.name, child.parent.name)
	}
	for anc := b; anc != nil; anc = anc.parent {
		if anc.element == child {
			return fmt.Errorf("cannot add bin %q into itself", child.name)
		}
	}
	for _, c := range b.children {
		if c.Name() == child.name {
			return fmt.Errorf("bin %q already contains an element named %q", b.name, child.name)
		}
	}
	child.parent = b
	b.children = append(b.children, el)
	return nil
}

func (b *bin) Remove(el media.Element) error {
	child, childBin, ok := unwrap(el)
	if !ok {
		return fmt.Errorf("element %q was not created by this runtime", el.Name())
	}

	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()

	idx := -1
	for i, c := range b.children {
		if c == el {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("bin %q does not contain %q", b.name, child.name)
	}

	child.unlinkAllLocked()
	if childBin != nil {
		for _, g := range childBin.ghosts {
			g.detachLocked()
		}
	}
	for _, g := range b.ghosts {
		if g.target != nil && g.target.owner == child {
			g.target = nil
		}
	}

	b.children = append(b.children[:idx], b.children[idx+1:]...)
	child.parent = nil
	return nil
}

func (b *bin) ByName(name string) media.Element {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	for _, c := range b.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (b *bin) Elements() []media.Element {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	out := make([]media.Element, len(b.children))
	copy(out, b.children)
	return out
}

func (b *bin) AddGhostPad(name string, target media.Pad) (media.GhostPad, error) {
	t, ok := target.(linkable)
	if !ok {
		return nil, fmt.Errorf("pad %q was not created by this runtime", target.Name())
	}

	b.rt.mu.Lock()
	tp := t.base()
	if tp.owner == nil || tp.owner.parent != b {
		b.rt.mu.Unlock()
		return nil, fmt.Errorf("pad %q does not belong to a child of bin %q", tp.name, b.name)
	}
	if name == "" {
		name = b.nextGhostNameLocked(tp.tmpl.Direction)
	}
	for _, g := range b.ghosts {
		if g.name == name {
			b.rt.mu.Unlock()
			return nil, fmt.Errorf("bin %q already has a pad named %q", b.name, name)
		}
	}
	g := &ghostPad{
		pad: pad{
			rt:    b.rt,
			name:  name,
			owner: b.element,
			tmpl: media.PadTemplate{
				Name:      name,
				Direction: tp.tmpl.Direction,
				Presence:  media.PresenceAlways,
				Caps:      tp.tmpl.Caps,
			},
		},
		target: tp,
	}
	b.ghosts = append(b.ghosts, g)
	listeners := b.listenersLocked()
	b.rt.mu.Unlock()

	for _, fn := range listeners {
		fn(g)
	}
	return g, nil
}

func (b *bin) nextGhostNameLocked(dir media.Direction) string {
	for {
		name := fmt.Sprintf("%s_%d", dir, b.ghostSeq)
		b.ghostSeq++
		taken := false
		for _, g := range b.ghosts {
			if g.name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
	}
}

func (b *bin) GhostPads() []media.GhostPad {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	out := make([]media.GhostPad, 0, len(b.ghosts))
	for _, g := range b.ghosts {
		out = append(out, g)
	}
	return out
}

func (b *bin) Pads() []media.Pad {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return b.ghostPadsLocked(nil)
}

func (b *bin) SrcPads() []media.Pad {
	dir := media.DirectionSrc
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return b.ghostPadsLocked(&dir)
}

func (b *bin) SinkPads() []media.Pad {
	dir := media.DirectionSink
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return b.ghostPadsLocked(&dir)
}

func (b *bin) ghostPadsLocked(dir *media.Direction) []media.Pad {
	out := make([]media.Pad, 0, len(b.ghosts))
	for _, g := range b.ghosts {
		if dir == nil || g.tmpl.Direction == *dir {
			out = append(out, g)
		}
	}
	return out
}

func (b *bin) StaticPad(name string) media.Pad {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	for _, g := range b.ghosts {
		if g.name == name {
			return g
		}
	}
	return nil
}

func (b *bin) SetState(s media.State) error {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	b.state = s
	return nil
}

func (b *bin) State() media.State {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return b.state
}

func (b *bin) Bus() media.Bus {
	return b.bus
}

type bus struct {
	mu   sync.Mutex
	subs []func(media.Message)
}

func (b *bus) Post(msg media.Message) {
	b.mu.Lock()
	subs := make([]func(media.Message), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (b *bus) Subscribe(fn func(media.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}
