package memruntime

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/streamgrid/internal/media"
)

// Runtime implements media.Runtime entirely in memory. A single mutex guards
// the state of every element, pad and bin created by the runtime.
type Runtime struct {
	mu            sync.Mutex
	kinds         map[string]KindSpec
	announceDelay time.Duration
	nameSeq       map[string]int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithKind registers an additional element kind, replacing any default of
// the same name.
func WithKind(name string, spec KindSpec) Option {
	return func(r *Runtime) {
		r.kinds[name] = spec
	}
}

// WithAutoAnnounce makes transport elements announce their first sometimes
// output pad the given delay after their "location" property is set.
func WithAutoAnnounce(delay time.Duration) Option {
	return func(r *Runtime) {
		r.announceDelay = delay
	}
}

// New creates a runtime that knows DefaultKinds plus any kinds added through
// options.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		kinds:   DefaultKinds(),
		nameSeq: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ media.Runtime = (*Runtime)(nil)

// Make constructs an element of the given kind. An empty name is replaced by
// a generated one.
func (r *Runtime) Make(kind, name string) (media.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", media.ErrUnknownKind, kind)
	}
	if name == "" {
		name = fmt.Sprintf("%s%d", kind, r.nameSeq[kind])
		r.nameSeq[kind]++
	}

	el := newElement(r, kind, name, spec)
	for _, tmpl := range spec.Templates {
		if tmpl.Presence == media.PresenceAlways {
			el.pads = append(el.pads, el.newPadLocked(tmpl))
		}
	}
	return el, nil
}

// NewBin creates an empty container.
func (r *Runtime) NewBin(name string) media.Bin {
	b := &bin{
		element: newElement(r, "bin", name, KindSpec{}),
		bus:     &bus{},
	}
	b.element.self = b
	return b
}

// Announce adds a new pad created from the named sometimes template of el and
// notifies pad-added listeners, the way a network source does once its
// session is negotiated.
func (r *Runtime) Announce(el media.Element, templateName string) (media.Pad, error) {
	e, ok := el.(*element)
	if !ok {
		return nil, fmt.Errorf("element %q was not created by this runtime", el.Name())
	}

	r.mu.Lock()
	var tmpl *media.PadTemplate
	for i := range e.spec.Templates {
		if e.spec.Templates[i].Name == templateName && e.spec.Templates[i].Presence == media.PresenceSometimes {
			tmpl = &e.spec.Templates[i]
			break
		}
	}
	if tmpl == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("element %q has no sometimes template %q", e.name, templateName)
	}
	p := e.newPadLocked(*tmpl)
	e.pads = append(e.pads, p)
	listeners := e.listenersLocked()
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
	return p, nil
}

func (r *Runtime) scheduleAnnounce(e *element) {
	if r.announceDelay <= 0 {
		return
	}
	for _, tmpl := range e.spec.Templates {
		if tmpl.Direction == media.DirectionSrc && tmpl.Presence == media.PresenceSometimes {
			name := tmpl.Name
			time.AfterFunc(r.announceDelay, func() {
				_, _ = r.Announce(e, name)
			})
			return
		}
	}
}

// inputLinked lets an auto-announcing runtime emulate a decoder exposing its
// output once data can reach it. It only fires on the first input link.
func (r *Runtime) inputLinked(e *element) {
	if r.announceDelay <= 0 || e == nil || !e.spec.AnnounceOnLink {
		return
	}
	r.mu.Lock()
	first := !e.linkedOnce
	e.linkedOnce = true
	r.mu.Unlock()
	if !first {
		return
	}
	for _, tmpl := range e.spec.Templates {
		if tmpl.Direction == media.DirectionSrc && tmpl.Presence == media.PresenceSometimes {
			_, _ = r.Announce(e, tmpl.Name)
			return
		}
	}
}

// element is the runtime's media.Element.
type element struct {
	rt         *Runtime
	self       media.Element
	name       string
	kind       string
	spec       KindSpec
	props      map[string]any
	pads       []*pad
	padSeq     map[string]int
	listeners  []func(media.Pad)
	parent     *bin
	linkedOnce bool
}

func newElement(rt *Runtime, kind, name string, spec KindSpec) *element {
	e := &element{
		rt:     rt,
		name:   name,
		kind:   kind,
		spec:   spec,
		props:  make(map[string]any),
		padSeq: make(map[string]int),
	}
	e.self = e
	return e
}

func (e *element) Name() string { return e.name }
func (e *element) Kind() string { return e.kind }

func (e *element) SetProperty(key string, value any) error {
	e.rt.mu.Lock()
	if e.spec.Properties != nil && !contains(e.spec.Properties, key) {
		e.rt.mu.Unlock()
		return fmt.Errorf("element %q of kind %q has no property %q", e.name, e.kind, key)
	}
	e.props[key] = value
	e.rt.mu.Unlock()

	if key == "location" {
		e.rt.scheduleAnnounce(e)
	}
	return nil
}

func (e *element) Property(key string) (any, bool) {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	v, ok := e.props[key]
	return v, ok
}

func (e *element) Pads() []media.Pad {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	return e.padsLocked(nil)
}

func (e *element) SrcPads() []media.Pad {
	dir := media.DirectionSrc
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	return e.padsLocked(&dir)
}

func (e *element) SinkPads() []media.Pad {
	dir := media.DirectionSink
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	return e.padsLocked(&dir)
}

func (e *element) padsLocked(dir *media.Direction) []media.Pad {
	out := make([]media.Pad, 0, len(e.pads))
	for _, p := range e.pads {
		if dir == nil || p.tmpl.Direction == *dir {
			out = append(out, p)
		}
	}
	return out
}

func (e *element) StaticPad(name string) media.Pad {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	for _, p := range e.pads {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (e *element) PadTemplates() []media.PadTemplate {
	out := make([]media.PadTemplate, len(e.spec.Templates))
	copy(out, e.spec.Templates)
	return out
}

func (e *element) RequestPad(tmpl media.PadTemplate) (media.Pad, error) {
	e.rt.mu.Lock()
	found := false
	for _, t := range e.spec.Templates {
		if t.Name == tmpl.Name && t.Presence == media.PresenceRequest {
			tmpl, found = t, true
			break
		}
	}
	if !found {
		e.rt.mu.Unlock()
		return nil, fmt.Errorf("element %q has no request template %q", e.name, tmpl.Name)
	}
	p := e.newPadLocked(tmpl)
	e.pads = append(e.pads, p)
	listeners := e.listenersLocked()
	e.rt.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
	return p, nil
}

func (e *element) OnPadAdded(fn func(media.Pad)) {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *element) Parent() media.Bin {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *element) listenersLocked() []func(media.Pad) {
	out := make([]func(media.Pad), len(e.listeners))
	copy(out, e.listeners)
	return out
}

func (e *element) newPadLocked(tmpl media.PadTemplate) *pad {
	name := tmpl.Name
	if strings.Contains(name, "%u") {
		name = strings.Replace(name, "%u", fmt.Sprint(e.padSeq[tmpl.Name]), 1)
		e.padSeq[tmpl.Name]++
	}
	return &pad{rt: e.rt, name: name, tmpl: tmpl, owner: e}
}

// unlinkAllLocked drops every link touching the element's pads.
func (e *element) unlinkAllLocked() {
	for _, p := range e.pads {
		p.detachLocked()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RaiseError posts an error message from el on the bus of the bin that
// contains it.
func (r *Runtime) RaiseError(el media.Element, text string) error {
	parent := el.Parent()
	if parent == nil {
		return fmt.Errorf("element %q is not inside a bin", el.Name())
	}
	parent.Bus().Post(media.Message{Source: el.Name(), Text: text})
	return nil
}
