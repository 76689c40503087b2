package media

import (
	"errors"
	"strings"
)

// Direction is the data-flow direction of a pad.
type Direction int

const (
	// DirectionSrc marks an output pad.
	DirectionSrc Direction = iota
	// DirectionSink marks an input pad.
	DirectionSink
)

func (d Direction) String() string {
	switch d {
	case DirectionSrc:
		return "src"
	case DirectionSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Presence describes when the pads of a template exist.
type Presence int

const (
	// PresenceAlways pads exist as soon as the element is constructed.
	PresenceAlways Presence = iota
	// PresenceSometimes pads appear at runtime, e.g. after a protocol handshake.
	PresenceSometimes
	// PresenceRequest pads exist only after being explicitly requested.
	PresenceRequest
)

func (p Presence) String() string {
	switch p {
	case PresenceAlways:
		return "always"
	case PresenceSometimes:
		return "sometimes"
	case PresenceRequest:
		return "request"
	default:
		return "unknown"
	}
}

// State is the playback state of an element or bin.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// AnyCaps is the wildcard capability accepted by every compatible link.
const AnyCaps = "ANY"

// PadTemplate describes a family of pads an element kind may have. Name is
// either a literal pad name ("sink") or a pattern with a "%u" placeholder
// ("src_%u").
type PadTemplate struct {
	Name      string
	Direction Direction
	Presence  Presence
	Caps      string
}

// Matches reports whether the pad name belongs to this template.
func (t PadTemplate) Matches(padName string) bool {
	prefix, suffix, isPattern := strings.Cut(t.Name, "%u")
	if !isPattern {
		return padName == t.Name
	}
	if !strings.HasPrefix(padName, prefix) || !strings.HasSuffix(padName, suffix) {
		return false
	}
	digits := padName[len(prefix) : len(padName)-len(suffix)]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Pad is a directional connection point owned by an element.
type Pad interface {
	Name() string
	Direction() Direction
	// Template returns the template the pad was created from.
	Template() PadTemplate
	// Parent returns the owning element, or nil for a detached pad.
	Parent() Element
	// Peer returns the linked pad, or nil.
	Peer() Pad
	// Link connects this source pad to the given sink pad.
	Link(sink Pad) error
	// Unlink disconnects this source pad from the given sink pad.
	Unlink(sink Pad) error
}

// GhostPad is a boundary pad on a bin forwarding to a pad of a child element.
type GhostPad interface {
	Pad
	Target() Pad
	SetTarget(target Pad) error
}

// Element is a single processing node.
type Element interface {
	Name() string
	// Kind is the factory name the element was created from.
	Kind() string
	SetProperty(key string, value any) error
	Property(key string) (any, bool)
	Pads() []Pad
	SrcPads() []Pad
	SinkPads() []Pad
	StaticPad(name string) Pad
	PadTemplates() []PadTemplate
	// RequestPad creates a new pad from a request template.
	RequestPad(tmpl PadTemplate) (Pad, error)
	// OnPadAdded registers a persistent callback fired for every pad added
	// to the element after registration.
	OnPadAdded(fn func(Pad))
	// Parent returns the bin the element lives in, or nil.
	Parent() Bin
}

// Bin is an element that contains other elements.
type Bin interface {
	Element
	Add(el Element) error
	Remove(el Element) error
	ByName(name string) Element
	Elements() []Element
	// AddGhostPad publishes a boundary pad. An empty name lets the runtime
	// pick a unique one.
	AddGhostPad(name string, target Pad) (GhostPad, error)
	GhostPads() []GhostPad
	SetState(s State) error
	State() State
	Bus() Bus
}

// Message is an error raised by an element on a bus.
type Message struct {
	// Source is the name of the originating element.
	Source string
	Text   string
}

// Bus delivers messages raised inside a bin.
type Bus interface {
	Post(msg Message)
	Subscribe(fn func(Message))
}

// Runtime constructs elements and bins.
type Runtime interface {
	NewBin(name string) Bin
	Make(kind, name string) (Element, error)
}

var (
	// ErrUnknownKind is returned by Runtime.Make for an unregistered kind.
	ErrUnknownKind = errors.New("unknown element kind")
	// ErrLinkRefused is returned when two pads cannot be connected.
	ErrLinkRefused = errors.New("link refused")
	// ErrNotLinked is returned when unlinking pads that are not peers.
	ErrNotLinked = errors.New("pads not linked")
)
