// Package topology describes how stream sources combine. A topology is an
// immutable tree built once by the caller and read by the interpreter.
package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source is a node of the topology tree. The set of variants is closed:
// NetworkedLiveSource, Concat and SelfHealing.
type Source interface {
	isSource()
	// Children returns the direct children in order.
	Children() []Source
}

// NetworkedLiveSource is a remote device stream that needs credentials.
type NetworkedLiveSource struct {
	EndpointID string
}

// Concat plays First and then Second.
type Concat struct {
	First  Source
	Second Source
}

// SelfHealing rebuilds Inner whenever it fails.
type SelfHealing struct {
	Inner Source
	// MaxRestarts bounds the number of restarts. Zero means unlimited.
	MaxRestarts int
	// RestartDelay is the pause before a rebuild. Zero means the
	// interpreter default.
	RestartDelay time.Duration
}

func (*NetworkedLiveSource) isSource() {}
func (*Concat) isSource()              {}
func (*SelfHealing) isSource()         {}

func (*NetworkedLiveSource) Children() []Source { return nil }
func (c *Concat) Children() []Source            { return []Source{c.First, c.Second} }
func (s *SelfHealing) Children() []Source       { return []Source{s.Inner} }

// Stream is a named top-level topology.
type Stream struct {
	Name   string
	Source Source
}

// Loader reads stream topologies from some storage.
type Loader interface {
	Load(ctx context.Context, paths ...string) ([]Stream, error)
}

var (
	// ErrCycle is returned when a node is reachable more than once, which
	// covers both cycles and shared subtrees.
	ErrCycle = errors.New("topology node reachable more than once")
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("invalid topology")
)

// Walk visits src and its descendants depth-first, parents before children.
// It stops at the first error returned by fn. A node reached twice yields
// ErrCycle instead of looping.
func Walk(src Source, fn func(src Source, depth int) error) error {
	seen := make(map[Source]bool)
	var visit func(Source, int) error
	visit = func(s Source, depth int) error {
		if isNil(s) {
			return nil
		}
		if seen[s] {
			return fmt.Errorf("%w: %s", ErrCycle, String(s))
		}
		seen[s] = true
		if err := fn(s, depth); err != nil {
			return err
		}
		for _, c := range s.Children() {
			if err := visit(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(src, 0)
}

// Validate checks that src is a finite tree with no shared nodes, no missing
// children and no empty endpoints.
func Validate(src Source) error {
	if isNil(src) {
		return fmt.Errorf("%w: empty source", ErrInvalid)
	}
	return Walk(src, func(s Source, _ int) error {
		switch v := s.(type) {
		case *NetworkedLiveSource:
			if strings.TrimSpace(v.EndpointID) == "" {
				return fmt.Errorf("%w: networked source without endpoint", ErrInvalid)
			}
		case *Concat:
			if isNil(v.First) || isNil(v.Second) {
				return fmt.Errorf("%w: concat needs exactly two sources", ErrInvalid)
			}
		case *SelfHealing:
			if isNil(v.Inner) {
				return fmt.Errorf("%w: self-healing source needs an inner source", ErrInvalid)
			}
			if v.MaxRestarts < 0 || v.RestartDelay < 0 {
				return fmt.Errorf("%w: negative restart policy", ErrInvalid)
			}
		}
		return nil
	})
}

// isNil catches typed nil pointers stored in the interface.
func isNil(s Source) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *NetworkedLiveSource:
		return v == nil
	case *Concat:
		return v == nil
	case *SelfHealing:
		return v == nil
	}
	return false
}

// String renders a source in functional notation, e.g.
// SelfHealing(Concat(Live("a"), Live("b"))). A node nested inside itself is
// printed as "...".
func String(src Source) string {
	var sb strings.Builder
	seen := make(map[Source]bool)
	var write func(Source)
	write = func(s Source) {
		if isNil(s) {
			sb.WriteString("nil")
			return
		}
		if seen[s] {
			sb.WriteString("...")
			return
		}
		seen[s] = true
		defer delete(seen, s)

		switch v := s.(type) {
		case *NetworkedLiveSource:
			fmt.Fprintf(&sb, "Live(%q)", v.EndpointID)
		case *Concat:
			sb.WriteString("Concat(")
			write(v.First)
			sb.WriteString(", ")
			write(v.Second)
			sb.WriteString(")")
		case *SelfHealing:
			sb.WriteString("SelfHealing(")
			write(v.Inner)
			sb.WriteString(")")
		}
	}
	write(src)
	return sb.String()
}
