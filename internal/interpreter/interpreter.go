// Package interpreter turns a topology tree into live graphs. Each kind of
// source is handled by its own strategy; combinator strategies call back into
// the interpreter for their children and only ever see a child's boundary
// ports.
package interpreter

import (
	"context"
	"fmt"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/metric"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

// Recurse interprets a child source.
type Recurse func(ctx context.Context, src topology.Source) (*binbuilder.Handle, error)

// LiveSourceInterpreter builds the graph of a networked live source.
type LiveSourceInterpreter interface {
	Interpret(ctx context.Context, src *topology.NetworkedLiveSource) (*binbuilder.Handle, error)
}

// ConcatInterpreter builds the graph joining two sources.
type ConcatInterpreter interface {
	Interpret(ctx context.Context, src *topology.Concat, recurse Recurse) (*binbuilder.Handle, error)
}

// SelfHealingInterpreter builds a graph that rebuilds its inner source after
// a failure.
type SelfHealingInterpreter interface {
	Interpret(ctx context.Context, src *topology.SelfHealing, recurse Recurse) (*binbuilder.Handle, error)
}

// Interpreter dispatches each source to the strategy for its kind.
type Interpreter struct {
	Live        LiveSourceInterpreter
	Concat      ConcatInterpreter
	SelfHealing SelfHealingInterpreter
}

// NewDefault wires the default combinators around the given live source
// strategy.
func NewDefault(factory *binbuilder.Factory, live LiveSourceInterpreter, metrics *metric.Metrics) *Interpreter {
	return &Interpreter{
		Live:        live,
		Concat:      &Concat{Factory: factory},
		SelfHealing: &SelfHealing{Factory: factory, Metrics: metrics},
	}
}

// Interpret validates src and builds its graph.
func (i *Interpreter) Interpret(ctx context.Context, src topology.Source) (*binbuilder.Handle, error) {
	if err := topology.Validate(src); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Interpreting topology.", "topology", topology.String(src))
	return i.interpret(ctx, src)
}

func (i *Interpreter) interpret(ctx context.Context, src topology.Source) (*binbuilder.Handle, error) {
	switch v := src.(type) {
	case *topology.NetworkedLiveSource:
		return i.Live.Interpret(ctx, v)
	case *topology.Concat:
		return i.Concat.Interpret(ctx, v, i.interpret)
	case *topology.SelfHealing:
		return i.SelfHealing.Interpret(ctx, v, i.interpret)
	default:
		return nil, fmt.Errorf("%w: unsupported source %T", topology.ErrInvalid, src)
	}
}
