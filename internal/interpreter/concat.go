package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

const concatNode = "concat"

// Concat joins two sources through a concat node. Every boundary port of
// either child is linked to a fresh input of the node as it appears, and the
// node's output becomes the graph's boundary port. If either child fails the
// whole graph fails.
type Concat struct {
	Factory *binbuilder.Factory
}

func (c *Concat) Interpret(ctx context.Context, src *topology.Concat, recurse Recurse) (*binbuilder.Handle, error) {
	first, err := recurse(ctx, src.First)
	if err != nil {
		return nil, fmt.Errorf("concat first source: %w", err)
	}
	second, err := recurse(ctx, src.Second)
	if err != nil {
		first.Fail(fmt.Errorf("sibling source failed: %w", err))
		return nil, fmt.Errorf("concat second source: %w", err)
	}

	h := c.Factory.New(ctx, "concat")
	err = h.Do(func(b *binbuilder.Builder) error {
		if err := b.AddNode(concatNode, concatNode); err != nil {
			return err
		}
		for _, child := range []*binbuilder.Handle{first, second} {
			if err := b.AddSubgraph(child); err != nil {
				return err
			}
		}
		if err := b.PublishBoundaryPorts(concatNode); err != nil {
			return err
		}
		return b.Play()
	})
	if err != nil {
		h.Fail(err)
		first.Fail(err)
		second.Fail(err)
		return nil, fmt.Errorf("build concat graph: %w", err)
	}

	logger := ctxlog.FromContext(ctx).With("graph", h.Name())
	for _, child := range []*binbuilder.Handle{first, second} {
		child := child
		child.OnBoundaryPort(func(p media.Pad) {
			port := binbuilder.PortRef{Node: child.Name(), Port: p.Name()}
			err := h.Do(func(b *binbuilder.Builder) error {
				if !b.HasNode(child.Name()) {
					return nil
				}
				return b.LinkToRequestInput(port, concatNode)
			})
			if err != nil && !errors.Is(err, binbuilder.ErrTornDown) {
				logger.Error("Cannot link concat input.", "port", port.String(), "error", err)
			}
		})
		child.OnFailure(func(err error) {
			h.Fail(fmt.Errorf("concat input %s failed: %w", child.Name(), err))
		})
	}

	logger.Debug("Concat graph built.", "first", first.Name(), "second", second.Name())
	return h, nil
}
