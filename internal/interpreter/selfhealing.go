package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/metric"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

// DefaultRestartDelay is used when a SelfHealing source sets no delay.
const DefaultRestartDelay = time.Second

// ErrRestartsExhausted fails a self-healing graph whose inner source failed
// more often than its restart limit allows.
var ErrRestartsExhausted = errors.New("restart limit reached")

// SelfHealing wraps the inner graph in an outer graph that outlives it. When
// the inner graph is torn down it is removed and the inner source is
// interpreted again after the restart delay. Boundary ports of every
// generation are exposed under the same outer names, so parents stay linked.
type SelfHealing struct {
	Factory *binbuilder.Factory
	Metrics *metric.Metrics
}

func (s *SelfHealing) Interpret(ctx context.Context, src *topology.SelfHealing, recurse Recurse) (*binbuilder.Handle, error) {
	outer := s.Factory.New(ctx, "healing")
	if err := outer.Do(func(b *binbuilder.Builder) error { return b.Play() }); err != nil {
		return nil, err
	}

	sup := &supervisor{
		ctx:         ctxlog.With(ctx, "graph", outer.Name()),
		outer:       outer,
		inner:       src.Inner,
		recurse:     recurse,
		delay:       src.RestartDelay,
		maxRestarts: src.MaxRestarts,
		factory:     s.Factory,
		metrics:     s.Metrics,
	}
	if sup.delay <= 0 {
		sup.delay = DefaultRestartDelay
	}

	inner, err := recurse(ctx, src.Inner)
	if err != nil {
		ctxlog.FromContext(sup.ctx).Warn("Inner source failed to start.", "error", err)
		sup.scheduleRestart()
		return outer, nil
	}
	sup.adopt(inner)
	return outer, nil
}

type supervisor struct {
	ctx         context.Context
	outer       *binbuilder.Handle
	inner       topology.Source
	recurse     Recurse
	delay       time.Duration
	maxRestarts int
	factory     *binbuilder.Factory
	metrics     *metric.Metrics

	mu       sync.Mutex
	current  *binbuilder.Handle
	restarts int
}

// adopt makes inner the live generation.
func (s *supervisor) adopt(inner *binbuilder.Handle) {
	logger := ctxlog.FromContext(s.ctx)
	err := s.outer.Do(func(b *binbuilder.Builder) error { return b.AddSubgraph(inner) })
	if err != nil {
		inner.Fail(fmt.Errorf("self-healing parent unavailable: %w", err))
		return
	}

	s.mu.Lock()
	s.current = inner
	s.mu.Unlock()
	logger.Info("Inner graph adopted.", "inner", inner.Name())

	inner.OnBoundaryPort(func(p media.Pad) {
		port := binbuilder.PortRef{Node: inner.Name(), Port: p.Name()}
		err := s.outer.Do(func(b *binbuilder.Builder) error {
			if !b.HasNode(inner.Name()) {
				return nil
			}
			return b.ExposePort(p.Name(), port)
		})
		if err != nil && !errors.Is(err, binbuilder.ErrTornDown) {
			logger.Error("Cannot expose inner port.", "port", port.String(), "error", err)
		}
	})
	inner.OnFailure(func(err error) { s.innerFailed(inner, err) })
}

func (s *supervisor) innerFailed(inner *binbuilder.Handle, cause error) {
	s.mu.Lock()
	if s.current != inner {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()

	if s.outer.Failed() {
		return
	}
	ctxlog.FromContext(s.ctx).Warn("Inner graph failed; restarting.", "inner", inner.Name(), "error", cause)

	err := s.outer.Do(func(b *binbuilder.Builder) error {
		if !b.HasNode(inner.Name()) {
			return nil
		}
		return b.RemoveNode(inner.Name())
	})
	if err != nil {
		return
	}
	s.scheduleRestart()
}

func (s *supervisor) scheduleRestart() {
	s.mu.Lock()
	exhausted := s.maxRestarts > 0 && s.restarts >= s.maxRestarts
	if !exhausted {
		s.restarts++
	}
	attempt := s.restarts
	s.mu.Unlock()

	if exhausted {
		err := fmt.Errorf("%w after %d restarts", ErrRestartsExhausted, s.maxRestarts)
		_ = s.outer.Do(func(b *binbuilder.Builder) error {
			b.PostError(err.Error())
			return nil
		})
		s.outer.Fail(err)
		return
	}

	at := s.factory.Loop.Clock().Now().Add(s.delay)
	err := s.outer.Do(func(b *binbuilder.Builder) error {
		return b.ScheduleAt(at, s.restart)
	})
	if err != nil {
		return
	}
	ctxlog.FromContext(s.ctx).Debug("Restart scheduled.", "attempt", attempt, "at", at)
}

// restart runs on the event loop. Interpreting may block on remote calls, so
// it happens on its own goroutine and the result is posted back.
func (s *supervisor) restart() {
	loop := s.factory.Loop
	go func() {
		inner, err := s.recurse(s.ctx, s.inner)
		loop.Post(func() { s.restarted(inner, err) })
	}()
}

func (s *supervisor) restarted(inner *binbuilder.Handle, err error) {
	if err != nil {
		ctxlog.FromContext(s.ctx).Warn("Restart failed.", "error", err)
		if !s.outer.Failed() {
			s.scheduleRestart()
		}
		return
	}
	if s.outer.Failed() {
		inner.Fail(fmt.Errorf("self-healing parent %s torn down", s.outer.Name()))
		return
	}
	s.metrics.Restarted()
	s.adopt(inner)
}
