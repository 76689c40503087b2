package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/credential"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/metric"
	"github.com/specialistvlad/streamgrid/internal/topology"
)

// DefaultSafetyMargin is how long before expiry a session is renewed.
const DefaultSafetyMargin = 30 * time.Second

const (
	transportKind = "rtspsrc"
	// decoder is both the kind and the name of the decoder node.
	decoder = "decodebin"
)

// State is the lifecycle state of a stream.
type State int

const (
	StateAcquiring State = iota
	StateActive
	StateRenewing
	// StateFailed is terminal. The graph may still be playing the last
	// session if the failure was a renewal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateRenewing:
		return "renewing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures an Engine.
type Config struct {
	Credentials credential.Service
	Factory     *binbuilder.Factory
	Metrics     *metric.Metrics
	// SafetyMargin defaults to DefaultSafetyMargin.
	SafetyMargin time.Duration
	// TransportProperties are applied to every transport node besides its
	// location, e.g. latency or protocols.
	TransportProperties map[string]any
}

// Engine opens credentialed streams.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*Stream
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	return &Engine{cfg: cfg, streams: make(map[string]*Stream)}
}

// Interpret builds the graph of a networked live source.
func (e *Engine) Interpret(ctx context.Context, src *topology.NetworkedLiveSource) (*binbuilder.Handle, error) {
	s, err := e.Open(ctx, src.EndpointID)
	if err != nil {
		return nil, err
	}
	return s.Handle(), nil
}

// Streams returns the streams whose graph is still alive.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Stream, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, s)
	}
	return out
}

// Open acquires a session for the endpoint and builds its graph. The renewal
// timer is armed once the first transport is linked to the decoder. A failed
// acquisition tears the graph down and returns a *credential.Error.
func (e *Engine) Open(ctx context.Context, endpointID string) (*Stream, error) {
	h := e.cfg.Factory.New(ctx, "camera")
	s := &Stream{
		engine:   e,
		ctx:      ctxlog.With(ctx, "stream", h.Name(), "endpoint", endpointID),
		endpoint: endpointID,
		handle:   h,
		state:    StateAcquiring,
	}
	logger := ctxlog.FromContext(s.ctx)
	logger.Info("Acquiring stream session.")

	sess, err := e.cfg.Credentials.Acquire(ctx, endpointID)
	if err != nil {
		e.cfg.Metrics.AcquireFailed()
		var ce *credential.Error
		if !errors.As(err, &ce) {
			err = &credential.Error{Op: credential.OpAcquire, Endpoint: endpointID, Err: err}
		}
		s.setState(StateFailed)
		h.Fail(err)
		return nil, err
	}
	now := e.cfg.Factory.Loop.Clock().Now()
	e.cfg.Metrics.AcquireSucceeded(sess.TTL(now).Seconds())

	err = h.Do(func(b *binbuilder.Builder) error {
		if err := b.AddNode(decoder, decoder); err != nil {
			return err
		}
		if err := b.PublishBoundaryPorts(decoder); err != nil {
			return err
		}
		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()
		if err := s.attachTransport(b, sess, false); err != nil {
			return err
		}
		return b.Play()
	})
	if err != nil {
		h.Fail(err)
		s.setState(StateFailed)
		e.cfg.Metrics.StreamEnded()
		return nil, fmt.Errorf("build stream %s: %w", endpointID, err)
	}

	e.mu.Lock()
	e.streams[h.Name()] = s
	e.mu.Unlock()
	h.OnFailure(func(err error) {
		e.mu.Lock()
		delete(e.streams, h.Name())
		e.mu.Unlock()
		s.setState(StateFailed)
		e.cfg.Metrics.StreamEnded()
		ctxlog.FromContext(s.ctx).Warn("Stream graph torn down.", "error", err)
	})

	s.setState(StateActive)
	logger.Info("Stream active.", "expires_at", sess.ExpiresAt)
	return s, nil
}

// Stream is one credentialed stream and its graph.
type Stream struct {
	engine   *Engine
	ctx      context.Context
	endpoint string
	handle   *binbuilder.Handle

	mu         sync.Mutex
	state      State
	session    credential.Session
	generation int
	transport  string
	// pending is a transport that was built for a renewed session but has
	// not announced its output yet.
	pending    string
	timerArmed bool
	renewAt    time.Time
}

// Handle returns the stream's graph.
func (s *Stream) Handle() *binbuilder.Handle { return s.handle }

// Endpoint returns the endpoint the stream was opened for.
func (s *Stream) Endpoint() string { return s.endpoint }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the session the stream was last renewed with.
func (s *Stream) Session() credential.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Transport returns the name of the transport node feeding the decoder, or
// the first transport if none is linked yet.
func (s *Stream) Transport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// RenewAt returns when the pending renewal fires, and false if none is armed.
func (s *Stream) RenewAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewAt, s.timerArmed
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed {
		return
	}
	s.state = st
}
