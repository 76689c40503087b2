package interpreter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/credential"
	"github.com/specialistvlad/streamgrid/internal/eventloop"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/specialistvlad/streamgrid/internal/memruntime"
	"github.com/specialistvlad/streamgrid/internal/metric"
	"github.com/specialistvlad/streamgrid/internal/stream"
	"github.com/specialistvlad/streamgrid/internal/testutil"
	"github.com/specialistvlad/streamgrid/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	ctx     context.Context
	clock   *clockwork.FakeClock
	loop    *eventloop.Loop
	creds   *testutil.FakeCredentials
	metrics *metric.Metrics
	engine  *stream.Engine
	interp  *Interpreter
}

// newFixture runs an auto-announcing runtime: transports expose their output
// shortly after their location is set and decoders expose theirs once fed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, _ := testutil.NewContext(t)
	clock := clockwork.NewFakeClockAt(t0)
	loop := testutil.StartLoop(t, ctx, clock)
	m, err := metric.New(prometheus.NewRegistry())
	require.NoError(t, err)

	factory := &binbuilder.Factory{
		Runtime: memruntime.New(memruntime.WithAutoAnnounce(time.Millisecond)),
		Loop:    loop,
		Metrics: m,
	}
	creds := &testutil.FakeCredentials{}
	engine := stream.New(stream.Config{Credentials: creds, Factory: factory, Metrics: m})

	return &fixture{
		ctx:     ctx,
		clock:   clock,
		loop:    loop,
		creds:   creds,
		metrics: m,
		engine:  engine,
		interp:  NewDefault(factory, engine, m),
	}
}

func session(n string, expires time.Time) credential.Session {
	return credential.Session{
		BaseLocation: "rtsps://cam.example/" + n,
		AccessToken:  "tok-" + n,
		RenewalToken: "ext-" + n,
		ExpiresAt:    expires,
	}
}

func (f *fixture) onlyStream(t *testing.T) *stream.Stream {
	t.Helper()
	var s *stream.Stream
	require.Eventually(t, func() bool {
		streams := f.engine.Streams()
		if len(streams) != 1 {
			return false
		}
		s = streams[0]
		return true
	}, waitFor, tick)
	return s
}

func boundaryTarget(h *binbuilder.Handle, name string) string {
	var owner string
	h.Inspect(func(bin media.Bin) {
		g, ok := bin.StaticPad(name).(media.GhostPad)
		if !ok || g.Target() == nil || g.Target().Parent() == nil {
			return
		}
		owner = g.Target().Parent().Name()
	})
	return owner
}

func decoderLinked(h *binbuilder.Handle) bool {
	linked := false
	h.Inspect(func(bin media.Bin) {
		if dec := bin.ByName("decodebin"); dec != nil {
			linked = dec.StaticPad("sink").Peer() != nil
		}
	})
	return linked
}

func TestInterpret_SelfHealingLiveSourceKeepsPlayingAfterFailedRenewal(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(60*time.Second)), nil)
	f.creds.OnExtend(credential.Session{}, errors.New("extension rejected"))

	outer, err := f.interp.Interpret(f.ctx, &topology.SelfHealing{
		Inner: &topology.NetworkedLiveSource{EndpointID: "cam-1"},
	})
	require.NoError(t, err)

	s := f.onlyStream(t)
	inner := s.Handle()
	require.Eventually(t, func() bool { return decoderLinked(inner) }, waitFor, tick)
	require.Eventually(t, func() bool { return len(outer.BoundaryPorts()) == 1 }, waitFor, tick)

	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return s.State() == stream.StateFailed }, waitFor, tick)
	testutil.Flush(t, f.loop)

	assert.False(t, outer.Failed())
	assert.False(t, inner.Failed())
	assert.Equal(t, media.StatePlaying, inner.State())
	assert.Equal(t, []string{"decodebin", "rtspsrc-0"}, inner.NodeNames())
	assert.Equal(t, "rtspsrc-0", s.Transport())
	assert.True(t, decoderLinked(inner))
	assert.Equal(t, "tok-1", s.Session().AccessToken)

	assert.Equal(t, 0, inner.PendingTimers())
	assert.Equal(t, 0, outer.PendingTimers())
	assert.Equal(t, 0, f.loop.Pending())
	assert.Equal(t, 1, f.creds.CallCount(credential.OpAcquire), "a failed renewal does not restart the source")
	assert.Equal(t, 1, f.creds.CallCount(credential.OpExtend))
}

func TestInterpret_SelfHealingRestartsUnderSameBoundaryPort(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)
	f.creds.OnAcquire(session("2", t0.Add(time.Hour)), nil)

	outer, err := f.interp.Interpret(f.ctx, &topology.SelfHealing{
		Inner:        &topology.NetworkedLiveSource{EndpointID: "cam-1"},
		RestartDelay: 5 * time.Second,
	})
	require.NoError(t, err)

	first := f.onlyStream(t).Handle()
	require.Eventually(t, func() bool { return boundaryTarget(outer, "src_0") == first.Name() }, waitFor, tick)

	first.Fail(errors.New("decoder crashed"))
	testutil.Flush(t, f.loop)
	assert.NotContains(t, outer.NodeNames(), first.Name())
	assert.Equal(t, 1, outer.PendingTimers())

	f.clock.Advance(5 * time.Second)
	var second *binbuilder.Handle
	require.Eventually(t, func() bool {
		streams := f.engine.Streams()
		if len(streams) != 1 || streams[0].Handle() == first {
			return false
		}
		second = streams[0].Handle()
		return boundaryTarget(outer, "src_0") == second.Name()
	}, waitFor, tick)

	assert.Equal(t, []string{"src_0"}, outer.BoundaryPorts())
	assert.Equal(t, []string{second.Name()}, outer.NodeNames())
	assert.False(t, outer.Failed())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Restarts))
}

func TestInterpret_SelfHealingRetriesFailedStart(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(credential.Session{}, errors.New("device busy"))
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)

	outer, err := f.interp.Interpret(f.ctx, &topology.SelfHealing{
		Inner: &topology.NetworkedLiveSource{EndpointID: "cam-1"},
	})
	require.NoError(t, err)
	assert.Empty(t, outer.NodeNames())

	f.clock.Advance(DefaultRestartDelay)
	s := f.onlyStream(t)
	require.Eventually(t, func() bool { return boundaryTarget(outer, "src_0") == s.Handle().Name() }, waitFor, tick)
	assert.Equal(t, 2, f.creds.CallCount(credential.OpAcquire))
}

func TestInterpret_SelfHealingGivesUpAfterMaxRestarts(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)
	f.creds.OnAcquire(session("2", t0.Add(time.Hour)), nil)

	outer, err := f.interp.Interpret(f.ctx, &topology.SelfHealing{
		Inner:       &topology.NetworkedLiveSource{EndpointID: "cam-1"},
		MaxRestarts: 1,
	})
	require.NoError(t, err)
	failures := make(chan error, 1)
	outer.OnFailure(func(err error) { failures <- err })

	first := f.onlyStream(t).Handle()
	first.Fail(errors.New("crash 1"))
	testutil.Flush(t, f.loop)
	f.clock.Advance(DefaultRestartDelay)

	var second *binbuilder.Handle
	require.Eventually(t, func() bool {
		streams := f.engine.Streams()
		if len(streams) != 1 || streams[0].Handle() == first {
			return false
		}
		second = streams[0].Handle()
		return true
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(second.NodeNames()) == 2 && containsName(outer.NodeNames(), second.Name()) }, waitFor, tick)

	second.Fail(errors.New("crash 2"))

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, ErrRestartsExhausted)
	case <-time.After(waitFor):
		t.Fatal("outer graph did not fail")
	}
	assert.Equal(t, 2, f.creds.CallCount(credential.OpAcquire))
}

func TestInterpret_ConcatLinksBothChildren(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)
	f.creds.OnAcquire(session("2", t0.Add(time.Hour)), nil)

	h, err := f.interp.Interpret(f.ctx, &topology.Concat{
		First:  &topology.NetworkedLiveSource{EndpointID: "cam-1"},
		Second: &topology.NetworkedLiveSource{EndpointID: "cam-2"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		linked := 0
		h.Inspect(func(bin media.Bin) {
			for _, p := range bin.ByName(concatNode).SinkPads() {
				if p.Peer() != nil {
					linked++
				}
			}
		})
		return linked == 2
	}, waitFor, tick)

	assert.Equal(t, []string{"src_0"}, h.BoundaryPorts())
	assert.Len(t, h.NodeNames(), 3)
	assert.Equal(t, media.StatePlaying, h.State())
}

func TestInterpret_ConcatFailsWithChild(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)
	f.creds.OnAcquire(session("2", t0.Add(time.Hour)), nil)

	h, err := f.interp.Interpret(f.ctx, &topology.Concat{
		First:  &topology.NetworkedLiveSource{EndpointID: "cam-1"},
		Second: &topology.NetworkedLiveSource{EndpointID: "cam-2"},
	})
	require.NoError(t, err)

	streams := f.engine.Streams()
	require.Len(t, streams, 2)
	streams[0].Handle().Fail(errors.New("lost"))

	require.Eventually(t, h.Failed, waitFor, tick)
	require.Eventually(t, func() bool { return len(f.engine.Streams()) == 0 }, waitFor, tick)
	assert.Equal(t, 0, h.NodeCount())
}

func TestInterpret_ConcatSecondChildFailsToStart(t *testing.T) {
	f := newFixture(t)
	f.creds.OnAcquire(session("1", t0.Add(time.Hour)), nil)
	f.creds.OnAcquire(credential.Session{}, errors.New("unknown device"))

	_, err := f.interp.Interpret(f.ctx, &topology.Concat{
		First:  &topology.NetworkedLiveSource{EndpointID: "cam-1"},
		Second: &topology.NetworkedLiveSource{EndpointID: "cam-2"},
	})

	var ce *credential.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cam-2", ce.Endpoint)
	require.Eventually(t, func() bool { return len(f.engine.Streams()) == 0 }, waitFor, tick)
}

func TestInterpret_RejectsInvalidTopology(t *testing.T) {
	f := newFixture(t)

	_, err := f.interp.Interpret(f.ctx, &topology.Concat{First: &topology.NetworkedLiveSource{EndpointID: "a"}})
	assert.ErrorIs(t, err, topology.ErrInvalid)
	assert.Empty(t, f.creds.Calls())
}

type recordingLive struct {
	factory *binbuilder.Factory
	got     []string
}

func (r *recordingLive) Interpret(ctx context.Context, src *topology.NetworkedLiveSource) (*binbuilder.Handle, error) {
	r.got = append(r.got, src.EndpointID)
	return r.factory.New(ctx, "fake"), nil
}

type recordingConcat struct{ calls int }

func (r *recordingConcat) Interpret(ctx context.Context, src *topology.Concat, recurse Recurse) (*binbuilder.Handle, error) {
	r.calls++
	if _, err := recurse(ctx, src.Second); err != nil {
		return nil, err
	}
	return recurse(ctx, src.First)
}

func TestInterpret_DispatchesToInjectedStrategies(t *testing.T) {
	ctx, _ := testutil.NewContext(t)
	loop := testutil.StartLoop(t, ctx, clockwork.NewFakeClock())
	factory := &binbuilder.Factory{Runtime: memruntime.New(), Loop: loop}

	live := &recordingLive{factory: factory}
	concat := &recordingConcat{}
	i := &Interpreter{Live: live, Concat: concat, SelfHealing: &SelfHealing{Factory: factory}}

	_, err := i.Interpret(ctx, &topology.Concat{
		First:  &topology.NetworkedLiveSource{EndpointID: "a"},
		Second: &topology.Concat{First: &topology.NetworkedLiveSource{EndpointID: "b"}, Second: &topology.NetworkedLiveSource{EndpointID: "c"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, concat.calls)
	assert.Equal(t, []string{"c", "b", "a"}, live.got)
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
