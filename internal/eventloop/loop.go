// Package eventloop provides the cooperative, single-goroutine event loop on
// which every asynchronous graph callback runs: pad-added notifications
// delivered from media runtime threads and renewal timer firings.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
)

// ErrClosed is returned by Flush once the loop has stopped running.
var ErrClosed = errors.New("event loop closed")

// Loop runs posted tasks one at a time, in posting order, on the goroutine
// that called Run. Tasks may post further tasks.
type Loop struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	pending atomic.Int64
}

// New creates a loop whose timers are measured against the given clock.
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the clock the loop schedules timers against.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Run processes tasks until the context is cancelled. After Run returns the
// loop rejects new tasks.
func (l *Loop) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Event loop started.")
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		logger.Debug("Event loop stopped.")
	}()

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.runTask(ctx, task)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) runTask(ctx context.Context, task func()) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Event loop task panicked.", "panic", r)
		}
	}()
	task()
}

// Post enqueues a task. It reports false if the loop has stopped.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every task posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of armed timers that have neither fired nor been
// stopped.
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// Timer is a one-shot action scheduled on the loop.
type Timer struct {
	loop  *Loop
	at    time.Time
	state atomic.Int32
	inner clockwork.Timer
}

const (
	timerArmed int32 = iota
	timerFired
	timerStopped
)

// At returns the instant the timer was armed for.
func (t *Timer) At() time.Time {
	return t.at
}

// Armed reports whether the timer has neither fired nor been stopped.
func (t *Timer) Armed() bool {
	return t.state.Load() == timerArmed
}

// Stop prevents the timer from firing. It reports whether the timer was still
// armed.
func (t *Timer) Stop() bool {
	if !t.state.CompareAndSwap(timerArmed, timerStopped) {
		return false
	}
	t.loop.pending.Add(-1)
	if t.inner != nil {
		t.inner.Stop()
	}
	return true
}

// At schedules action to run once on the loop at or after ts. A timestamp in
// the past runs at the next opportunity; the delay is never negative.
func (l *Loop) At(ts time.Time, action func()) *Timer {
	t := &Timer{loop: l, at: ts}
	l.pending.Add(1)

	fire := func() {
		if !t.state.CompareAndSwap(timerArmed, timerFired) {
			return
		}
		l.pending.Add(-1)
		action()
	}

	delay := ts.Sub(l.clock.Now())
	if delay <= 0 {
		if !l.Post(fire) {
			t.Stop()
		}
		return t
	}
	t.inner = l.clock.AfterFunc(delay, func() {
		if !l.Post(fire) {
			t.Stop()
		}
	})
	return t
}
