package stream

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/streamgrid/internal/binbuilder"
	"github.com/specialistvlad/streamgrid/internal/credential"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
)

// attachTransport adds a transport node for sess and links its first output
// to the decoder once it appears. The first transport of a stream arms the
// renewal timer when it is linked, so a renewal never races the initial
// handshake. With swap set the current transport is unlinked and removed in
// the same locked step. Runs under the graph lock.
func (s *Stream) attachTransport(b *binbuilder.Builder, sess credential.Session, swap bool) error {
	s.mu.Lock()
	name := fmt.Sprintf("%s-%d", transportKind, s.generation)
	stale := s.pending
	s.pending = ""
	s.mu.Unlock()

	// A transport from an earlier renewal that never came up is dropped.
	if stale != "" && b.HasNode(stale) {
		if err := b.RemoveNode(stale); err != nil {
			return err
		}
		ctxlog.FromContext(s.ctx).Warn("Dropped transport that never announced its output.", "transport", stale)
	}

	if err := b.AddNode(transportKind, name); err != nil {
		return err
	}
	for key, value := range s.engine.cfg.TransportProperties {
		if err := b.SetProperty(name, key, value); err != nil {
			return err
		}
	}
	if err := b.SetProperty(name, "location", sess.Location()); err != nil {
		return err
	}

	s.mu.Lock()
	if swap {
		s.pending = name
	} else {
		s.transport = name
	}
	s.mu.Unlock()

	linked := false
	b.OnPortAttached(name, func(b *binbuilder.Builder, port binbuilder.PortRef) error {
		if linked {
			return nil
		}
		linked = true

		if swap {
			if err := b.UnlinkAndRemoveUpstream(decoder); err != nil {
				return err
			}
		}
		if err := b.LinkOutputToInput(port, decoder); err != nil {
			return err
		}

		logger := ctxlog.FromContext(s.ctx)
		s.mu.Lock()
		previous := s.transport
		s.transport = name
		if s.pending == name {
			s.pending = ""
		}
		s.mu.Unlock()
		if swap {
			s.engine.cfg.Metrics.HotSwapped()
			logger.Info("Transport swapped.", "from", previous, "to", name, "port", port.String())
			return nil
		}
		logger.Debug("Transport linked.", "transport", name, "port", port.String())
		return s.armRenewal(b)
	})
	return nil
}

// armRenewal schedules the renewal of the current session. It is a no-op
// while a renewal is already pending. Runs under the graph lock.
func (s *Stream) armRenewal(b *binbuilder.Builder) error {
	s.mu.Lock()
	if s.timerArmed {
		s.mu.Unlock()
		return nil
	}
	at := s.session.ExpiresAt.Add(-s.engine.cfg.SafetyMargin)
	s.timerArmed = true
	s.renewAt = at
	s.mu.Unlock()

	if err := b.ScheduleAt(at, s.renew); err != nil {
		s.mu.Lock()
		s.timerArmed = false
		s.mu.Unlock()
		return err
	}
	ctxlog.FromContext(s.ctx).Debug("Renewal scheduled.", "at", at)
	return nil
}

// renew fires on the event loop. The extend call runs on its own goroutine
// so a slow credential service never blocks the loop; its result is posted
// back.
func (s *Stream) renew() {
	s.mu.Lock()
	s.timerArmed = false
	if s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateRenewing
	token := s.session.RenewalToken
	s.mu.Unlock()

	ctxlog.FromContext(s.ctx).Info("Renewing stream session.")
	loop := s.engine.cfg.Factory.Loop
	go func() {
		sess, err := s.engine.cfg.Credentials.Extend(s.ctx, s.endpoint, token)
		loop.Post(func() { s.renewed(sess, err) })
	}()
}

func (s *Stream) renewed(sess credential.Session, err error) {
	logger := ctxlog.FromContext(s.ctx)
	if err != nil {
		s.engine.cfg.Metrics.RenewalFailed()
		s.setState(StateFailed)
		logger.Warn("Stream renewal failed; no further renewal is scheduled.", "expires_at", s.Session().ExpiresAt, "error", err)
		return
	}

	now := s.engine.cfg.Factory.Loop.Clock().Now()
	s.engine.cfg.Metrics.RenewalSucceeded(sess.TTL(now).Seconds())

	err = s.handle.Do(func(b *binbuilder.Builder) error {
		s.mu.Lock()
		s.generation++
		s.session = sess
		s.mu.Unlock()
		if err := s.attachTransport(b, sess, true); err != nil {
			return err
		}
		return s.armRenewal(b)
	})
	if err != nil {
		s.setState(StateFailed)
		if !errors.Is(err, binbuilder.ErrTornDown) {
			logger.Error("Cannot switch to renewed session.", "error", err)
		}
		return
	}
	s.setState(StateActive)
	logger.Info("Stream session renewed.", "expires_at", sess.ExpiresAt)
}
