package session

import (
	"context"
	"sync"
	"time"

	"callplane/internal/media"
	"callplane/internal/signaling"
)

// sessionEvents routes transport events for one attempt. Events from a superseded attempt are dropped.
type sessionEvents struct {
	c       *Controller
	attempt uint64
}

func (h *sessionEvents) OnConnected()                 { h.c.onConnected(h.attempt) }
func (h *sessionEvents) OnDisconnected(reason string) { h.c.onDisconnected(h.attempt, reason) }

func (h *sessionEvents) OnReconnecting() {
	h.c.log.Info("transport reconnecting", "attempt", h.attempt)
}

func (h *sessionEvents) OnReconnected() {
	h.c.log.Info("transport reconnected", "attempt", h.attempt)
}

func (h *sessionEvents) OnParticipantJoined(p signaling.Participant) {
	h.c.onParticipantJoined(h.attempt, p)
}

func (h *sessionEvents) OnParticipantLeft(identity string) {
	h.c.onParticipantLeft(h.attempt, identity)
}

func (h *sessionEvents) OnTrackSubscribed(t media.Track, identity string) {
	h.c.onTrack(h.attempt, t, identity, true)
}

func (h *sessionEvents) OnTrackUnsubscribed(t media.Track, identity string) {
	h.c.onTrack(h.attempt, t, identity, false)
}

func (c *Controller) onConnected(attempt uint64) {
	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusConnecting) {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StatusActive)
	c.s.duration = 0
	c.s.res.stopTicker = c.startTicker(attempt)
	c.s.res.recordTimer = time.AfterFunc(c.opts.RecordingDelay, func() { c.startRecording(attempt) })
	tr, pl := c.s.res.transport, c.s.res.pipeline
	muted := c.s.flags.IsMuted
	roomID := c.s.room.ID
	c.emitAndUnlock()

	c.log.Info("call active", "room_id", roomID, "attempt", attempt)
	go c.enableMicrophone(attempt, tr, pl, muted)
}

func (c *Controller) onDisconnected(attempt uint64, reason string) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	switch c.s.status {
	case StatusActive:
		c.log.Info("remote hang-up", "reason", reason, "attempt", attempt)
		plan := c.beginTeardownLocked()
		c.emitAndUnlock()
		go c.teardown(context.Background(), plan)
	case StatusCreating, StatusRinging, StatusConnecting:
		c.mu.Unlock()
		c.fail(attempt, &disconnectError{reason: reason})
	default:
		c.mu.Unlock()
	}
}

type disconnectError struct{ reason string }

func (e *disconnectError) Error() string {
	if e.reason == "" {
		return ErrTransportDisconnected.Error()
	}
	return ErrTransportDisconnected.Error() + ": " + e.reason
}

func (e *disconnectError) Unwrap() error { return ErrTransportDisconnected }

// startTicker increments the duration once per tick while the attempt stays Active.
func (c *Controller) startTicker(attempt uint64) func() {
	stop := make(chan struct{})
	t := time.NewTicker(c.opts.TickInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.tick(attempt)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (c *Controller) tick(attempt uint64) {
	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusActive) {
		c.mu.Unlock()
		return
	}
	c.s.duration++
	c.emitAndUnlock()
}

func (c *Controller) startRecording(attempt uint64) {
	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusActive) || c.s.res.pipeline == nil {
		c.mu.Unlock()
		return
	}
	pl := c.s.res.pipeline
	c.mu.Unlock()

	pl.StartCapture()

	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusActive) {
		c.mu.Unlock()
		return
	}
	c.s.recorder = pl.Capability()
	c.emitAndUnlock()
}

// enableMicrophone acquires the local device. Failure leaves the call running muted.
func (c *Controller) enableMicrophone(attempt uint64, tr signaling.Transport, pl *media.Pipeline, muted bool) {
	if c.deps.Microphone == nil {
		c.setMicrophone(attempt, media.CapabilityUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.MicTimeout)
	defer cancel()

	track, err := c.deps.Microphone.Open(ctx)
	if err != nil {
		c.log.Warn("microphone unavailable, continuing without local audio", "err", err)
		c.setMicrophone(attempt, media.CapabilityUnavailable)
		return
	}
	if err := pl.AttachLocal(track); err != nil {
		c.log.Debug("local track not attached", "err", err)
		if cl, ok := track.(interface{ Close() error }); ok {
			_ = cl.Close()
		}
		return
	}
	if err := tr.SetMicrophoneEnabled(ctx, !muted); err != nil {
		c.log.Warn("publish microphone failed", "err", err)
	}
	c.setMicrophone(attempt, media.CapabilityActive)
}

func (c *Controller) setMicrophone(attempt uint64, capb media.Capability) {
	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusActive) {
		c.mu.Unlock()
		return
	}
	c.s.mic = capb
	if capb == media.CapabilityUnavailable {
		c.s.flags.IsMuted = true
	}
	c.emitAndUnlock()
}

func (c *Controller) onParticipantJoined(attempt uint64, p signaling.Participant) {
	c.mu.Lock()
	if c.attempt != attempt || (c.s.status != StatusConnecting && c.s.status != StatusActive) {
		c.mu.Unlock()
		return
	}
	for i := range c.s.participants {
		if c.s.participants[i].Identity == p.Identity {
			p.HasVideoTrack = p.HasVideoTrack || c.s.participants[i].HasVideoTrack
			c.s.participants[i] = p
			c.emitAndUnlock()
			return
		}
	}
	c.s.participants = append(c.s.participants, p)
	c.emitAndUnlock()
}

func (c *Controller) onParticipantLeft(attempt uint64, identity string) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	for i := range c.s.participants {
		if c.s.participants[i].Identity == identity {
			c.s.participants = append(c.s.participants[:i:i], c.s.participants[i+1:]...)
			c.emitAndUnlock()
			return
		}
	}
	c.mu.Unlock()
}

// onTrack marks remote video on the roster and routes remote audio into the recorder mix.
func (c *Controller) onTrack(attempt uint64, t media.Track, identity string, subscribed bool) {
	c.mu.Lock()
	if c.attempt != attempt || (c.s.status != StatusConnecting && c.s.status != StatusActive) {
		c.mu.Unlock()
		return
	}
	if t.Kind() == media.TrackKindVideo {
		for i := range c.s.participants {
			if c.s.participants[i].Identity == identity {
				c.s.participants[i].HasVideoTrack = subscribed
				c.emitAndUnlock()
				return
			}
		}
		if subscribed {
			c.s.participants = append(c.s.participants, signaling.Participant{Identity: identity, HasVideoTrack: true})
			c.emitAndUnlock()
			return
		}
		c.mu.Unlock()
		return
	}

	pl := c.s.res.pipeline
	c.mu.Unlock()
	if pl == nil {
		return
	}
	if !subscribed {
		pl.Detach(t.ID())
		return
	}
	if err := pl.AttachRemote(t); err != nil {
		c.log.Debug("remote track not attached", "track_id", t.ID(), "err", err)
	}
}
