// Package session owns the single call session of this process and its state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callplane/internal/auth"
	"callplane/internal/media"
	"callplane/internal/signaling"
	"callplane/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrSessionActive         = errors.New("session: a call is already in progress")
	ErrInvalidArgument       = errors.New("session: invalid argument")
	ErrInvalidTransition     = errors.New("session: invalid transition")
	ErrSessionCancelled      = errors.New("session: call attempt cancelled")
	ErrTransportDisconnected = errors.New("session: transport disconnected")
)

// Publisher receives every snapshot in order. Publish runs while the controller serializes
// emission, so implementations must not call back into Controller mutations.
type Publisher interface {
	Publish(Snapshot)
}

type Deps struct {
	Gateway    signaling.Gateway
	Transports signaling.TransportFactory

	// Optional.
	Microphone media.Microphone
	NewEncoder func() media.Encoder
	Publisher  Publisher
	Guard      Guard
	Auditor    Auditor
	Log        *slog.Logger
}

type Options struct {
	TickInterval   time.Duration
	RecordingDelay time.Duration
	FlushTimeout   time.Duration
	EndTimeout     time.Duration
	MicTimeout     time.Duration
	Media          media.Config
}

func (o Options) withDefaults() Options {
	out := o
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	if out.RecordingDelay <= 0 {
		out.RecordingDelay = 2 * time.Second
	}
	if out.FlushTimeout <= 0 {
		out.FlushTimeout = 2 * time.Second
	}
	if out.EndTimeout <= 0 {
		out.EndTimeout = 5 * time.Second
	}
	if out.MicTimeout <= 0 {
		out.MicTimeout = 5 * time.Second
	}
	return out
}

// Controller is the only writer of session state. Create and Join reject with
// ErrSessionActive unless the session is idle.
//
// Locking: mu guards the live state. Emission takes emitMu before releasing mu so snapshots
// reach the publisher in the order they were produced. Snapshot reads never take mu.
type Controller struct {
	deps Deps
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	emitMu   sync.Mutex
	toggleMu sync.Mutex
	seq      uint64
	attempt  uint64
	s        live

	current atomic.Pointer[Snapshot]
}

// live is the mutable session. Resource handles are owned here until detached for teardown.
type live struct {
	id           string
	status       Status
	room         *signaling.Room
	creds        *signaling.Credentials
	duration     int
	flags        Flags
	participants []signaling.Participant
	lastError    string
	mic          media.Capability
	recorder     media.Capability

	owner   bool // the room was created by this session
	userID  string
	token   string
	guarded bool

	res resources
}

type resources struct {
	transport   signaling.Transport
	pipeline    *media.Pipeline
	stopTicker  func()
	recordTimer *time.Timer
}

func idleLive() live {
	return live{status: StatusIdle, flags: defaultFlags()}
}

func New(deps Deps, opts Options) (*Controller, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway required", ErrInvalidArgument)
	}
	if deps.Transports == nil {
		return nil, fmt.Errorf("%w: transport factory required", ErrInvalidArgument)
	}
	c := &Controller{
		deps: deps,
		opts: opts.withDefaults(),
		log:  logger.OrDefault(deps.Log).With("component", "session"),
		s:    idleLive(),
	}
	snap := IdleSnapshot()
	c.current.Store(&snap)
	return c, nil
}

// Snapshot returns the latest published state without blocking on in-flight operations.
func (c *Controller) Snapshot() Snapshot {
	return *c.current.Load()
}

// Create allocates a room for a call to req.TargetUserID and connects to it.
// It returns once the transport connect has been issued; Active follows the transport's connected event.
func (c *Controller) Create(ctx context.Context, req signaling.CreateRoomRequest) (Snapshot, error) {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return c.Snapshot(), fmt.Errorf("%w: target user id required", ErrInvalidArgument)
	}
	attempt, err := c.begin(ctx, StatusCreating)
	if err != nil {
		return c.Snapshot(), err
	}

	grant, err := c.deps.Gateway.CreateRoom(ctx, req)
	if err != nil {
		c.fail(attempt, fmt.Errorf("create room: %w", err))
		return c.Snapshot(), fmt.Errorf("session: create room: %w", err)
	}

	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusCreating) {
		token := c.tokenForAttemptLocked(attempt, auth.AccessToken(ctx))
		c.mu.Unlock()
		c.log.Info("room allocated after cancel, releasing", "room_id", grant.Room.ID)
		c.endRoom(context.WithoutCancel(ctx), grant.Room.ID, "", token)
		return c.Snapshot(), ErrSessionCancelled
	}
	room, creds := grant.Room, grant.Credentials
	c.s.room, c.s.creds, c.s.owner = &room, &creds, true
	c.transitionLocked(StatusRinging)
	rec := c.auditRecordLocked(AuditCreated)
	c.emitAndUnlock()
	c.recordAudit(ctx, rec)

	if err := c.connect(ctx, attempt); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// Join enters an existing room.
func (c *Controller) Join(ctx context.Context, roomID string) (Snapshot, error) {
	if strings.TrimSpace(roomID) == "" {
		return c.Snapshot(), fmt.Errorf("%w: room id required", ErrInvalidArgument)
	}
	attempt, err := c.begin(ctx, StatusConnecting)
	if err != nil {
		return c.Snapshot(), err
	}

	grant, err := c.deps.Gateway.JoinRoom(ctx, roomID)
	if err != nil {
		c.fail(attempt, fmt.Errorf("join room: %w", err))
		return c.Snapshot(), fmt.Errorf("session: join room: %w", err)
	}

	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusConnecting) {
		c.mu.Unlock()
		return c.Snapshot(), ErrSessionCancelled
	}
	room, creds := grant.Room, grant.Credentials
	c.s.room, c.s.creds = &room, &creds
	rec := c.auditRecordLocked(AuditJoined)
	c.emitAndUnlock()
	c.recordAudit(ctx, rec)

	if err := c.connect(ctx, attempt); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// End tears the session down. It is a no-op when idle or when a teardown is already running,
// and dismisses a failed session. It never fails: every teardown step tolerates the others failing.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	switch c.s.status {
	case StatusIdle, StatusEnding, StatusProcessing:
		c.mu.Unlock()
		return nil
	case StatusError, StatusCompleted:
		c.s = idleLive()
		c.emitAndUnlock()
		return nil
	}
	plan := c.beginTeardownLocked()
	c.emitAndUnlock()

	c.teardown(context.WithoutCancel(ctx), plan)
	return nil
}

// Dismiss clears a failed session back to idle.
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	if c.s.status != StatusError {
		from := c.s.status
		c.mu.Unlock()
		return transitionError{from: from, to: StatusIdle}
	}
	c.s = idleLive()
	c.emitAndUnlock()
	return nil
}

// ToggleMute flips the local microphone. Outside Active, or with no usable microphone,
// it returns the current value unchanged.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	return c.toggle(ctx, "mute",
		func(l *live) bool { return l.mic == media.CapabilityUnavailable },
		func(f *Flags) *bool { return &f.IsMuted },
		func(ctx context.Context, tr signaling.Transport, muted bool) error {
			return tr.SetMicrophoneEnabled(ctx, !muted)
		})
}

func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	return c.toggle(ctx, "camera", nil,
		func(f *Flags) *bool { return &f.IsCameraOn },
		func(ctx context.Context, tr signaling.Transport, on bool) error {
			return tr.SetCameraEnabled(ctx, on)
		})
}

func (c *Controller) ToggleSpeaker(ctx context.Context) (bool, error) {
	return c.toggle(ctx, "speaker", nil,
		func(f *Flags) *bool { return &f.IsSpeakerOn },
		func(ctx context.Context, tr signaling.Transport, on bool) error {
			return tr.SetSpeakerEnabled(ctx, on)
		})
}

func (c *Controller) toggle(
	ctx context.Context,
	name string,
	pinned func(*live) bool,
	field func(*Flags) *bool,
	apply func(context.Context, signaling.Transport, bool) error,
) (bool, error) {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.mu.Lock()
	cur := *field(&c.s.flags)
	tr := c.s.res.transport
	if c.s.status != StatusActive || tr == nil || (pinned != nil && pinned(&c.s)) {
		c.mu.Unlock()
		return cur, nil
	}
	attempt := c.attempt
	c.mu.Unlock()

	next := !cur
	if err := apply(ctx, tr, next); err != nil {
		return cur, fmt.Errorf("session: toggle %s: %w", name, err)
	}

	c.mu.Lock()
	if !c.isCurrentLocked(attempt, StatusActive) {
		v := *field(&c.s.flags)
		c.mu.Unlock()
		return v, nil
	}
	*field(&c.s.flags) = next
	c.emitAndUnlock()
	return next, nil
}

// begin moves Idle -> to for a new attempt.
func (c *Controller) begin(ctx context.Context, to Status) (uint64, error) {
	c.mu.Lock()
	if c.s.status != StatusIdle {
		c.mu.Unlock()
		return 0, ErrSessionActive
	}
	c.mu.Unlock()

	userID, _ := auth.UserID(ctx)
	guarded := false
	if c.deps.Guard != nil && userID != "" {
		ok, err := c.deps.Guard.Acquire(ctx, userID)
		switch {
		case err != nil:
			c.log.Warn("session guard unavailable, continuing", "err", err)
		case !ok:
			return 0, fmt.Errorf("%w: active on another device", ErrSessionActive)
		default:
			guarded = true
		}
	}

	c.mu.Lock()
	if c.s.status != StatusIdle {
		c.mu.Unlock()
		if guarded {
			c.releaseGuard(userID)
		}
		return 0, ErrSessionActive
	}
	c.attempt++
	attempt := c.attempt
	c.s = idleLive()
	c.s.id = uuid.NewString()
	c.s.userID = userID
	c.s.token = auth.AccessToken(ctx)
	c.s.guarded = guarded
	c.transitionLocked(to)
	c.emitAndUnlock()
	return attempt, nil
}

// connect opens the transport with the attempt's single-use credentials.
func (c *Controller) connect(ctx context.Context, attempt uint64) error {
	c.mu.Lock()
	if c.attempt != attempt || c.s.creds == nil ||
		(c.s.status != StatusRinging && c.s.status != StatusConnecting) {
		c.mu.Unlock()
		return ErrSessionCancelled
	}
	if c.s.status == StatusRinging {
		c.transitionLocked(StatusConnecting)
	}
	creds := *c.s.creds
	c.s.creds = nil

	var enc media.Encoder
	if c.deps.NewEncoder != nil {
		enc = c.deps.NewEncoder()
	}
	tr := c.deps.Transports()
	c.s.res.transport = tr
	c.s.res.pipeline = media.NewPipeline(c.opts.Media, enc, c.log)
	roomID := c.s.room.ID
	c.emitAndUnlock()

	c.log.Info("connecting transport", "room_id", roomID, "attempt", attempt)
	if err := tr.Connect(ctx, creds.SignalingURL, creds.Token, &sessionEvents{c: c, attempt: attempt}); err != nil {
		if c.fail(attempt, fmt.Errorf("connect: %w", err)) {
			return fmt.Errorf("session: connect: %w", err)
		}
		return ErrSessionCancelled
	}
	return nil
}

// fail moves an in-progress attempt to Error and releases everything it holds.
// It reports false when the attempt is stale or already tearing down.
func (c *Controller) fail(attempt uint64, cause error) bool {
	c.mu.Lock()
	switch {
	case c.attempt != attempt:
		c.mu.Unlock()
		return false
	case c.s.status != StatusCreating && c.s.status != StatusRinging &&
		c.s.status != StatusConnecting && c.s.status != StatusActive:
		c.mu.Unlock()
		return false
	}

	res := c.detachLocked()
	room, owner, token := c.s.room, c.s.owner, c.s.token
	userID, guarded := c.s.userID, c.s.guarded
	rec := c.auditRecordLocked(AuditFailed)
	rec.Error = cause.Error()

	c.transitionLocked(StatusError)
	c.s = live{status: StatusError, flags: defaultFlags(), lastError: cause.Error()}
	c.emitAndUnlock()

	c.log.Warn("call failed", "attempt", attempt, "err", cause)
	res.release(c.log)
	if owner && room != nil {
		c.endRoom(context.Background(), room.ID, "", token)
	}
	if guarded {
		c.releaseGuard(userID)
	}
	c.recordAudit(context.Background(), rec)
	return true
}

type teardownPlan struct {
	attempt uint64
	res     resources
	room    *signaling.Room
	token   string
	userID  string
	guarded bool
	audit   AuditRecord
}

// beginTeardownLocked moves to Ending, stops the duration timer first, and takes ownership of all resources.
func (c *Controller) beginTeardownLocked() teardownPlan {
	c.transitionLocked(StatusEnding)
	if c.s.res.stopTicker != nil {
		c.s.res.stopTicker()
		c.s.res.stopTicker = nil
	}
	if c.s.res.recordTimer != nil {
		c.s.res.recordTimer.Stop()
		c.s.res.recordTimer = nil
	}
	return teardownPlan{
		attempt: c.attempt,
		res:     c.detachLocked(),
		room:    c.s.room,
		token:   c.s.token,
		userID:  c.s.userID,
		guarded: c.s.guarded,
		audit:   c.auditRecordLocked(AuditEnded),
	}
}

// teardown runs the ordered shutdown: recorder flush, transport disconnect, sink removal, end signal.
func (c *Controller) teardown(ctx context.Context, plan teardownPlan) {
	var payload string
	if pl := plan.res.pipeline; pl != nil {
		flushCtx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
		payload, plan.audit.Recorded = pl.StopAndAssemble(flushCtx)
		cancel()
	}
	if tr := plan.res.transport; tr != nil {
		if err := tr.Disconnect(); err != nil {
			c.log.Debug("transport disconnect during teardown", "err", err)
		}
	}
	if pl := plan.res.pipeline; pl != nil {
		pl.Close()
	}

	if plan.room != nil {
		c.mu.Lock()
		if c.isCurrentLocked(plan.attempt, StatusEnding) {
			c.transitionLocked(StatusProcessing)
			c.emitAndUnlock()
		} else {
			c.mu.Unlock()
		}
		c.endRoom(ctx, plan.room.ID, payload, plan.token)
	}
	if plan.guarded {
		c.releaseGuard(plan.userID)
	}

	c.mu.Lock()
	if c.attempt == plan.attempt && (c.s.status == StatusEnding || c.s.status == StatusProcessing) {
		c.transitionLocked(StatusIdle)
		c.s = idleLive()
		c.emitAndUnlock()
	} else {
		c.mu.Unlock()
	}

	c.log.Info("call ended", "room_id", plan.audit.RoomID, "duration_s", plan.audit.DurationSeconds, "recorded", plan.audit.Recorded)
	c.recordAudit(ctx, plan.audit)
}

func (c *Controller) endRoom(ctx context.Context, roomID, payload, token string) {
	if token != "" {
		ctx = auth.WithAccessToken(ctx, token)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.EndTimeout)
	defer cancel()
	if err := c.deps.Gateway.EndRoom(ctx, roomID, payload); err != nil {
		c.log.Warn("end signal failed", "room_id", roomID, "err", err)
	}
}

func (c *Controller) releaseGuard(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.deps.Guard.Release(ctx, userID); err != nil {
		c.log.Warn("session guard release failed", "err", err)
	}
}

func (c *Controller) detachLocked() resources {
	res := c.s.res
	c.s.res = resources{}
	return res
}

func (r resources) release(log *slog.Logger) {
	if r.stopTicker != nil {
		r.stopTicker()
	}
	if r.recordTimer != nil {
		r.recordTimer.Stop()
	}
	if r.pipeline != nil {
		r.pipeline.Close()
	}
	if r.transport != nil {
		if err := r.transport.Disconnect(); err != nil {
			log.Debug("transport disconnect during release", "err", err)
		}
	}
}

func (c *Controller) isCurrentLocked(attempt uint64, status Status) bool {
	return c.attempt == attempt && c.s.status == status
}

// tokenForAttemptLocked returns the token captured by attempt, or fallback when the attempt is gone.
func (c *Controller) tokenForAttemptLocked(attempt uint64, fallback string) string {
	if c.attempt == attempt && c.s.token != "" {
		return c.s.token
	}
	return fallback
}

func (c *Controller) transitionLocked(to Status) {
	from := c.s.status
	if !from.CanTransition(to) {
		c.log.Error("illegal status transition", "err", transitionError{from: from, to: to})
		return
	}
	c.s.status = to
	c.log.Debug("status", "from", from, "to", to, "attempt", c.attempt)
}

// emitAndUnlock publishes the live state. It must be called with mu held and returns with mu released.
func (c *Controller) emitAndUnlock() {
	c.seq++
	snap := c.snapshotLocked()
	c.current.Store(&snap)

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:                c.seq,
		SessionID:          c.s.id,
		Status:             c.s.status,
		DurationSeconds:    c.s.duration,
		Flags:              c.s.flags,
		RemoteParticipants: make([]signaling.Participant, len(c.s.participants)),
		LastError:          c.s.lastError,
		Microphone:         c.s.mic,
		Recorder:           c.s.recorder,
	}
	copy(snap.RemoteParticipants, c.s.participants)
	if c.s.room != nil {
		room := *c.s.room
		snap.Room = &room
	}
	return snap
}
