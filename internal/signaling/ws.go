package signaling

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"callplane/internal/media"
	"callplane/pkg/logger"

	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("signaling: transport not connected")

type WSConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// ReadTimeout must exceed PingInterval; it is extended on every pong.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectBackoff []time.Duration
	TrackBuffer      int
	// CloseWait bounds how long Disconnect waits for the read loop to stop.
	CloseWait time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	out := c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 15 * time.Second
	}
	if out.ReadTimeout <= out.PingInterval {
		out.ReadTimeout = 3 * out.PingInterval
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.ReconnectBackoff == nil {
		out.ReconnectBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	}
	if out.TrackBuffer <= 0 {
		out.TrackBuffer = 64
	}
	if out.CloseWait <= 0 {
		out.CloseWait = 500 * time.Millisecond
	}
	return out
}

// WSTransport is a room connection over a websocket.
//
// Text frames carry JSON events and control messages. Binary frames carry remote audio:
// a big-endian uint16 track id length, the track id, then PCM16LE samples.
type WSTransport struct {
	cfg    WSConfig
	log    *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	url     string
	token   string
	handler EventHandler
	tracks  map[string]*remoteTrack
	done    chan struct{}

	writeMu sync.Mutex
	closed  atomic.Bool
	stop    chan struct{}
}

type remoteTrack struct {
	track    *media.FrameTrack
	identity string
}

type wireEvent struct {
	Type     string `json:"type"`
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name,omitempty"`
	TrackID  string `json:"track_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

func NewWSTransport(cfg WSConfig, log *slog.Logger) *WSTransport {
	cfg = cfg.withDefaults()
	return &WSTransport{
		cfg: cfg,
		log: logger.OrDefault(log),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		tracks: make(map[string]*remoteTrack),
		stop:   make(chan struct{}),
	}
}

// NewWSTransportFactory returns a factory producing one WSTransport per call.
func NewWSTransportFactory(cfg WSConfig, log *slog.Logger) TransportFactory {
	return func() Transport { return NewWSTransport(cfg, log) }
}

func (t *WSTransport) Connect(ctx context.Context, rawURL, token string, h EventHandler) error {
	if h == nil {
		return errors.New("signaling: event handler required")
	}
	if t.closed.Load() {
		return ErrNotConnected
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("signaling: transport already connected")
	}
	t.url, t.token, t.handler = rawURL, token, h
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	t.conn = conn
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.run(conn, done)
	return nil
}

func (t *WSTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return t.sendControl(ctx, "set_microphone", enabled)
}

func (t *WSTransport) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return t.sendControl(ctx, "set_camera", enabled)
}

func (t *WSTransport) SetSpeakerEnabled(ctx context.Context, enabled bool) error {
	return t.sendControl(ctx, "set_speaker", enabled)
}

// Disconnect closes the connection, waits briefly for the read loop, and ends every remote track.
func (t *WSTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.stop)

	t.mu.Lock()
	conn, done := t.conn, t.done
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hangup"),
			time.Now().Add(t.cfg.WriteTimeout))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(t.cfg.CloseWait):
			t.log.Warn("transport read loop did not stop in time")
		}
	}

	t.mu.Lock()
	tracks := t.tracks
	t.tracks = make(map[string]*remoteTrack)
	t.mu.Unlock()
	for _, rt := range tracks {
		_ = rt.track.Close()
	}
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	rawURL, token := t.url, t.token
	t.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("signaling: parse url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling: dial: %w", &RemoteError{Op: "connect", Status: resp.StatusCode})
		}
		return nil, fmt.Errorf("signaling: dial: %w", err)
	}
	return conn, nil
}

func (t *WSTransport) run(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		reason, retry := t.readLoop(conn)
		if t.closed.Load() {
			t.handler.OnDisconnected("client")
			return
		}
		if !retry {
			t.handler.OnDisconnected(reason)
			return
		}

		t.log.Info("transport lost, reconnecting", "reason", reason)
		t.handler.OnReconnecting()
		next := t.reconnect()
		if next == nil {
			if t.closed.Load() {
				t.handler.OnDisconnected("client")
			} else {
				t.handler.OnDisconnected("reconnect failed")
			}
			return
		}
		conn = next
		t.handler.OnReconnected()
	}
}

func (t *WSTransport) reconnect() *websocket.Conn {
	for i, wait := range t.cfg.ReconnectBackoff {
		select {
		case <-t.stop:
			return nil
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			t.log.Warn("transport reconnect attempt failed", "attempt", i+1, "err", err)
			continue
		}

		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		t.conn = conn
		t.mu.Unlock()
		return conn
	}
	return nil
}

// readLoop pumps one connection until it fails. retry reports whether the failure looks transient.
func (t *WSTransport) readLoop(conn *websocket.Conn) (reason string, retry bool) {
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go t.ping(conn, stopPing)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "remote closed", false
			}
			return err.Error(), true
		}

		switch mt {
		case websocket.TextMessage:
			if reason, ended := t.handleEvent(data); ended {
				_ = conn.Close()
				return reason, false
			}
		case websocket.BinaryMessage:
			t.handleAudio(data)
		}
	}
}

func (t *WSTransport) ping(conn *websocket.Conn, stop <-chan struct{}) {
	tk := time.NewTicker(t.cfg.PingInterval)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (t *WSTransport) handleEvent(data []byte) (reason string, ended bool) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.log.Debug("transport event ignored", "err", err)
		return "", false
	}
	h := t.handler

	switch ev.Type {
	case "connected":
		h.OnConnected()
	case "reconnecting":
		h.OnReconnecting()
	case "reconnected":
		h.OnReconnected()
	case "participant_joined":
		h.OnParticipantJoined(Participant{Identity: ev.Identity, DisplayName: ev.Name})
	case "participant_left":
		for _, tr := range t.dropTracks(func(rt *remoteTrack) bool { return rt.identity == ev.Identity }) {
			h.OnTrackUnsubscribed(tr, ev.Identity)
		}
		h.OnParticipantLeft(ev.Identity)
	case "track_subscribed":
		kind := media.TrackKind(ev.Kind)
		if kind != media.TrackKindVideo {
			kind = media.TrackKindAudio
		}
		t.mu.Lock()
		if _, ok := t.tracks[ev.TrackID]; ok || ev.TrackID == "" {
			t.mu.Unlock()
			return "", false
		}
		tr := media.NewFrameTrack(ev.TrackID, kind, t.cfg.TrackBuffer)
		t.tracks[ev.TrackID] = &remoteTrack{track: tr, identity: ev.Identity}
		t.mu.Unlock()
		h.OnTrackSubscribed(tr, ev.Identity)
	case "track_unsubscribed":
		for _, tr := range t.dropTracks(func(rt *remoteTrack) bool { return rt.track.ID() == ev.TrackID }) {
			h.OnTrackUnsubscribed(tr, ev.Identity)
		}
	case "disconnected", "room_closed":
		if ev.Reason == "" {
			ev.Reason = ev.Type
		}
		return ev.Reason, true
	default:
		t.log.Debug("transport event ignored", "type", ev.Type)
	}
	return "", false
}

func (t *WSTransport) dropTracks(match func(*remoteTrack) bool) []media.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []media.Track
	for id, rt := range t.tracks {
		if match(rt) {
			_ = rt.track.Close()
			delete(t.tracks, id)
			out = append(out, rt.track)
		}
	}
	return out
}

func (t *WSTransport) handleAudio(data []byte) {
	if len(data) < 2 {
		return
	}
	idLen := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+idLen {
		return
	}
	id := string(data[2 : 2+idLen])
	pcm := data[2+idLen:]

	t.mu.Lock()
	rt, ok := t.tracks[id]
	t.mu.Unlock()
	if !ok || rt.track.Kind() != media.TrackKindAudio {
		return
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	rt.track.Push(samples)
}

func (t *WSTransport) sendControl(ctx context.Context, typ string, enabled bool) error {
	if t.closed.Load() {
		return ErrNotConnected
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	b, err := json.Marshal(wireEvent{Type: typ, Enabled: &enabled})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("signaling: %s: %w", typ, err)
	}
	return nil
}
