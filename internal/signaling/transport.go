package signaling

import (
	"context"

	"callplane/internal/media"
)

// Participant is a remote member of the room.
type Participant struct {
	Identity      string `json:"identity"`
	DisplayName   string `json:"display_name,omitempty"`
	HasVideoTrack bool   `json:"has_video_track"`
}

// Transport is the live room connection for one call. A Transport is used for a single
// Connect; Disconnect is idempotent and safe after a remote hang-up.
type Transport interface {
	Connect(ctx context.Context, url, token string, h EventHandler) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	SetSpeakerEnabled(ctx context.Context, enabled bool) error
	Disconnect() error
}

// EventHandler receives room events. Calls arrive on the transport's goroutine and must not block.
type EventHandler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnReconnecting()
	OnReconnected()
	OnParticipantJoined(p Participant)
	OnParticipantLeft(identity string)
	OnTrackSubscribed(t media.Track, identity string)
	OnTrackUnsubscribed(t media.Track, identity string)
}

// TransportFactory returns a fresh, unconnected Transport.
type TransportFactory func() Transport
