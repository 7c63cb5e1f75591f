package session

import (
	"callplane/internal/media"
	"callplane/internal/signaling"
)

type Flags struct {
	IsMuted     bool `json:"is_muted"`
	IsCameraOn  bool `json:"is_camera_on"`
	IsSpeakerOn bool `json:"is_speaker_on"`
}

func defaultFlags() Flags {
	return Flags{IsSpeakerOn: true}
}

// Snapshot is an immutable copy of the session, as published to observers.
// Credentials are never part of it.
type Snapshot struct {
	Seq                uint64                  `json:"seq"`
	SessionID          string                  `json:"session_id,omitempty"`
	Status             Status                  `json:"status"`
	Room               *signaling.Room         `json:"room,omitempty"`
	DurationSeconds    int                     `json:"duration_seconds"`
	Flags              Flags                   `json:"flags"`
	RemoteParticipants []signaling.Participant `json:"remote_participants"`
	LastError          string                  `json:"last_error,omitempty"`
	Microphone         media.Capability        `json:"microphone"`
	Recorder           media.Capability        `json:"recorder"`
}

// IdleSnapshot is the state at process start.
func IdleSnapshot() Snapshot {
	return Snapshot{
		Status:             StatusIdle,
		Flags:              defaultFlags(),
		RemoteParticipants: []signaling.Participant{},
	}
}
