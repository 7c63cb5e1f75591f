// Package signaling talks to the remote room service and carries the live room connection.
//
// Rules:
// - No room-service HTTP calls outside this package.
// - Keep request/response types service-agnostic; the controller never sees raw payloads.
package signaling

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("signaling: unauthenticated")
	ErrAccessDenied    = errors.New("signaling: access denied")
	ErrRoomNotFound    = errors.New("signaling: room not found")
	ErrRoomUnavailable = errors.New("signaling: room unavailable")
	ErrInvalidArgument = errors.New("signaling: invalid argument")
)

// Gateway allocates, joins and closes rooms on the remote room service.
type Gateway interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (Grant, error)
	JoinRoom(ctx context.Context, roomID string) (Grant, error)
	// EndRoom is best-effort. payload is the base64 recording, or "" when none was captured.
	EndRoom(ctx context.Context, roomID, payload string) error
}

type CreateRoomRequest struct {
	TargetUserID string `json:"targetUserId"`
	ProjectID    string `json:"projectId,omitempty"`
	Title        string `json:"title,omitempty"`
}

type Room struct {
	ID       string `json:"id"`
	RoomName string `json:"roomName"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Credentials are single-use per connection attempt and never persisted.
type Credentials struct {
	Token        string
	SignalingURL string
}

type Grant struct {
	Room        Room
	Credentials Credentials
}

// RemoteError is a failure reported by the room service.
type RemoteError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("signaling: %s failed (%d): %s", e.Op, e.Status, e.Message)
}

// Unwrap maps the HTTP status onto the package sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Status {
	case 401:
		return ErrUnauthenticated
	case 403:
		return ErrAccessDenied
	case 404, 410:
		return ErrRoomNotFound
	case 409, 423:
		return ErrRoomUnavailable
	case 400, 422:
		return ErrInvalidArgument
	default:
		return nil
	}
}
