// Package media mixes call audio into one recordable stream and assembles it into a transportable payload.
package media

import (
	"errors"
	"io"
	"sync"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

var (
	ErrPipelineClosed    = errors.New("media: pipeline closed")
	ErrNotAudio          = errors.New("media: track is not audio")
	ErrDeviceUnavailable = errors.New("media: capture device unavailable")
	ErrUnsupportedFormat = errors.New("media: unsupported format")
)

// Track is one participant stream. ReadSamples blocks until PCM16 samples are available
// and returns io.EOF once the track has ended.
type Track interface {
	ID() string
	Kind() TrackKind
	ReadSamples(dst []int16) (int, error)
}

// FrameTrack is a Track fed by Push, used for streams arriving over the network.
// Frames pushed while the buffer is full are dropped.
type FrameTrack struct {
	id   string
	kind TrackKind

	frames chan []int16
	rest   []int16

	closeOnce sync.Once
	closed    chan struct{}
}

func NewFrameTrack(id string, kind TrackKind, depth int) *FrameTrack {
	if depth <= 0 {
		depth = 64
	}
	return &FrameTrack{
		id:     id,
		kind:   kind,
		frames: make(chan []int16, depth),
		closed: make(chan struct{}),
	}
}

func (t *FrameTrack) ID() string      { return t.id }
func (t *FrameTrack) Kind() TrackKind { return t.kind }

// Push queues a frame. It reports false when the frame was dropped.
func (t *FrameTrack) Push(samples []int16) bool {
	select {
	case <-t.closed:
		return false
	default:
	}
	select {
	case t.frames <- samples:
		return true
	default:
		return false
	}
}

func (t *FrameTrack) ReadSamples(dst []int16) (int, error) {
	if len(t.rest) > 0 {
		n := copy(dst, t.rest)
		t.rest = t.rest[n:]
		return n, nil
	}
	select {
	case f := <-t.frames:
		n := copy(dst, f)
		t.rest = f[n:]
		return n, nil
	case <-t.closed:
		return 0, io.EOF
	}
}

// Close ends the track; pending readers return io.EOF.
func (t *FrameTrack) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
