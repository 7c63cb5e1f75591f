package media

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Microphone acquires the local audio source.
type Microphone interface {
	Open(ctx context.Context) (Track, error)
}

// DeviceMicrophone reads raw PCM16LE from a device node or FIFO (for example one fed by arecord or pw-record).
type DeviceMicrophone struct {
	Path    string
	TrackID string
}

func (m DeviceMicrophone) Open(ctx context.Context) (Track, error) {
	if m.Path == "" {
		return nil, ErrDeviceUnavailable
	}

	type result struct {
		f   *os.File
		err error
	}
	// Opening a FIFO blocks until a writer attaches.
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(m.Path)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, r.err)
		}
		id := m.TrackID
		if id == "" {
			id = "local-mic"
		}
		return &readerTrack{id: id, r: bufio.NewReader(r.f), c: r.f}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, ctx.Err())
	}
}

// readerTrack is an audio Track over a PCM16LE byte stream.
type readerTrack struct {
	id  string
	r   io.Reader
	c   io.Closer
	raw []byte
}

// NewReaderTrack wraps a PCM16LE stream as an audio track.
func NewReaderTrack(id string, rc io.ReadCloser) Track {
	return &readerTrack{id: id, r: rc, c: rc}
}

func (t *readerTrack) ID() string      { return t.id }
func (t *readerTrack) Kind() TrackKind { return TrackKindAudio }

func (t *readerTrack) ReadSamples(dst []int16) (int, error) {
	if cap(t.raw) < 2*len(dst) {
		t.raw = make([]byte, 2*len(dst))
	}
	raw := t.raw[:2*len(dst)]
	n, err := io.ReadFull(t.r, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (t *readerTrack) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}
