package media

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"callplane/pkg/logger"
)

func testConfig() Config {
	return Config{
		Format:        Format{SampleRate: 8000, Channels: 1},
		ChunkInterval: time.Hour, // only the final flush produces a chunk
		FrameSamples:  4,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func pendingOf(p *Pipeline, id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[id]; ok {
		return len(src.pending)
	}
	return -1
}

func decodeWAVSamples(t *testing.T, payload string) []int16 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatalf("expected WAV header")
	}
	data := raw[44:]
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

func TestStopAndAssemble_NeverStartedReturnsNoPayload(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	payload, ok := p.StopAndAssemble(context.Background())
	if ok || payload != "" {
		t.Fatalf("expected no payload, got %q", payload)
	}
	// Defensive repeat must not panic either.
	if _, ok := p.StopAndAssemble(context.Background()); ok {
		t.Fatalf("expected no payload on repeat")
	}
}

func TestStartCapture_Idempotent(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	p.StartCapture()
	first := p.stop
	p.StartCapture()
	if p.stop != first {
		t.Fatalf("second StartCapture replaced the recorder")
	}
	if p.Capability() != CapabilityActive {
		t.Fatalf("expected active, got %s", p.Capability())
	}
	p.StopAndAssemble(context.Background())
	if p.Capability() != CapabilityAvailable {
		t.Fatalf("expected available after stop, got %s", p.Capability())
	}
}

func TestStartCapture_NoEncoderDegrades(t *testing.T) {
	p := NewPipeline(testConfig(), nil, logger.Discard())
	p.StartCapture()
	if p.Capability() != CapabilityUnavailable {
		t.Fatalf("expected unavailable, got %s", p.Capability())
	}
	if _, ok := p.StopAndAssemble(context.Background()); ok {
		t.Fatalf("expected no payload")
	}
}

type failingEncoder struct{ WAVEncoder }

func (failingEncoder) Open(Format) error { return errors.New("no codec") }

func TestStartCapture_EncoderOpenFailureDegrades(t *testing.T) {
	p := NewPipeline(testConfig(), &failingEncoder{}, logger.Discard())
	p.StartCapture()
	if p.Capability() != CapabilityUnavailable {
		t.Fatalf("expected unavailable, got %s", p.Capability())
	}
}

func TestMixesLocalAndRemoteFromAttachTime(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	local := NewFrameTrack("local", TrackKindAudio, 8)
	remote := NewFrameTrack("remote", TrackKindAudio, 8)
	if err := p.AttachLocal(local); err != nil {
		t.Fatalf("attach local: %v", err)
	}

	// Not captured: recording has not started yet.
	local.Push([]int16{1000, 1000, 1000, 1000})
	waitFor(t, func() bool { return len(local.frames) == 0 })
	time.Sleep(20 * time.Millisecond)

	p.StartCapture()
	local.Push([]int16{100, 200, 300, 400})
	waitFor(t, func() bool { return pendingOf(p, "local") == 4 })

	// Remote joins mid-recording.
	if err := p.AttachRemote(remote); err != nil {
		t.Fatalf("attach remote: %v", err)
	}
	remote.Push([]int16{10, 20})
	waitFor(t, func() bool { return pendingOf(p, "remote") == 2 })

	payload, ok := p.StopAndAssemble(context.Background())
	if !ok {
		t.Fatalf("expected payload")
	}
	got := decodeWAVSamples(t, payload)
	want := []int16{110, 220, 300, 400}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMixClipsToInt16(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	a := NewFrameTrack("a", TrackKindAudio, 4)
	b := NewFrameTrack("b", TrackKindAudio, 4)
	_ = p.AttachRemote(a)
	_ = p.AttachRemote(b)
	p.StartCapture()

	a.Push([]int16{30000, -30000})
	b.Push([]int16{30000, -30000})
	waitFor(t, func() bool { return pendingOf(p, "a") == 2 && pendingOf(p, "b") == 2 })

	payload, ok := p.StopAndAssemble(context.Background())
	if !ok {
		t.Fatalf("expected payload")
	}
	got := decodeWAVSamples(t, payload)
	if got[0] != 32767 || got[1] != -32768 {
		t.Fatalf("expected clipping, got %v", got)
	}
}

func TestStopAndAssemble_NoAudioReturnsNoPayload(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	p.StartCapture()
	if _, ok := p.StopAndAssemble(context.Background()); ok {
		t.Fatalf("expected no payload when nothing was captured")
	}
}

type blockingEncoder struct {
	WAVEncoder
	release chan struct{}
}

func (e *blockingEncoder) EncodeChunk(s []int16) ([]byte, error) {
	<-e.release
	return e.WAVEncoder.EncodeChunk(s)
}

func TestStopAndAssemble_BoundedWait(t *testing.T) {
	enc := &blockingEncoder{release: make(chan struct{})}
	defer close(enc.release)

	p := NewPipeline(testConfig(), enc, logger.Discard())
	tr := NewFrameTrack("local", TrackKindAudio, 4)
	_ = p.AttachLocal(tr)
	p.StartCapture()
	tr.Push([]int16{1, 2, 3, 4})
	waitFor(t, func() bool { return pendingOf(p, "local") == 4 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := p.StopAndAssemble(ctx)
	if time.Since(start) > time.Second {
		t.Fatalf("stop did not honour the deadline")
	}
	if ok {
		t.Fatalf("expected no payload when the final chunk never arrived")
	}
}

func TestAttach_RejectsVideoAndClosedPipeline(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	if err := p.AttachRemote(NewFrameTrack("v", TrackKindVideo, 1)); !errors.Is(err, ErrNotAudio) {
		t.Fatalf("expected ErrNotAudio, got %v", err)
	}
	p.Close()
	if err := p.AttachLocal(NewFrameTrack("a", TrackKindAudio, 1)); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestClose_ClosesLocalTrackOnly(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	local := NewFrameTrack("local", TrackKindAudio, 1)
	remote := NewFrameTrack("remote", TrackKindAudio, 1)
	_ = p.AttachLocal(local)
	_ = p.AttachRemote(remote)

	p.Close()
	p.Close()

	if local.Push([]int16{1}) {
		t.Fatalf("expected local track closed")
	}
	if !remote.Push([]int16{1}) {
		t.Fatalf("expected remote track left open")
	}
	if p.Sources() != 0 {
		t.Fatalf("expected sources cleared")
	}
}

func TestDetach_StopsMixingTrack(t *testing.T) {
	p := NewPipeline(testConfig(), &WAVEncoder{}, logger.Discard())
	tr := NewFrameTrack("r", TrackKindAudio, 1)
	_ = p.AttachRemote(tr)
	p.Detach("r")
	if p.Sources() != 0 {
		t.Fatalf("expected track detached")
	}
}
