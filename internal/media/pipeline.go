package media

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callplane/pkg/logger"
)

type Config struct {
	Format        Format
	ChunkInterval time.Duration
	// FrameSamples is the read size per pump call.
	FrameSamples int
	// MaxPendingSamples caps unmixed samples held per source between chunks.
	MaxPendingSamples int
}

func (c Config) withDefaults() Config {
	out := c
	if out.Format.SampleRate <= 0 {
		out.Format.SampleRate = 48000
	}
	if out.Format.Channels <= 0 {
		out.Format.Channels = 1
	}
	if out.ChunkInterval <= 0 {
		out.ChunkInterval = time.Second
	}
	if out.FrameSamples <= 0 {
		out.FrameSamples = out.Format.SampleRate * out.Format.Channels / 50 // 20ms
	}
	if out.MaxPendingSamples <= 0 {
		out.MaxPendingSamples = 2 * out.Format.SampleRate * out.Format.Channels
	}
	return out
}

// Pipeline mixes one local and any number of remote audio tracks and records the mix in chunks.
// Capture is an enhancement: when the encoder cannot open, StartCapture leaves the
// recorder Unavailable and the call carries on.
type Pipeline struct {
	cfg Config
	enc Encoder
	log *slog.Logger

	mu        sync.Mutex
	sources   map[string]*source
	capturing bool
	capture   Capability
	chunks    [][]byte
	stop      chan struct{}
	done      chan struct{}
	closed    bool
}

type source struct {
	track   Track
	local   bool
	pending []int16
	stopped atomic.Bool
}

// NewPipeline builds an idle pipeline. enc may be nil, in which case capture is never available.
func NewPipeline(cfg Config, enc Encoder, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		enc:     enc,
		log:     logger.OrDefault(log),
		sources: make(map[string]*source),
	}
}

func (p *Pipeline) AttachLocal(t Track) error  { return p.attach(t, true) }
func (p *Pipeline) AttachRemote(t Track) error { return p.attach(t, false) }

func (p *Pipeline) attach(t Track, local bool) error {
	if t.Kind() != TrackKindAudio {
		return ErrNotAudio
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	if _, ok := p.sources[t.ID()]; ok {
		return nil
	}
	src := &source{track: t, local: local}
	p.sources[t.ID()] = src
	go p.pump(src)

	p.log.Debug("media source attached", "track_id", t.ID(), "local", local)
	return nil
}

// Detach stops mixing a track. Its unmixed samples are discarded.
func (p *Pipeline) Detach(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[trackID]; ok {
		src.stopped.Store(true)
		delete(p.sources, trackID)
	}
}

// Sources reports how many tracks are attached.
func (p *Pipeline) Sources() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// Capability reports the recorder state.
func (p *Pipeline) Capability() Capability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capture
}

// StartCapture begins chunked recording. Calling it while already capturing is a no-op.
func (p *Pipeline) StartCapture() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.capturing || p.capture == CapabilityUnavailable {
		return
	}
	if p.enc == nil {
		p.capture = CapabilityUnavailable
		p.log.Warn("recorder unavailable, continuing without recording", "reason", "no encoder")
		return
	}
	if err := p.enc.Open(p.cfg.Format); err != nil {
		p.capture = CapabilityUnavailable
		p.log.Warn("recorder unavailable, continuing without recording", "err", err)
		return
	}

	p.capturing = true
	p.capture = CapabilityActive
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.record(p.stop, p.done)
}

// StopAndAssemble stops recording, waits for the final chunk until ctx expires, and returns the
// base64-encoded recording. ok is false when nothing was captured or capture never started.
func (p *Pipeline) StopAndAssemble(ctx context.Context) (payload string, ok bool) {
	p.mu.Lock()
	stop, done := p.stop, p.done
	wasCapturing := p.capturing
	p.capturing = false
	p.stop, p.done = nil, nil
	if p.capture == CapabilityActive {
		p.capture = CapabilityAvailable
	}
	p.mu.Unlock()

	if !wasCapturing {
		return "", false
	}

	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("recorder flush timed out, assembling buffered chunks")
	}

	p.mu.Lock()
	chunks := p.chunks
	p.chunks = nil
	p.mu.Unlock()

	if len(chunks) == 0 {
		return "", false
	}
	data, err := p.enc.Assemble(chunks)
	if err != nil {
		p.log.Warn("recording assembly failed", "err", err)
		return "", false
	}
	return base64.StdEncoding.EncodeToString(data), true
}

// Close detaches every source and closes the local track. Remote tracks belong to the transport.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stop := p.stop
	p.stop, p.done = nil, nil
	p.capturing = false
	var closers []io.Closer
	for id, src := range p.sources {
		src.stopped.Store(true)
		if c, ok := src.track.(io.Closer); ok && src.local {
			closers = append(closers, c)
		}
		delete(p.sources, id)
	}
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, c := range closers {
		_ = c.Close()
	}
}

func (p *Pipeline) pump(src *source) {
	buf := make([]int16, p.cfg.FrameSamples)
	for {
		n, err := src.track.ReadSamples(buf)
		if src.stopped.Load() {
			return
		}
		if n > 0 {
			p.push(src, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug("media source read failed", "track_id", src.track.ID(), "err", err)
			}
			return
		}
	}
}

func (p *Pipeline) push(src *source, samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.capturing || src.stopped.Load() {
		return
	}
	src.pending = append(src.pending, samples...)
	if over := len(src.pending) - p.cfg.MaxPendingSamples; over > 0 {
		src.pending = src.pending[over:]
	}
}

func (p *Pipeline) record(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(p.cfg.ChunkInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.flushChunk()
		case <-stop:
			p.flushChunk()
			return
		}
	}
}

func (p *Pipeline) flushChunk() {
	p.mu.Lock()
	mixed := p.mixLocked()
	p.mu.Unlock()
	if len(mixed) == 0 {
		return
	}

	chunk, err := p.enc.EncodeChunk(mixed)
	if err != nil {
		p.log.Warn("recording chunk dropped", "err", err)
		return
	}
	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.mu.Unlock()
}

// mixLocked sums pending samples of every source index by index and clips to int16.
func (p *Pipeline) mixLocked() []int16 {
	n := 0
	for _, src := range p.sources {
		if len(src.pending) > n {
			n = len(src.pending)
		}
	}
	if n == 0 {
		return nil
	}

	acc := make([]int32, n)
	for _, src := range p.sources {
		for i, s := range src.pending {
			acc[i] += int32(s)
		}
		src.pending = src.pending[:0]
	}

	out := make([]int16, n)
	for i, v := range acc {
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}
