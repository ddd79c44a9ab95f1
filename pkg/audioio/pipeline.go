package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrResourceUnavailable indicates the microphone resource could not be
// acquired (permission denied, hardware busy, or another pipeline holds it).
var ErrResourceUnavailable = errors.New("audioio: capture resource unavailable")

// micOwned guards the process-wide microphone resource. Only one capture
// pipeline may be running at a time.
var micOwned atomic.Bool

// PipelineConfig configures a capture pipeline.
type PipelineConfig struct {
	// WireSampleRate is the sample rate the backend expects.
	WireSampleRate int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WireSampleRate: 16000,
		Logger:         slog.Default(),
	}
}

// Pipeline acquires the microphone source and delivers wire-format PCM16
// chunks to a callback on the source's capture cadence. Start and Stop are
// both idempotent.
type Pipeline struct {
	source Source
	cfg    PipelineConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPipeline creates a capture pipeline over the given source.
func NewPipeline(source Source, cfg PipelineConfig) *Pipeline {
	if cfg.WireSampleRate == 0 {
		cfg.WireSampleRate = 16000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		source: source,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "audioio.pipeline"),
	}
}

// Start begins continuous capture and invokes onChunk for each encoded
// chunk. Calling Start while already running is a no-op. onChunk receives
// mono PCM16 little-endian bytes at the configured wire rate.
func (p *Pipeline) Start(onChunk func(pcm16 []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if !micOwned.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: microphone held by another pipeline", ErrResourceUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.source.Start(ctx); err != nil {
		cancel()
		micOwned.Store(false)
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.pump(onChunk)

	p.logger.Debug("capture started", "wire_rate", p.cfg.WireSampleRate, "source", p.source.Name())
	return nil
}

// pump forwards source chunks to the callback until the stream closes.
func (p *Pipeline) pump(onChunk func([]byte)) {
	defer close(p.done)

	for chunk := range p.source.Stream() {
		samples := chunk.Samples
		if chunk.Channels == 2 {
			samples = StereoToMono(samples)
		}
		if chunk.SampleRate != p.cfg.WireSampleRate {
			samples = Resample(samples, chunk.SampleRate, p.cfg.WireSampleRate)
		}
		if len(samples) == 0 {
			continue
		}
		onChunk(SamplesToBytes(samples))
	}
}

// Stop halts capture and releases the microphone resource.
// Calling Stop while stopped is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	if err := p.source.Stop(); err != nil {
		p.logger.Warn("source stop failed", "error", err)
	}
	<-p.done

	p.running = false
	micOwned.Store(false)
	p.logger.Debug("capture stopped")
}

// Running reports whether the pipeline is currently capturing.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
