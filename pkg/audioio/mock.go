package audioio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// MockSource is an in-memory Source for testing. It emits a sine tone at a
// fixed chunk cadence, or chunks pushed explicitly via Push.
type MockSource struct {
	mu      sync.Mutex
	running bool
	stream  chan Chunk
	stop    chan struct{}

	// SampleRate of generated chunks.
	SampleRate int

	// ChunkMs is the generated chunk duration in milliseconds.
	ChunkMs int

	// Interval between generated chunks. Zero disables generation;
	// chunks then come only from Push.
	Interval time.Duration

	// StartErr, when set, is returned by Start to simulate a busy or
	// denied microphone.
	StartErr error
}

// NewMockSource creates a mock source that generates 20ms chunks at 16kHz
// every interval. Pass interval 0 for a push-only source.
func NewMockSource(interval time.Duration) *MockSource {
	return &MockSource{
		SampleRate: 16000,
		ChunkMs:    20,
		Interval:   interval,
	}
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return m.StartErr
	}
	if m.running {
		return errors.New("audioio: mock source already started")
	}

	m.running = true
	m.stream = make(chan Chunk, 16)
	m.stop = make(chan struct{})

	if m.Interval > 0 {
		go m.generate(ctx)
	}
	return nil
}

func (m *MockSource) generate(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Push(m.tone())
		}
	}
}

// tone produces one chunk of a 440Hz sine wave.
func (m *MockSource) tone() Chunk {
	n := m.SampleRate * m.ChunkMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.SampleRate)))
	}
	return Chunk{Samples: samples, SampleRate: m.SampleRate, Channels: 1}
}

// Push delivers a chunk to the stream. Dropped if the source is stopped
// or the buffer is full.
func (m *MockSource) Push(c Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	select {
	case m.stream <- c:
	default:
	}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stop)
	close(m.stream)
	return nil
}

// Stream implements Source.
func (m *MockSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Name implements Source.
func (m *MockSource) Name() string {
	return "mock"
}

// Close implements Source.
func (m *MockSource) Close() error {
	return m.Stop()
}

// Ensure MockSource implements Source.
var _ Source = (*MockSource)(nil)
