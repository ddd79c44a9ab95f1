package device

import (
	"context"
	"sync"
	"time"

	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/frames"
)

// Mock is an in-memory Device for tests. Reachability, stream readiness
// and frame delivery are all directly controllable.
type Mock struct {
	mu          sync.Mutex
	running     bool
	streamReady bool

	// ReachableErr, when set, is returned by Reachable.
	ReachableErr error

	// StartErr, when set, is returned by Start.
	StartErr error

	// ReadyAfter marks the stream ready this long after Start. Zero
	// means ready immediately.
	ReadyAfter time.Duration

	sampler *frames.Sampler
	audio   *audioio.MockSource

	// StartCalls and StopCalls count lifecycle invocations.
	StartCalls int
	StopCalls  int
}

// NewMock creates a mock device with a push-only audio source.
func NewMock() *Mock {
	return &Mock{
		sampler: frames.NewSampler(),
		audio:   audioio.NewMockSource(0),
	}
}

// Reachable implements Device.
func (m *Mock) Reachable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReachableErr
}

// Start implements Device.
func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	if m.StartErr != nil {
		return m.StartErr
	}
	m.running = true
	if m.ReadyAfter == 0 {
		m.streamReady = true
	} else {
		go m.becomeReady(m.ReadyAfter)
	}
	return nil
}

func (m *Mock) becomeReady(after time.Duration) {
	time.Sleep(after)
	m.mu.Lock()
	if m.running {
		m.streamReady = true
	}
	m.mu.Unlock()
}

// PushFrame delivers a frame as if the device had streamed it.
func (m *Mock) PushFrame(jpeg []byte) {
	m.sampler.UpdateJPEG(jpeg)
	m.mu.Lock()
	m.streamReady = true
	m.mu.Unlock()
}

// StreamReady implements Device.
func (m *Mock) StreamReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamReady
}

// Frames implements Device.
func (m *Mock) Frames() *frames.Sampler { return m.sampler }

// AudioSource implements Device.
func (m *Mock) AudioSource() audioio.Source { return m.audio }

// Audio returns the concrete mock source for pushing chunks in tests.
func (m *Mock) Audio() *audioio.MockSource { return m.audio }

// Name implements Device.
func (m *Mock) Name() string { return "mock" }

// Stop implements Device.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	m.running = false
	m.streamReady = false
	return nil
}

// Running reports whether the device is started.
func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

var _ Device = (*Mock)(nil)
