package device

import (
	"context"
	"sync"

	"github.com/lenslabs/go-lens/pkg/audioio"
)

// pushSource is an audioio.Source fed by a device's network receive loop
// rather than local hardware. Chunks are dropped when the consumer falls
// behind; realtime capture must not back up into the transport.
type pushSource struct {
	name string

	mu      sync.Mutex
	running bool
	stream  chan audioio.Chunk
}

func newPushSource(name string) *pushSource {
	return &pushSource{name: name}
}

func (s *pushSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stream = make(chan audioio.Chunk, 32)
	return nil
}

func (s *pushSource) push(c audioio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.stream <- c:
	default:
	}
}

func (s *pushSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stream)
	return nil
}

func (s *pushSource) Stream() <-chan audioio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *pushSource) Name() string { return s.name }

func (s *pushSource) Close() error { return s.Stop() }

var _ audioio.Source = (*pushSource)(nil)
