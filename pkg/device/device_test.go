package device

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lenslabs/go-lens/pkg/audioio"
)

func TestMockDeviceLifecycle(t *testing.T) {
	m := NewMock()

	if m.StreamReady() {
		t.Error("stream must not be ready before start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !m.StreamReady() {
		t.Error("mock stream should be ready immediately by default")
	}

	m.PushFrame([]byte{0xFF, 0xD8, 0xFF})
	if got := m.Frames().SampleEncoded(); got == nil {
		t.Error("pushed frame not sampled")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if m.StreamReady() {
		t.Error("stream must reset on stop")
	}
	if m.StartCalls != 1 || m.StopCalls != 1 {
		t.Errorf("unexpected call counts: start=%d stop=%d", m.StartCalls, m.StopCalls)
	}
}

func TestMockDeviceDelayedReadiness(t *testing.T) {
	m := NewMock()
	m.ReadyAfter = 30 * time.Millisecond

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { m.Stop() })

	if m.StreamReady() {
		t.Error("stream ready too early")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.StreamReady() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("stream never became ready")
}

func TestMockDeviceErrors(t *testing.T) {
	m := NewMock()
	wantReach := errors.New("no route")
	wantStart := errors.New("busy")
	m.ReachableErr = wantReach
	m.StartErr = wantStart

	if err := m.Reachable(context.Background()); !errors.Is(err, wantReach) {
		t.Errorf("expected reachability error, got %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, wantStart) {
		t.Errorf("expected start error, got %v", err)
	}
}

func TestPushSourceDropsWhenFull(t *testing.T) {
	s := newPushSource("test")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	chunk := audioio.Chunk{Samples: []int16{1}, SampleRate: 48000, Channels: 1}
	for i := 0; i < 100; i++ {
		s.push(chunk) // must never block
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	n := 0
	for range s.Stream() {
		n++
	}
	if n == 0 || n > 32 {
		t.Errorf("expected 1..32 buffered chunks, got %d", n)
	}
}

func TestPushSourceIgnoredWhenStopped(t *testing.T) {
	s := newPushSource("test")
	s.push(audioio.Chunk{Samples: []int16{1}}) // before start: dropped

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	s.Stop()
	s.push(audioio.Chunk{Samples: []int16{1}}) // after stop: dropped, no panic
}

func TestGlassesReachable(t *testing.T) {
	t.Run("listening port", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen failed: %v", err)
		}
		defer ln.Close()

		host, port, _ := net.SplitHostPort(ln.Addr().String())
		cfg := DefaultGlassesConfig(host)
		cfg.SignallingPort = port
		g := NewGlasses(cfg)

		if err := g.Reachable(context.Background()); err != nil {
			t.Errorf("expected reachable, got %v", err)
		}
	})

	t.Run("closed port", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen failed: %v", err)
		}
		host, port, _ := net.SplitHostPort(ln.Addr().String())
		ln.Close()

		cfg := DefaultGlassesConfig(host)
		cfg.SignallingPort = port
		g := NewGlasses(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := g.Reachable(ctx); err == nil {
			t.Error("expected unreachable")
		}
	})
}

func TestDecodeH264StillRejectsShortInput(t *testing.T) {
	if got := decodeH264Still([]byte{0, 0, 0, 1}); got != nil {
		t.Error("short input must not produce a frame")
	}
}
