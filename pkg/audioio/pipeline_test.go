package audioio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPipelineStartStop(t *testing.T) {
	t.Run("delivers wire format chunks", func(t *testing.T) {
		src := NewMockSource(0)
		src.SampleRate = 48000
		p := NewPipeline(src, DefaultPipelineConfig())

		var mu sync.Mutex
		var chunks [][]byte
		err := p.Start(func(pcm16 []byte) {
			mu.Lock()
			chunks = append(chunks, pcm16)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer p.Stop()

		// 20ms at 48kHz
		src.Push(Chunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1})

		deadline := time.After(time.Second)
		for {
			mu.Lock()
			n := len(chunks)
			mu.Unlock()
			if n > 0 {
				break
			}
			select {
			case <-deadline:
				t.Fatal("no chunk delivered")
			case <-time.After(5 * time.Millisecond):
			}
		}

		mu.Lock()
		defer mu.Unlock()
		// 20ms at 16kHz mono PCM16 = 320 samples = 640 bytes
		if len(chunks[0]) != 640 {
			t.Errorf("expected 640 bytes, got %d", len(chunks[0]))
		}
	})

	t.Run("start is idempotent", func(t *testing.T) {
		src := NewMockSource(0)
		p := NewPipeline(src, DefaultPipelineConfig())

		if err := p.Start(func([]byte) {}); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer p.Stop()

		if err := p.Start(func([]byte) {}); err != nil {
			t.Errorf("second start should be a no-op, got %v", err)
		}
		if !p.Running() {
			t.Error("pipeline should be running")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		src := NewMockSource(0)
		p := NewPipeline(src, DefaultPipelineConfig())

		p.Stop() // never started

		if err := p.Start(func([]byte) {}); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		p.Stop()
		p.Stop()

		if p.Running() {
			t.Error("pipeline should be stopped")
		}
	})

	t.Run("source failure maps to resource unavailable", func(t *testing.T) {
		src := NewMockSource(0)
		src.StartErr = errors.New("device busy")
		p := NewPipeline(src, DefaultPipelineConfig())

		var called bool
		err := p.Start(func([]byte) { called = true })
		if !errors.Is(err, ErrResourceUnavailable) {
			t.Errorf("expected ErrResourceUnavailable, got %v", err)
		}
		if called {
			t.Error("onChunk must not be invoked when start fails")
		}
		if p.Running() {
			t.Error("pipeline should not be running after failed start")
		}
	})

	t.Run("microphone is exclusively owned", func(t *testing.T) {
		first := NewPipeline(NewMockSource(0), DefaultPipelineConfig())
		second := NewPipeline(NewMockSource(0), DefaultPipelineConfig())

		if err := first.Start(func([]byte) {}); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer first.Stop()

		if err := second.Start(func([]byte) {}); !errors.Is(err, ErrResourceUnavailable) {
			t.Errorf("expected ErrResourceUnavailable, got %v", err)
		}

		first.Stop()
		if err := second.Start(func([]byte) {}); err != nil {
			t.Errorf("start after release failed: %v", err)
		}
		second.Stop()
	})
}

func TestPipelineGeneratedCadence(t *testing.T) {
	src := NewMockSource(10 * time.Millisecond)
	p := NewPipeline(src, DefaultPipelineConfig())

	var mu sync.Mutex
	count := 0
	if err := p.Start(func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count < 3 {
		t.Errorf("expected several chunks, got %d", count)
	}
}
