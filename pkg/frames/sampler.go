// Package frames holds the freshest video frame from the wearable and
// exposes it on demand to the realtime session. It is a single-slot
// latest-value cell, not a queue: the backend only ever wants the newest
// frame, never a backlog.
package frames

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"
)

// Frame is one captured video frame, already encoded for transport.
type Frame struct {
	// JPEG holds the encoded frame bytes.
	JPEG []byte

	// CapturedAt is when the frame was captured.
	CapturedAt time.Time
}

// Sampler is the single-slot frame cell. Update and SampleEncoded may be
// called from different goroutines; the swap is atomic, never a
// lock-protected copy race.
type Sampler struct {
	current atomic.Pointer[Frame]
}

// NewSampler creates an empty sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Update replaces the held frame. Last write wins, O(1).
func (s *Sampler) Update(f Frame) {
	s.current.Store(&f)
}

// UpdateJPEG replaces the held frame with pre-encoded JPEG bytes.
func (s *Sampler) UpdateJPEG(data []byte) {
	s.Update(Frame{JPEG: data, CapturedAt: time.Now()})
}

// SampleEncoded returns the current frame's transport bytes, or nil if no
// frame has ever been set.
func (s *Sampler) SampleEncoded() []byte {
	f := s.current.Load()
	if f == nil {
		return nil
	}
	return f.JPEG
}

// Age returns how old the current frame is, or false if none is held.
func (s *Sampler) Age() (time.Duration, bool) {
	f := s.current.Load()
	if f == nil {
		return 0, false
	}
	return time.Since(f.CapturedAt), true
}

// EncodeJPEG encodes a raw image for devices that deliver uncompressed
// frames. Quality 0 uses the jpeg package default.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var opts *jpeg.Options
	if quality > 0 {
		opts = &jpeg.Options{Quality: quality}
	}
	if err := jpeg.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
