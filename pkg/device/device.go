// Package device abstracts the capture hardware the assistant sees and
// hears through: the smart glasses (WebRTC receiver over the vendor's
// GStreamer signalling protocol), a local webcam for development, and an
// in-memory mock for tests.
package device

import (
	"context"

	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/frames"
)

// Device is one capture endpoint delivering video frames and microphone
// audio.
type Device interface {
	// Start begins streaming. Frames land in the sampler returned by
	// Frames; audio chunks flow from AudioSource once its pipeline runs.
	Start(ctx context.Context) error

	// Stop halts streaming and releases the hardware.
	Stop() error

	// Reachable probes whether the device can be contacted at all,
	// without starting a stream.
	Reachable(ctx context.Context) error

	// StreamReady reports whether at least one frame has arrived.
	StreamReady() bool

	// Frames returns the freshest-frame cell fed by this device.
	Frames() *frames.Sampler

	// AudioSource returns the microphone source for this device.
	AudioSource() audioio.Source

	// Name identifies the device kind ("glasses", "webcam", "mock").
	Name() string
}
