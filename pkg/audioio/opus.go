package audioio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes the wearable's compressed mic stream into PCM16.
// The glasses transmit 20ms Opus frames; one decoder instance is bound to
// a single stream and is not safe for concurrent use.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
	pcm        []int16
}

// NewOpusDecoder creates a decoder for the given output rate and channels.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audioio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		// 120ms at 48kHz stereo is the largest frame Opus permits
		pcm: make([]int16, 5760*2),
	}, nil
}

// Decode decodes one Opus frame into a PCM16 chunk.
func (d *OpusDecoder) Decode(frame []byte) (Chunk, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return Chunk{}, fmt.Errorf("audioio: opus decode: %w", err)
	}
	samples := make([]int16, n*d.channels)
	copy(samples, d.pcm[:n*d.channels])
	return Chunk{
		Samples:    samples,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}

// SampleRate returns the decoder's output sample rate.
func (d *OpusDecoder) SampleRate() int {
	return d.sampleRate
}
