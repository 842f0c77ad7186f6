// Package opus decodes Opus packets sent by browsers into PCM for the speech
// providers. It uses the libopus bindings from layeh.com/gopus.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/lexicdys/pkg/audio"
)

// Opus always decodes at 48 kHz internally.
const (
	SampleRate = 48000

	// maxFrameSize is the number of samples per channel in the longest legal
	// Opus packet (120 ms).
	maxFrameSize = SampleRate * 120 / 1000
)

// Decoder decodes a single Opus stream. Each stream needs its own decoder so
// that decoder state carries across consecutive packets. It implements
// audio.Decoder.
type Decoder struct {
	dec  *gopus.Decoder
	conv *audio.Converter
}

// NewDecoder creates a Decoder for an Opus stream with the given channel
// count whose output is converted to target.
func NewDecoder(channels int, target audio.Format) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: channels must be 1 or 2, got %d", channels)
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	conv, err := audio.NewPCMDecoder(audio.Format{SampleRate: SampleRate, Channels: channels}, target)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}
	return &Decoder{dec: dec, conv: conv}, nil
}

// Decode decodes one Opus packet into little-endian int16 PCM in the target
// format.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return d.conv.Convert(int16sToBytes(pcm))
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

var _ audio.Decoder = (*Decoder)(nil)
