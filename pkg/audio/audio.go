// Package audio turns learner microphone audio into the 16-bit PCM stream the
// speech providers expect.
//
// Browsers capture audio at whatever rate the device prefers (usually
// 44.1 or 48 kHz, sometimes stereo). A [Decoder] accepts one client packet at
// a time and returns PCM in the target [Format]. [NewPCMDecoder] handles raw
// little-endian int16 PCM; package opus handles Opus packets.
package audio

import (
	"errors"
	"fmt"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Bounds of a usable PCM format. Resampling cost grows with the ratio between
// rates, so rates outside this range are refused.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Validate reports whether f describes a usable PCM format.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio: sample rate %d is out of range [%d, %d]", f.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("audio: channels %d is out of range [1, %d]", f.Channels, MaxChannels)
	}
	return nil
}

// Decoder converts one client audio packet into PCM in the decoder's target
// format. Implementations keep per-stream state and are not safe for
// concurrent use.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

// ErrMisaligned is returned for PCM packets that do not hold a whole number
// of sample frames.
var ErrMisaligned = errors.New("audio: packet is not aligned to whole sample frames")

// Encoding names the wire format of client audio packets.
type Encoding string

const (
	// EncodingPCM is raw 16-bit little-endian signed PCM.
	EncodingPCM Encoding = "pcm16"
	// EncodingOpus is one Opus packet per message.
	EncodingOpus Encoding = "opus"
)

// IsValid reports whether e is a known encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM || e == EncodingOpus
}
