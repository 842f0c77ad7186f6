package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts PCM from Source to Target format. It logs once on the
// first conversion so misconfigured clients are visible. Create one per
// stream; it is not designed for shared use across goroutines.
//
// Supported channel conversions are N→N, N→mono, and mono→stereo.
type Converter struct {
	Source Format
	Target Format

	warnOnce sync.Once
}

// NewPCMDecoder returns a Decoder for raw 16-bit PCM packets in src format.
func NewPCMDecoder(src, target Format) (*Converter, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("audio: source: %w", err)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("audio: target: %w", err)
	}
	if src.Channels != target.Channels && target.Channels != 1 && !(src.Channels == 1 && target.Channels == 2) {
		return nil, fmt.Errorf("audio: unsupported channel conversion %s -> %s", src, target)
	}
	return &Converter{Source: src, Target: target}, nil
}

// Decode implements Decoder.
func (c *Converter) Decode(packet []byte) ([]byte, error) {
	return c.Convert(packet)
}

// Convert converts pcm to the target format. If the formats already match,
// pcm is returned unchanged (zero allocation).
func (c *Converter) Convert(pcm []byte) ([]byte, error) {
	if len(pcm)%(2*c.Source.Channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrMisaligned, len(pcm), c.Source)
	}
	if c.Source == c.Target {
		return pcm, nil
	}

	c.warnOnce.Do(func() {
		slog.Debug("audio: converting client audio", "from", c.Source.String(), "to", c.Target.String())
	})

	// Down-mix before resampling so only one channel is interpolated.
	channels := c.Source.Channels
	if channels > 1 && c.Target.Channels == 1 {
		pcm = DownmixToMono(pcm, channels)
		channels = 1
	}
	if c.Source.SampleRate != c.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, c.Source.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, c.Source.SampleRate, c.Target.SampleRate)
		}
	}
	if channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm, nil
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// A trailing odd byte is ignored.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// DownmixToMono averages all channels of each interleaved frame. Uses int32
// arithmetic so the sum cannot overflow.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*frameBytes + ch*2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Float32 converts 16-bit PCM to samples in [-1, 1), the input format of
// in-process recognizers. A trailing odd byte is ignored.
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is not positive, the input is
// returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation on each channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx
		if srcIdx+1 < srcFrames {
			next = srcIdx + 1
		}
		for ch := range 2 {
			s0 := sampleAt(pcm, srcIdx*2+ch)
			s1 := sampleAt(pcm, next*2+ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			out[i*4+ch*2] = byte(v)
			out[i*4+ch*2+1] = byte(v >> 8)
		}
	}
	return out
}

// sampleAt returns the i-th little-endian int16 sample of pcm.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
