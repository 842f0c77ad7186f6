package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// stopFlushTimeout bounds the final inference after Stop.
	stopFlushTimeout = 30 * time.Second
)

// inferFunc transcribes one utterance of 16-bit PCM audio.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// segmenter splits a PCM stream into utterances using an energy-based silence
// detector. It is not safe for concurrent use.
type segmenter struct {
	sampleRate         int
	channels           int
	silenceThresholdMs int
	maxBufferBytes     int

	buffer    []byte // accumulated PCM for the current utterance
	hadSpeech bool   // true once any high-energy chunk has been buffered
	silenceMs int    // consecutive silence accumulated after speech (ms)
}

func newSegmenter(sampleRate, channels, silenceThresholdMs, maxBufferDurationMs int) *segmenter {
	// bytesPerMs: PCM bytes corresponding to 1 ms of audio.
	bytesPerMs := sampleRate * channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz, mono, 16-bit
	}
	return &segmenter{
		sampleRate:         sampleRate,
		channels:           channels,
		silenceThresholdMs: silenceThresholdMs,
		maxBufferBytes:     maxBufferDurationMs * bytesPerMs,
	}
}

// push adds chunk to the current utterance. It returns the utterance's PCM
// once enough trailing silence has accumulated or the buffer limit is hit, and
// nil otherwise. Leading silence is discarded.
func (g *segmenter) push(chunk []byte) []byte {
	if computeRMS(chunk) < defaultRMSThreshold {
		if !g.hadSpeech {
			return nil
		}
		g.silenceMs += chunkDurationMs(chunk, g.sampleRate, g.channels)
		g.buffer = append(g.buffer, chunk...)
		if g.silenceMs >= g.silenceThresholdMs {
			return g.flush()
		}
		return nil
	}

	g.hadSpeech = true
	g.silenceMs = 0
	g.buffer = append(g.buffer, chunk...)
	if g.maxBufferBytes > 0 && len(g.buffer) >= g.maxBufferBytes {
		return g.flush()
	}
	return nil
}

// flush returns the buffered utterance, or nil if it contains no speech, and
// resets the segmenter.
func (g *segmenter) flush() []byte {
	pcm := g.buffer
	speech := g.hadSpeech
	g.buffer = nil
	g.hadSpeech = false
	g.silenceMs = 0
	if !speech || len(pcm) == 0 {
		return nil
	}
	return pcm
}

// session is a live whisper transcription session shared by the HTTP and the
// native provider. It implements stt.SessionHandle. All mutable state that
// drives silence detection and buffering is confined to the processLoop
// goroutine.
type session struct {
	infer      inferFunc
	seg        *segmenter
	continuous bool
	interim    bool

	audioCh chan []byte
	events  chan stt.Event

	// stopping is closed by Stop, by Abort, and when the loop exits.
	stopping chan struct{}
	// closed is closed by Close: pending events are dropped.
	closed chan struct{}
	cancel context.CancelFunc

	stopOnce  sync.Once
	abortOnce sync.Once
	closeOnce sync.Once
	aborted   atomic.Bool
	wg        sync.WaitGroup

	results stt.ResultList
}

// startSession launches the processing goroutine for a new session.
func startSession(ctx context.Context, infer inferFunc, cfg stt.StreamConfig, seg *segmenter) *session {
	s, ctx := newSession(ctx, infer, cfg, seg)
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// newSession returns an idle session and the context its loop runs under.
func newSession(ctx context.Context, infer inferFunc, cfg stt.StreamConfig, seg *segmenter) (*session, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		infer:      infer,
		seg:        seg,
		continuous: cfg.Continuous,
		interim:    cfg.InterimResults,
		audioCh:    make(chan []byte, 256),
		events:     make(chan stt.Event, 64),
		stopping:   make(chan struct{}),
		closed:     make(chan struct{}),
		cancel:     cancel,
	}
	return s, ctx
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering. Calling SendAudio after the session stopped
// returns an error.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.stopping:
		return fmt.Errorf("whisper: %w", stt.ErrSessionClosed)
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.stopping:
		return fmt.Errorf("whisper: %w", stt.ErrSessionClosed)
	}
}

// Events returns the session event channel.
func (s *session) Events() <-chan stt.Event { return s.events }

// Stop transcribes any buffered speech and then ends the session.
func (s *session) Stop() error {
	s.markStopping()
	return nil
}

// Abort discards buffered audio and cancels in-flight inference.
func (s *session) Abort() error {
	s.abortOnce.Do(func() {
		s.aborted.Store(true)
		s.markStopping()
		s.cancel()
	})
	return nil
}

// Close aborts the session and waits for its goroutine to exit. Calling Close
// more than once is safe and returns nil.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.Abort()
		close(s.closed)
		s.wg.Wait()
	})
	return nil
}

func (s *session) markStopping() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, inference dispatch, and event publication.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer s.markStopping()
	defer s.cancel()

	for {
		select {
		case <-ctx.Done():
			s.end(stt.NewError(stt.CodeAborted, "session aborted"))
			return

		case <-s.stopping:
			if s.aborted.Load() {
				s.end(stt.NewError(stt.CodeAborted, "session aborted"))
				return
			}
			fc, cancel := context.WithTimeout(ctx, stopFlushTimeout)
			done := s.drain(fc) || s.transcribe(fc, s.seg.flush())
			cancel()
			if !done {
				s.end(nil)
			}
			return

		case chunk := <-s.audioCh:
			if s.transcribe(ctx, s.seg.push(chunk)) {
				return
			}
		}
	}
}

// drain moves audio that was queued before Stop into the segmenter,
// transcribing completed utterances under ctx. It reports whether the session
// has ended.
func (s *session) drain(ctx context.Context) (ended bool) {
	for {
		select {
		case chunk := <-s.audioCh:
			if s.transcribe(ctx, s.seg.push(chunk)) {
				return true
			}
		default:
			return false
		}
	}
}

// transcribe runs inference on pcm and publishes the result. It reports
// whether the session has ended as a consequence. A nil pcm is a no-op.
func (s *session) transcribe(ctx context.Context, pcm []byte) (ended bool) {
	if pcm == nil {
		return false
	}
	text, err := s.infer(ctx, pcm)
	if err != nil {
		var rerr *stt.RecognitionError
		switch {
		case s.aborted.Load() || ctx.Err() != nil:
			rerr = stt.NewError(stt.CodeAborted, "session aborted")
		case errors.As(err, &rerr):
		default:
			rerr = stt.NewError(stt.CodeNetwork, "%v", err)
		}
		s.end(rerr)
		return true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	// whisper.cpp cannot produce true partials; an interim copy keeps
	// interim-driven consumers responsive.
	if s.interim {
		s.publish(s.results.Interim(text, 0))
	}
	s.publish(s.results.Final(text, 0))

	if !s.continuous {
		s.end(nil)
		return true
	}
	return false
}

// end publishes rerr (if any) followed by the terminal End event.
func (s *session) end(rerr *stt.RecognitionError) {
	if rerr != nil {
		s.publish(stt.ErrorEvent(rerr))
	}
	s.publish(stt.Event{Kind: stt.EventEnd})
}

// publish delivers ev unless the session has been closed.
func (s *session) publish(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM audio chunk in milliseconds,
// based on the sample rate and channel count. Returns 0 for invalid inputs.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}

var _ stt.SessionHandle = (*session)(nil)
