// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or a
// local whisper.cpp model) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits an ordered stream of [Event] values describing one
// utterance.
//
// Every result event carries the complete result list recognised so far
// together with a ResultIndex watermark marking the first result that changed
// in this event. Consumers that only care about the not-yet-finalised tail of
// the utterance read Results[ResultIndex:] (see [Event.Fragments]). A session
// always terminates with exactly one [EventEnd], after which the channel is
// closed. Failures are delivered in-band as [EventError] events carrying a
// [*RecognitionError].
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition behaviour for a new
// STT session. All fields must be compatible with what the underlying
// provider supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (raw
	// microphone capture resampled for STT), 48000 (decoded Opus).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// Continuous keeps the session open across pauses. When false the session
	// ends on its own after the first final result.
	Continuous bool

	// InterimResults enables low-latency non-final results. When false only
	// final results are published.
	InterimResults bool
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio to the
	// provider. Calling SendAudio after Stop, Abort, or Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the read-only event channel for this session. The
	// channel is closed after the terminal [EventEnd] event.
	Events() <-chan Event

	// Stop asks the provider to stop listening. Audio already delivered is
	// still recognised and its results published before [EventEnd]. Stop does
	// not guarantee that no further result events arrive.
	Stop() error

	// Abort stops listening immediately and discards pending audio. The
	// session publishes an [EventError] with code [CodeAborted] followed by
	// [EventEnd].
	Abort() error

	// Close releases all resources associated with the session. It implies
	// Abort when the session is still running. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per connected learner).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
