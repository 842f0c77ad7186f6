package stt

import (
	"errors"
	"fmt"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventResult carries an updated result list.
	EventResult EventKind = iota

	// EventError reports a recognition failure. Err is always set.
	EventError

	// EventEnd is the final event of a session.
	EventEnd
)

// String returns a short lower-case name for k, used in logs.
func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Result is one slot of an utterance's result list.
type Result struct {
	// Transcript is the most likely transcription for this slot.
	Transcript string

	// Confidence is the provider's confidence (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// IsFinal is true once the provider has committed to this slot. A final
	// slot never changes again.
	IsFinal bool
}

// Event is a single notification from a [SessionHandle].
type Event struct {
	Kind EventKind

	// ResultIndex is the index of the first result in Results that changed in
	// this event. Results before it are final and unchanged.
	ResultIndex int

	// Results is a snapshot of the full result list for the utterance. It is
	// only set for [EventResult] and must not be modified by receivers.
	Results []Result

	// Err is set for [EventError].
	Err *RecognitionError
}

// Fragments returns the transcripts of Results[ResultIndex:] in order. It
// returns nil for non-result events and for out-of-range watermarks.
func (e Event) Fragments() []string {
	if e.Kind != EventResult || e.ResultIndex < 0 || e.ResultIndex > len(e.Results) {
		return nil
	}
	out := make([]string, 0, len(e.Results)-e.ResultIndex)
	for _, r := range e.Results[e.ResultIndex:] {
		out = append(out, r.Transcript)
	}
	return out
}

// HasFinal reports whether any result at or after ResultIndex is final.
func (e Event) HasFinal() bool {
	if e.Kind != EventResult || e.ResultIndex < 0 {
		return false
	}
	for i := e.ResultIndex; i < len(e.Results); i++ {
		if e.Results[i].IsFinal {
			return true
		}
	}
	return false
}

// ErrorCode categorises a [RecognitionError].
type ErrorCode string

const (
	// CodeAborted means the session was cancelled on purpose (Abort/Close).
	CodeAborted ErrorCode = "aborted"

	// CodeNetwork means the provider could not be reached or the connection
	// dropped mid-stream.
	CodeNetwork ErrorCode = "network"

	// CodeNotAllowed means the learner denied microphone access.
	CodeNotAllowed ErrorCode = "not-allowed"

	// CodeServiceNotAllowed means the provider rejected the credentials or
	// the requested configuration.
	CodeServiceNotAllowed ErrorCode = "service-not-allowed"

	// CodeNoSpeech means no speech was detected before the provider gave up.
	CodeNoSpeech ErrorCode = "no-speech"

	// CodeAudioCapture means the audio could not be decoded or captured.
	CodeAudioCapture ErrorCode = "audio-capture"

	// CodeLanguageNotSupported means the requested language is unavailable.
	CodeLanguageNotSupported ErrorCode = "language-not-supported"

	// CodeOther is any other failure.
	CodeOther ErrorCode = "other"
)

// RecognitionError is the error carried by an [EventError].
type RecognitionError struct {
	Code    ErrorCode
	Message string
}

// Error implements error.
func (e *RecognitionError) Error() string {
	if e.Message == "" {
		return "stt: recognition error: " + string(e.Code)
	}
	return fmt.Sprintf("stt: recognition error: %s: %s", e.Code, e.Message)
}

// NewError returns a [*RecognitionError] with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *RecognitionError {
	return &RecognitionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorEvent wraps err in an [EventError] event.
func ErrorEvent(err *RecognitionError) Event {
	return Event{Kind: EventError, Err: err}
}

// IsAborted reports whether err is a [*RecognitionError] with [CodeAborted].
func IsAborted(err error) bool {
	var re *RecognitionError
	return errors.As(err, &re) && re.Code == CodeAborted
}

// ErrUnavailable is returned when no speech recognition capability is
// configured. Callers must not offer speech practice in that case.
var ErrUnavailable = errors.New("stt: speech recognition unavailable")

// ErrSessionClosed is returned by SendAudio once a session has stopped.
var ErrSessionClosed = errors.New("stt: session is closed")
