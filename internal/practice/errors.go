package practice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/lexicdys/pkg/provider/stt"
)

var (
	// ErrLocked is returned when the current item is completed and waiting
	// for the advance timer.
	ErrLocked = errors.New("practice: item completed, waiting to advance")

	// ErrFinished is returned once every item of the practice set is done.
	ErrFinished = errors.New("practice: practice set finished")

	// ErrNotListening is returned by [Drill.SendAudio] without an active
	// recognition stream.
	ErrNotListening = errors.New("practice: not listening")

	// ErrClosed is returned after [Drill.Close].
	ErrClosed = errors.New("practice: drill closed")
)

// Category is the learner-facing class of a recognition failure.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryPermission  Category = "permission"
	CategoryService     Category = "service"
	CategoryNoSpeech    Category = "no-speech"
	CategoryAudio       Category = "audio"
	CategoryLanguage    Category = "language"
	CategoryUnavailable Category = "unavailable"
	CategoryOther       Category = "other"
)

// Message returns a short sentence suitable for showing to the learner.
func (c Category) Message() string {
	switch c {
	case CategoryNetwork:
		return "Speech recognition could not reach the network."
	case CategoryPermission:
		return "Microphone access was denied."
	case CategoryService:
		return "The speech service refused the request."
	case CategoryNoSpeech:
		return "No speech was detected. Try again."
	case CategoryAudio:
		return "Audio could not be captured."
	case CategoryLanguage:
		return "The selected language is not supported."
	case CategoryUnavailable:
		return "Speech recognition is not available."
	default:
		return "Speech recognition failed."
	}
}

// RecognitionError is a recognition failure reported to the learner.
type RecognitionError struct {
	Category Category
	Err      error
}

// Error implements error.
func (e *RecognitionError) Error() string {
	return fmt.Sprintf("practice: recognition failed (%s): %v", e.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecognitionError) Unwrap() error { return e.Err }

// Categorize maps err onto a [Category].
func Categorize(err error) Category {
	if errors.Is(err, stt.ErrUnavailable) {
		return CategoryUnavailable
	}
	var re *stt.RecognitionError
	if !errors.As(err, &re) {
		return CategoryOther
	}
	switch re.Code {
	case stt.CodeNetwork:
		return CategoryNetwork
	case stt.CodeNotAllowed:
		return CategoryPermission
	case stt.CodeServiceNotAllowed:
		return CategoryService
	case stt.CodeNoSpeech:
		return CategoryNoSpeech
	case stt.CodeAudioCapture:
		return CategoryAudio
	case stt.CodeLanguageNotSupported:
		return CategoryLanguage
	default:
		return CategoryOther
	}
}

func isAborted(err error) bool {
	return stt.IsAborted(err)
}
