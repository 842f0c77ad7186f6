// Package practice implements live pronunciation scoring for one practice
// item and the drill that walks a learner through a practice set.
//
// A [Session] is a small state machine fed by speech recognition result
// batches. It recomputes the transcript and accuracy on every batch and locks
// itself the first time the learner reaches a perfect score, so that late
// batches cannot trigger a second completion. The caller owns everything with
// side effects: stopping the recognition stream, recording progress, and the
// timer that advances to the next item. [Drill] is that caller.
package practice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/lexicdys/pkg/scoring"
)

// ErrInvalidTarget is returned by [Start] and [Session.Retarget] for an empty
// or whitespace-only target text.
var ErrInvalidTarget = errors.New("practice: target text must not be empty")

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle means recognition is not running for this item.
	StateIdle State = iota

	// StateListening means result batches are being scored.
	StateListening

	// StateLocked means the item was completed and the session ignores
	// further batches until it is reset.
	StateLocked

	// StateAdvancing means the caller's advance timer has fired and the next
	// item is being prepared.
	StateAdvancing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateLocked:
		return "locked"
	case StateAdvancing:
		return "advancing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session scores live recognition output against one target text.
//
// A Session has a single owner and performs no internal locking.
type Session struct {
	target     string
	transcript string
	score      int
	locked     bool
	state      State
}

// Start returns a listening session for target.
func Start(target string) (*Session, error) {
	if strings.TrimSpace(target) == "" {
		return nil, ErrInvalidTarget
	}
	return &Session{target: target, state: StateListening}, nil
}

// Target returns the text the learner is asked to say.
func (s *Session) Target() string { return s.target }

// Transcript returns the transcript of the most recent applied batch.
func (s *Session) Transcript() string { return s.transcript }

// Score returns the accuracy of the most recent applied batch, or the score
// recorded by [Session.Complete].
func (s *Session) Score() int { return s.score }

// Locked reports whether the item has been completed.
func (s *Session) Locked() bool { return s.locked }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// OnFragmentBatch applies one batch of recognition fragments. The fragments
// are concatenated without a separator and replace the previous transcript.
//
// It returns true exactly when this batch completed the item. Batches that
// arrive while the session is locked or not listening are ignored.
func (s *Session) OnFragmentBatch(fragments []string) bool {
	if s.locked || s.state != StateListening {
		return false
	}
	s.transcript = strings.Join(fragments, "")
	s.score = scoring.Score(s.transcript, s.target)
	if s.score == 100 {
		s.lock()
		return true
	}
	return false
}

// Complete forces completion with score, for callers that accept a result the
// similarity score alone would not. It follows the same one-shot rule as
// [Session.OnFragmentBatch].
func (s *Session) Complete(score int) bool {
	if s.locked || s.state != StateListening {
		return false
	}
	s.score = min(max(score, 0), 100)
	s.lock()
	return true
}

func (s *Session) lock() {
	s.locked = true
	s.state = StateLocked
}

// BeginAdvance records that the caller's advance timer fired. It reports
// false unless the session was locked.
func (s *Session) BeginAdvance() bool {
	if s.state != StateLocked {
		return false
	}
	s.state = StateAdvancing
	return true
}

// Stop ends listening and moves the session to [StateIdle]. The transcript is
// discarded; the last score and the lock are kept, so a stopped completed item
// can no longer begin advancing.
func (s *Session) Stop() {
	s.transcript = ""
	s.state = StateIdle
}

// Reset returns the session to the state of a fresh [Start] for the same
// target.
func (s *Session) Reset() {
	s.transcript = ""
	s.score = 0
	s.locked = false
	s.state = StateListening
}

// Retarget resets the session for a new target text.
func (s *Session) Retarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return ErrInvalidTarget
	}
	s.target = target
	s.Reset()
	return nil
}

// HandleError classifies a recognition failure. Aborted recognition is the
// normal result of the caller cancelling a stream and yields nil. Any other
// failure is returned as a [*RecognitionError] and moves the session to
// [StateIdle] so the learner can retry.
func (s *Session) HandleError(err error) error {
	if err == nil || isAborted(err) {
		return nil
	}
	s.state = StateIdle
	return &RecognitionError{Category: Categorize(err), Err: err}
}
