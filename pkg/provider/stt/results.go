package stt

import "slices"

// ResultList accumulates the result slots of one utterance and produces the
// [Event] a provider publishes after each update.
//
// An utterance is a sequence of final slots optionally followed by a single
// trailing interim slot. An interim update replaces the trailing interim slot
// (or opens a new one); a final update commits it. The zero value is ready to
// use. ResultList is not safe for concurrent use; providers confine it to
// their read loop.
type ResultList struct {
	results []Result
}

// Interim records a non-final hypothesis for the open slot and returns the
// event describing the change.
func (l *ResultList) Interim(transcript string, confidence float64) Event {
	return l.put(Result{Transcript: transcript, Confidence: confidence})
}

// Final commits transcript as the open slot's final result and returns the
// event describing the change.
func (l *ResultList) Final(transcript string, confidence float64) Event {
	return l.put(Result{Transcript: transcript, Confidence: confidence, IsFinal: true})
}

// Len returns the number of slots, including a trailing interim slot.
func (l *ResultList) Len() int { return len(l.results) }

// Reset discards all slots.
func (l *ResultList) Reset() { l.results = nil }

func (l *ResultList) put(r Result) Event {
	idx := len(l.results)
	if idx > 0 && !l.results[idx-1].IsFinal {
		idx--
		l.results[idx] = r
	} else {
		l.results = append(l.results, r)
	}
	return Event{
		Kind:        EventResult,
		ResultIndex: idx,
		Results:     slices.Clone(l.results),
	}
}
