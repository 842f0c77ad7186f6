package scoring

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.90
)

// PhoneticOption is a functional option for configuring a [PhoneticMatcher].
type PhoneticOption func(*PhoneticMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required when the
// spoken word and the target share a Double Metaphone code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(m *PhoneticMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score accepted when no
// Double Metaphone code overlaps. Default: 0.90.
func WithFuzzyThreshold(threshold float64) PhoneticOption {
	return func(m *PhoneticMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// PhoneticMatcher decides whether a recognised word sounds like a target
// word. Speech engines transcribe homophones ("two" as "too", "knight" as
// "night") with perfect confidence, so a learner who pronounced a flashcard
// correctly can still receive a low [Score].
//
// The check runs in two stages:
//
//  1. Double Metaphone codes are computed for both words. If any primary or
//     secondary code overlaps, the pair is accepted when its Jaro-Winkler
//     similarity reaches the phonetic threshold.
//  2. Without a code overlap the pair is accepted only when Jaro-Winkler
//     similarity reaches the stricter fuzzy threshold.
//
// PhoneticMatcher is read-only after construction and safe for concurrent use.
type PhoneticMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewPhoneticMatcher returns a [PhoneticMatcher] configured with opts.
func NewPhoneticMatcher(opts ...PhoneticOption) *PhoneticMatcher {
	m := &PhoneticMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match reports whether spoken sounds like target and returns the
// Jaro-Winkler similarity of their normalized forms. Multi-word input is
// compared token by token after whitespace is removed, so "note book" can
// match "notebook". Empty input never matches.
func (m *PhoneticMatcher) Match(spoken, target string) (confidence float64, matched bool) {
	a := strings.Join(strings.Fields(Normalize(spoken)), "")
	b := strings.Join(strings.Fields(Normalize(target)), "")
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}

	jw := matchr.JaroWinkler(a, b, false)
	if codesOverlap(codesFor(a), codesFor(b)) {
		if jw >= m.phoneticThreshold {
			return jw, true
		}
		return 0, false
	}
	if jw >= m.fuzzyThreshold {
		return jw, true
	}
	return 0, false
}

// codesFor returns the non-empty Double Metaphone codes of word.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
