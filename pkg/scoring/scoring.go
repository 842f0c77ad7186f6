// Package scoring implements the speech-matching accuracy scorer used by
// every Lexicdys practice screen.
//
// [Score] compares what the learner said (the transcript produced by a
// speech-to-text provider) with the text they were asked to read and maps the
// result to an integer percentage in [0, 100]. Both strings are first reduced
// to a [Normalize]d form (lower-cased, a fixed punctuation set removed,
// surrounding whitespace trimmed); the score is then derived from the
// Levenshtein edit distance between the normalized forms relative to the
// longer of the two.
//
// All functions in this package are pure and safe for concurrent use.
package scoring

import (
	"math"
	"strings"
)

// punctuation lists every character removed by [Normalize].
const punctuation = ".,/#!$%^&*;:{}=-_`~()"

// stripper deletes the punctuation set in a single pass.
var stripper = func() *strings.Replacer {
	pairs := make([]string, 0, len(punctuation)*2)
	for _, r := range punctuation {
		pairs = append(pairs, string(r), "")
	}
	return strings.NewReplacer(pairs...)
}()

// Normalize returns the comparison form of s: lower-cased, with the
// characters . , / # ! $ % ^ & * ; : { } = - _ ` ~ ( ) removed and leading and
// trailing whitespace trimmed. Inner whitespace is preserved as-is.
func Normalize(s string) string {
	return strings.TrimSpace(stripper.Replace(strings.ToLower(s)))
}

// Score returns how closely spoken matches target as an integer percentage.
//
// The empty check runs on the raw inputs before normalization: if either
// string is empty the result is 0, so Score("", "") is 0 rather than 100.
// Identical normalized forms score 100. Otherwise the score is
//
//	round((maxLen - distance) / maxLen * 100)
//
// where distance is the rune-level Levenshtein distance between the
// normalized strings and maxLen the rune length of the longer one. Halves
// round away from zero. The result is always within [0, 100].
func Score(spoken, target string) int {
	if spoken == "" || target == "" {
		return 0
	}

	a := []rune(Normalize(spoken))
	b := []rune(Normalize(target))
	if string(a) == string(b) {
		return 100
	}

	d := distance(a, b)
	maxLen := max(len(a), len(b))
	return int(math.Round(float64(maxLen-d) / float64(maxLen) * 100))
}

// Distance returns the Levenshtein edit distance between a and b counted in
// Unicode code points. Insertions, deletions, and substitutions each cost 1.
// No normalization is applied.
func Distance(a, b string) int {
	return distance([]rune(a), []rune(b))
}

// distance fills the full (len(a)+1) x (len(b)+1) dynamic-programming table.
func distance(a, b []rune) int {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
		dp[i][0] = i
	}
	for j := range dp[0] {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}

// CompactEqual reports whether spoken, with all whitespace removed, equals
// target case-insensitively. This is the strict check word flashcards apply
// to a final recognition result: speech engines frequently split a single
// word ("note book") or join it with surrounding silence.
func CompactEqual(spoken, target string) bool {
	if spoken == "" || target == "" {
		return false
	}
	compact := strings.Join(strings.Fields(spoken), "")
	return strings.EqualFold(compact, strings.TrimSpace(target))
}
