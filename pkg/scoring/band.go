package scoring

// Band classifies a live accuracy score for display on the practice meter.
type Band int

const (
	// BandLow is any score of 80 or below.
	BandLow Band = iota

	// BandClose is a score above 80 that is not yet a perfect match.
	BandClose

	// BandPerfect is a score of exactly 100.
	BandPerfect
)

// closeThreshold is the exclusive lower bound of [BandClose].
const closeThreshold = 80

// BandFor returns the meter band for score.
func BandFor(score int) Band {
	switch {
	case score >= 100:
		return BandPerfect
	case score > closeThreshold:
		return BandClose
	default:
		return BandLow
	}
}

// String returns the lower-case band name used in API responses.
func (b Band) String() string {
	switch b {
	case BandPerfect:
		return "perfect"
	case BandClose:
		return "close"
	default:
		return "low"
	}
}
