// Package classify turns a rendered calendar page into per-date verdicts.
// It is a pure function of its inputs: no clock, no network, no state.
package classify

// Verdict is the classification of one requested date.
type Verdict string

const (
	// VerdictAvailable means the date cell carries the target's
	// "available" background color.
	VerdictAvailable Verdict = "AVAILABLE"
	// VerdictUnavailable means the date cell exists but is not rendered
	// with the available color.
	VerdictUnavailable Verdict = "UNAVAILABLE"
	// VerdictNotFound means no element with the date's label is present.
	VerdictNotFound Verdict = "NOT_FOUND"
	// VerdictBlocked means the page looks like an anti-bot response; it
	// applies to every requested date at once.
	VerdictBlocked Verdict = "BLOCKED"
)

// IsValid reports whether v is a known verdict.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictAvailable, VerdictUnavailable, VerdictNotFound, VerdictBlocked:
		return true
	}
	return false
}
