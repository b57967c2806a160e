package roadsync

// GuardDecision is the outcome of the manual edit check for one way.
type GuardDecision int

const (
	GuardProceed GuardDecision = iota
	GuardSkip
)

func (d GuardDecision) String() string {
	if d == GuardSkip {
		return "skip"
	}
	return "proceed"
}

// CheckManualEdits returns GuardSkip when any stored segment of a way is
// behind the manual edit gate. The whole way is then left untouched.
func CheckManualEdits(existing []RoadSegment) GuardDecision {
	for _, seg := range existing {
		if seg.EditState() == EditStateManual {
			return GuardSkip
		}
	}
	return GuardProceed
}
