package round

// Outcome is the decoded result of the game's "round result" trap
// (spec.md §4.H Ending: "reports win|loss|draw").
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	case OutcomeDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// DecodeOutcome maps the raw register-0 code the round_result trap
// reports to an Outcome. Games disagree on their exact encoding; this
// is the convention gamedb entries are expected to normalize to before
// the trap fires (1=win, 2=loss, 3=draw), matching the demo table.
func DecodeOutcome(code uint32) Outcome {
	switch code {
	case 1:
		return OutcomeWin
	case 2:
		return OutcomeLoss
	case 3:
		return OutcomeDraw
	default:
		return OutcomeUnknown
	}
}

// Result is a round's final outcome once it reaches Ended.
type Result struct {
	Code    uint32
	Outcome Outcome
}
