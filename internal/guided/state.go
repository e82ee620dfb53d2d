package guided

// State is a guided session state
type State int

const (
	Idle State = iota
	TriggerSelected
	Conversing
	RequirementsMet
	Completing
	Unlocked
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TriggerSelected:
		return "trigger_selected"
	case Conversing:
		return "conversing"
	case RequirementsMet:
		return "requirements_met"
	case Completing:
		return "completing"
	case Unlocked:
		return "unlocked"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether the session has started and not yet ended.
func (s State) Active() bool {
	return s > Idle && s < Unlocked
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == Unlocked || s == Cancelled
}
