package models

// State is a step of the consent state machine for one page load.
type State string

const (
	StateUnknown               State = "unknown"
	StateBannerShown           State = "banner_shown"
	StateSettingsOpen          State = "settings_open"
	StateAcceptedAll           State = "accepted_all"
	StateAcceptedNecessaryOnly State = "accepted_necessary_only"
	StateRejected              State = "rejected"
	StateCustomSelection       State = "custom_selection"
	StateResolved              State = "resolved"
)

// transitions lists the forward edges of the machine. Reset to StateUnknown is
// handled by CanTransition and not listed here.
var transitions = map[State][]State{
	StateUnknown:               {StateBannerShown, StateResolved},
	StateBannerShown:           {StateAcceptedAll, StateAcceptedNecessaryOnly, StateRejected, StateSettingsOpen},
	StateSettingsOpen:          {StateCustomSelection, StateBannerShown, StateResolved},
	StateAcceptedAll:           {StateResolved},
	StateAcceptedNecessaryOnly: {StateResolved},
	StateRejected:              {StateResolved},
	StateCustomSelection:       {StateResolved},
	StateResolved:              {StateSettingsOpen},
}

// CanTransition reports whether the machine may move from one state to another.
// Any initialized state may reset to StateUnknown.
func CanTransition(from, to State) bool {
	if to == StateUnknown {
		return from != StateUnknown
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome names the decision that produced the current record.
type Outcome string

const (
	OutcomeNone                  Outcome = ""
	OutcomeAcceptedAll           Outcome = "accepted_all"
	OutcomeAcceptedNecessaryOnly Outcome = "accepted_necessary_only"
	OutcomeRejected              Outcome = "rejected"
	OutcomeCustomSelection       Outcome = "custom_selection"
	// OutcomeStored marks a record loaded from storage rather than decided during this load.
	OutcomeStored Outcome = "stored"
)

// State returns the transient decision state the outcome passes through.
func (o Outcome) State() State {
	switch o {
	case OutcomeAcceptedAll:
		return StateAcceptedAll
	case OutcomeAcceptedNecessaryOnly:
		return StateAcceptedNecessaryOnly
	case OutcomeRejected:
		return StateRejected
	case OutcomeCustomSelection:
		return StateCustomSelection
	default:
		return StateResolved
	}
}

// Category is a cookie/tracking category a visitor can approve.
type Category string

const (
	CategoryNecessary Category = "necessary"
	CategoryAnalytics Category = "analytics"
	CategoryMarketing Category = "marketing"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryNecessary, CategoryAnalytics, CategoryMarketing}

// IsValid checks if the category is one of the supported values.
func (c Category) IsValid() bool {
	return c == CategoryNecessary || c == CategoryAnalytics || c == CategoryMarketing
}

// Selection is the state of the optional category checkboxes.
type Selection struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}
