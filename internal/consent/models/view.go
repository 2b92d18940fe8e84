package models

import "time"

// View is everything a renderer needs to draw the banner and settings modal.
type View struct {
	State         State
	BannerVisible bool
	ModalVisible  bool
	Categories    []CategoryView
}

// CategoryView is one checkbox of the settings modal.
type CategoryView struct {
	Category Category
	Checked  bool
	Disabled bool
}

// NewView derives the view for a state and the current modal selection.
// undecided keeps the banner up behind an open modal until a decision exists.
// Necessary is always checked and never interactive.
func NewView(state State, undecided bool, sel Selection) View {
	return View{
		State:         state,
		BannerVisible: state == StateBannerShown || (undecided && state == StateSettingsOpen),
		ModalVisible:  state == StateSettingsOpen,
		Categories: []CategoryView{
			{Category: CategoryNecessary, Checked: true, Disabled: true},
			{Category: CategoryAnalytics, Checked: sel.Analytics},
			{Category: CategoryMarketing, Checked: sel.Marketing},
		},
	}
}

// Snapshot is a read-only copy of the manager's state.
type Snapshot struct {
	ClientID string
	State    State
	Outcome  Outcome
	Record   *Record
	View     View
}

// ChangedEvent is broadcast once per state-changing decision.
type ChangedEvent struct {
	ClientID   string    `json:"client_id"`
	Outcome    Outcome   `json:"outcome"`
	Record     Record    `json:"consent"`
	OccurredAt time.Time `json:"occurred_at"`
}
