package importer

// State is the lifecycle position of an import session.
type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "file_selected"
	StateParsed       State = "parsed"
	StateReviewing    State = "reviewing"
	StateCommitting   State = "committing"
	StateCommitted    State = "committed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// cancellable reports whether Cancel may move s to StateCancelled.
func (s State) cancellable() bool {
	switch s {
	case StateIdle, StateFileSelected, StateParsed, StateReviewing:
		return true
	default:
		return false
	}
}
