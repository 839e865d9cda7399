package presence

// Status is a single actor's presence state within a scope. The machine is
// flat: editing and away are mutually exclusive snapshots, never combined.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusEditing Status = "editing"

	// StatusOffline is never carried by a live record. It appears only in an
	// explicit tombstone on graceful disconnect; otherwise offline is the
	// absence of a record.
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusEditing, StatusOffline:
		return true
	}
	return false
}

// Live reports whether the status represents an actor that should appear in
// a roster.
func (s Status) Live() bool {
	return s == StatusOnline || s == StatusAway || s == StatusEditing
}

// CanTransition reports whether moving from one status to another is a legal
// transition. Any state may go offline; away is an idle hint that only
// applies to an online actor, so an editing actor must stop editing before
// going away; editing may not be entered from offline because editing
// requires a live channel.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch to {
	case StatusOffline:
		return true
	case StatusOnline:
		return true
	case StatusAway:
		return from == StatusOnline
	case StatusEditing:
		return from == StatusOnline || from == StatusAway
	}
	return false
}
