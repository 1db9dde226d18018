package pagemanager

// State is where a page sits in its lifecycle. Residency, LRU membership and
// pinning are all derived from it, so a page can never be in the LRU Index and
// pinned at the same time.
type State uint8

const (
	// StateNonResident: no arena block, referenced by at least one handle.
	StateNonResident State = iota
	// StateUnpinned: resident, in the LRU Index, referenced by handles.
	StateUnpinned
	// StatePinned: resident, kept out of the LRU Index until unpinned.
	StatePinned
	// StateCached: resident, in the LRU Index, no handles left. It stays
	// cached for a future request until it is evicted.
	StateCached
	// StateDead: purged. The page object is no longer reachable from the
	// manager.
	StateDead
)

var stateNames = [...]string{
	StateNonResident: "non-resident",
	StateUnpinned:    "unpinned",
	StatePinned:      "pinned",
	StateCached:      "cached",
	StateDead:        "dead",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var transitions = map[State][]State{
	StateNonResident: {StateUnpinned, StatePinned, StateDead},
	StateUnpinned:    {StatePinned, StateCached, StateNonResident, StateDead},
	StatePinned:      {StateUnpinned, StateCached, StateNonResident, StateDead}, // non-resident only after a failed load
	StateCached:      {StateUnpinned, StatePinned, StateNonResident, StateDead},
}

// CanMoveTo reports whether s -> to is a legal transition. Staying in the same
// live state is always allowed.
func (s State) CanMoveTo(to State) bool {
	if s == to {
		return s != StateDead
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Resident() bool {
	return s == StateUnpinned || s == StatePinned || s == StateCached
}

// InLRU reports whether a page in this state must be a member of the LRU Index.
func (s State) InLRU() bool {
	return s == StateUnpinned || s == StateCached
}
