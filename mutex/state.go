package mutex

import "strconv"

// State is a snapshot of a mutex's state word.
//
// Layout: [starved:63][locked:1]
//
// Example: State(5) is locked with two escalated lock operations.
type State uint64

const (
	// stateLocked is the lock bit.
	stateLocked = 1

	// starvedStep is the increment for one escalated lock operation.
	starvedStep = 2

	// starvedLimit is the largest state word value that may still be
	// incremented by starvedStep. Anything above it means the counter is
	// about to wrap and the process is aborted.
	starvedLimit = ^uint64(0) / 2

	// fairUnlocked is the only state in which an escalated operation may
	// take the lock on its first attempt: unlocked, and it is the only
	// escalated operation.
	fairUnlocked = starvedStep
)

// Locked reports whether the lock bit is set.
func (s State) Locked() bool {
	return s&stateLocked != 0
}

// Starved returns the number of escalated lock operations.
func (s State) Starved() uint64 {
	return uint64(s) / starvedStep
}

// String returns a human-readable representation of the state.
//
// Format: "locked,starved=N" or "unlocked,starved=N".
func (s State) String() string {
	lock := "unlocked"
	if s.Locked() {
		lock = "locked"
	}
	return lock + ",starved=" + strconv.FormatUint(s.Starved(), 10)
}
