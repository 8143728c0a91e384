// Package turn holds the per-turn state shared by the streaming pipeline:
// the lifecycle status, the two bounded queues, and the supervisor that owns
// a turn's background tasks.
//
// One [State] exists per conversational turn. It is created by the message
// processor on StartTurn and removed after cleanup; queues and tasks are
// owned by the State and reach a terminal state before the record is
// dropped.
package turn

// Status is the lifecycle phase of a turn. Transitions are monotonic:
// Pending → Running → one of the terminal states, and a terminal status
// never changes again.
type Status int

const (
	// StatusPending is a freshly created turn whose tasks have not started.
	StatusPending Status = iota

	// StatusRunning is a turn whose producer and consumer are active.
	StatusRunning

	// StatusCompleted is a turn that streamed to the end.
	StatusCompleted

	// StatusInterrupted is a turn cancelled before completion.
	StatusInterrupted

	// StatusFailed is a turn terminated by an upstream agent error.
	StatusFailed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusInterrupted, StatusFailed:
		return true
	default:
		return false
	}
}

// canAdvance reports whether a transition from s to next respects the
// monotonic lifecycle.
func (s Status) canAdvance(next Status) bool {
	if s.Terminal() || next == s {
		return false
	}
	switch next {
	case StatusRunning:
		return s == StatusPending
	case StatusCompleted, StatusInterrupted, StatusFailed:
		return true
	default:
		return false
	}
}
