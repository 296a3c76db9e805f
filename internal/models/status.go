package models

// Status is the lifecycle state of a meeting. Transitions are
// one-directional: once a meeting reaches a terminal status it never
// leaves it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRinging   Status = "ringing"
	StatusAccepted  Status = "accepted"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether a meeting in this status is finished. A
// terminal meeting never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRinging, StatusAccepted,
		StatusEnded, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// pending and ringing may advance to accepted or to any terminal
// status; accepted may only terminate.
func (s Status) CanTransition(next Status) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRinging || next == StatusAccepted || next.IsTerminal()
	case StatusRinging:
		return next == StatusAccepted || next.IsTerminal()
	case StatusAccepted:
		return next.IsTerminal()
	}
	return false
}

// Label returns the display name shown for this status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Waiting for tutor"
	case StatusRinging:
		return "Ringing"
	case StatusAccepted:
		return "In progress"
	case StatusEnded:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusRejected:
		return "Declined"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}
