package bundle

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func StatusFromString(s string) (status Status, known bool) {
	switch st := Status(s); st {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return st, true
	default:
		return st, false
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// transitionsTo maps a status to the statuses a job may hold before moving to it.
// QUEUED is only ever written on creation.
var transitionsTo = map[Status][]Status{
	StatusRunning:   {StatusQueued, StatusRunning},
	StatusSucceeded: {StatusRunning, StatusSucceeded},
	StatusFailed:    {StatusQueued, StatusRunning, StatusFailed},
}

// AllowedFrom returns the statuses a job may move from to reach to.
func AllowedFrom(to Status) []Status {
	from := transitionsTo[to]
	out := make([]Status, len(from))
	copy(out, from)
	return out
}

// CanTransition reports whether a job in status from may be moved to status to.
// Terminal statuses never go back to RUNNING, and rewriting the same terminal status is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitionsTo[to] {
		if s == from {
			return true
		}
	}
	return false
}
