package document

import "fmt"

// Status is the lifecycle state of a document.
type Status string

const (
	// StatusPending means the document is stored but derived data has not
	// been attached yet.
	StatusPending Status = "pending"
	// StatusProcessed means the document is ready to be synced.
	StatusProcessed Status = "processed"
	// StatusSynced means the remote store acknowledged the document.
	StatusSynced Status = "synced"
	// StatusFailed means processing or syncing failed. Terminal until retry.
	StatusFailed Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessed, StatusSynced, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a document may move from one status to
// another through a regular update. Leaving failed is only possible through
// Retry, see CanRetryTo.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusProcessed || to == StatusFailed
	case StatusProcessed:
		return to == StatusSynced || to == StatusFailed
	}
	return false
}

// CanRetryTo reports whether a failed document may be requeued to status.
func CanRetryTo(status Status) bool {
	return status == StatusPending || status == StatusProcessed
}

// CheckTransition returns ErrInvalidTransition wrapped with context when the
// move is not allowed.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
