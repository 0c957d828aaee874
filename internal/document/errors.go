package document

import "errors"

// Errors shared by all stores and the orchestrator.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, document.ErrStorageUnavailable) {
//	    // Route ingestion to the fallback store
//	}
var (
	// ErrStorageUnavailable is returned by the local store when its engine
	// cannot be opened or used (unsupported platform, corruption, locked file).
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrRemoteUnreachable is returned when the remote store cannot be
	// reached or rejected a write.
	ErrRemoteUnreachable = errors.New("remote store unreachable")

	// ErrRecordNotFound is returned when an operation names an unknown id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrQuotaExceeded is returned when the local or fallback store is full.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidTransition is returned when a status change would violate
	// the document lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// IsRetryable returns true if the operation is likely to succeed when
// attempted again later without user action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Network trouble is transient
	if errors.Is(err, ErrRemoteUnreachable) {
		return true
	}

	return false
}

// IsFatal returns true if the error means the local store must not be used
// again for the lifetime of the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageUnavailable)
}
