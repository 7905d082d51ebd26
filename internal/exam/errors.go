package exam

import "errors"

// Error taxonomy. The HTTP layer maps these to status codes in one place;
// everything else wraps them with fmt.Errorf("...: %w", err).
var (
	// ErrValidation rejects malformed input before any state change.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound covers both absent records and records hidden from the
	// caller to avoid existence leakage.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is a tenant or role violation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is a lost conditional write or an already-terminal state.
	// Callers should re-fetch; idempotent callers treat it as success.
	ErrConflict = errors.New("conflict")

	// ErrWindowClosed means now is outside [exam.start_at, exam.end_at).
	ErrWindowClosed = errors.New("exam window closed")

	// ErrAttemptLimit means the student has used all allowed attempts.
	ErrAttemptLimit = errors.New("attempt limit exceeded")

	// ErrAttemptNotActive means the attempt is terminal or past its deadline.
	ErrAttemptNotActive = errors.New("attempt not active")
)
