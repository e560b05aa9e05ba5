package admission

import "errors"

var (
	// ErrInvalidTicket covers unknown id, token mismatch, revoked and expired
	// tickets alike; callers learn nothing about which.
	ErrInvalidTicket = errors.New("admission: invalid ticket")
	// ErrNotStarted means the ticket is live but the window has not opened.
	ErrNotStarted = errors.New("admission: session not started")
	// ErrDuplicateAdmission means a record already exists for the pair.
	ErrDuplicateAdmission = errors.New("admission: already recorded")
	// ErrBiometricNotRegistered means the subject has no stored profile.
	ErrBiometricNotRegistered = errors.New("admission: no biometric profile registered")
	// ErrMissingProof means a biometric attempt arrived without an embedding.
	ErrMissingProof = errors.New("admission: biometric proof required")
	// ErrLowConfidence means the proof scored below the admission threshold.
	ErrLowConfidence = errors.New("admission: similarity below threshold")
	// ErrNotFound is returned when revising or removing an absent record.
	ErrNotFound = errors.New("admission: record not found")
	// ErrInvalidStatus rejects reviewer updates with unknown status values.
	ErrInvalidStatus = errors.New("admission: unknown status value")
)

// DuplicateError carries the record that already won the (subject, ticket)
// pair, so callers can return it alongside the conflict.
type DuplicateError struct {
	Existing Record
}

func (e *DuplicateError) Error() string { return ErrDuplicateAdmission.Error() }

func (e *DuplicateError) Unwrap() error { return ErrDuplicateAdmission }
