package admission

import "time"

// Method is how the attendance attempt was proven.
type Method string

const (
	MethodTokenOnly Method = "token_only"
	MethodBiometric Method = "biometric"
)

// Status classifies a stored attendance record. StatusAbsent is a reviewer
// annotation value only; admission never produces it.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Record is a single accepted attendance event. At most one exists per
// (subject, ticket) pair.
type Record struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subject_id"`
	TicketID       string    `json:"ticket_id"`
	Status         Status    `json:"status"`
	Method         Method    `json:"method"`
	BiometricScore *float64  `json:"biometric_score,omitempty"`
	Verified       bool      `json:"verified"`
	Annotation     string    `json:"annotation,omitempty"`
	MarkedAt       time.Time `json:"marked_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeriveStatus classifies a mark against the window start. The boundary is
// strict: a mark at exactly start+grace is still present.
func DeriveStatus(markedAt, scheduleStart time.Time, grace time.Duration) Status {
	if markedAt.After(scheduleStart.Add(grace)) {
		return StatusLate
	}
	return StatusPresent
}
