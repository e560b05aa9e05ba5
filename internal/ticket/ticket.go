package ticket

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSchedule means scheduleEnd is not strictly after scheduleStart.
	ErrInvalidSchedule = errors.New("ticket: schedule end must be after schedule start")
	// ErrPastDate means the schedule date is before today.
	ErrPastDate = errors.New("ticket: schedule date is in the past")
	// ErrAlreadyStarted guards mutation and deletion once the window opens.
	ErrAlreadyStarted = errors.New("ticket: session already started")
	// ErrNotFound is returned by stores when no ticket matches.
	ErrNotFound = errors.New("ticket: not found")
)

// Ticket is a schedulable session window plus its current bearer token.
type Ticket struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Subject       string     `json:"subject"`
	Description   string     `json:"description,omitempty"`
	Location      string     `json:"location,omitempty"`
	ScheduleStart time.Time  `json:"schedule_start"`
	ScheduleEnd   time.Time  `json:"schedule_end"`
	Token         string     `json:"token"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsActive      bool       `json:"is_active"`
	Capacity      int        `json:"capacity"`
	AcceptedCount int        `json:"accepted_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateParams describes a new session window.
type CreateParams struct {
	OwnerID       string
	Subject       string
	Description   string
	Location      string
	ScheduleStart time.Time
	ScheduleEnd   time.Time
	Capacity      int
}

// New builds a ticket for the given window. The token and id are freshly
// generated; expiry is the window end plus the configured buffer.
func New(p CreateParams, expiryBuffer time.Duration, now time.Time) (Ticket, error) {
	if !p.ScheduleEnd.After(p.ScheduleStart) {
		return Ticket{}, ErrInvalidSchedule
	}
	sy, sm, sd := p.ScheduleStart.Date()
	ny, nm, nd := now.Date()
	if time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)) {
		return Ticket{}, ErrPastDate
	}
	return Ticket{
		ID:            uuid.NewString(),
		OwnerID:       p.OwnerID,
		Subject:       p.Subject,
		Description:   p.Description,
		Location:      p.Location,
		ScheduleStart: p.ScheduleStart,
		ScheduleEnd:   p.ScheduleEnd,
		Token:         NewToken(),
		ExpiresAt:     p.ScheduleEnd.Add(expiryBuffer),
		IsActive:      true,
		Capacity:      p.Capacity,
	}, nil
}

// NewToken generates a fresh globally-unique bearer token.
func NewToken() string {
	return uuid.NewString()
}

// Admissible reports whether the ticket can still admit attendance.
// The expiry boundary is inclusive: at now == expiresAt the ticket is
// still admissible. Whether the session has started is a separate check.
func (t Ticket) Admissible(now time.Time) bool {
	return t.IsActive && !now.After(t.ExpiresAt)
}

// Started reports whether the session window has opened.
func (t Ticket) Started(now time.Time) bool {
	return !now.Before(t.ScheduleStart)
}

// CanMutate guards modification and deletion: both are only allowed
// strictly before the session starts.
func (t Ticket) CanMutate(now time.Time) error {
	if t.Started(now) {
		return ErrAlreadyStarted
	}
	return nil
}

// LateDeadline is the last instant at which a mark still counts as present.
func (t Ticket) LateDeadline(grace time.Duration) time.Time {
	return t.ScheduleStart.Add(grace)
}

// CodePayload is the encoded content handed to clients for rendering as a
// scannable code.
type CodePayload struct {
	TicketID      string    `json:"ticket_id"`
	Token         string    `json:"token"`
	Subject       string    `json:"subject"`
	Date          string    `json:"date"`
	ScheduleStart time.Time `json:"schedule_start"`
	ScheduleEnd   time.Time `json:"schedule_end"`
}

// Payload builds the scannable-code payload for the ticket's current token.
func (t Ticket) Payload() CodePayload {
	return CodePayload{
		TicketID:      t.ID,
		Token:         t.Token,
		Subject:       t.Subject,
		Date:          t.ScheduleStart.Format("2006-01-02"),
		ScheduleStart: t.ScheduleStart,
		ScheduleEnd:   t.ScheduleEnd,
	}
}
