package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStore persists attendance records. Insert must be atomic with the
// accepted-count increment and fail with ErrDuplicateAdmission when the
// (subject, ticket) unique key already exists; that constraint, not a
// check-then-insert, is what serializes racing admits.
type RecordStore interface {
	RecordSource
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, status *Status, annotation *string) (Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, subjectID, ticketID string, limit, offset int) ([]Record, error)
}

// Ledger turns accepted candidates into stored records and owns the record
// lifecycle after admission.
type Ledger struct {
	store     RecordStore
	lateGrace time.Duration
}

// NewLedger creates a ledger. lateGrace is how long after the window start
// a mark still counts as present.
func NewLedger(store RecordStore, lateGrace time.Duration) *Ledger {
	if lateGrace <= 0 {
		lateGrace = 15 * time.Minute
	}
	return &Ledger{store: store, lateGrace: lateGrace}
}

// Admit classifies and persists an accepted candidate. A concurrent admit
// for the same pair surfaces as ErrDuplicateAdmission from the store.
func (l *Ledger) Admit(ctx context.Context, cand Candidate) (Record, error) {
	rec := Record{
		ID:             uuid.NewString(),
		SubjectID:      cand.SubjectID,
		TicketID:       cand.Ticket.ID,
		Status:         DeriveStatus(cand.MarkedAt, cand.Ticket.ScheduleStart, l.lateGrace),
		Method:         cand.Method,
		BiometricScore: cand.Score,
		Verified:       cand.Verified,
		MarkedAt:       cand.MarkedAt,
	}
	return l.store.Insert(ctx, rec)
}

// Revise applies a reviewer correction to status and/or annotation.
func (l *Ledger) Revise(ctx context.Context, id string, status *Status, annotation *string) (Record, error) {
	if status != nil && !ValidStatus(*status) {
		return Record{}, ErrInvalidStatus
	}
	return l.store.Update(ctx, id, status, annotation)
}

// Remove deletes a record and gives back the ticket's accepted-count slot.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	return l.store.Delete(ctx, id)
}

// Get returns a single record.
func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	return l.store.Get(ctx, id)
}

// List returns records filtered by subject and/or ticket.
func (l *Ledger) List(ctx context.Context, subjectID, ticketID string, limit, offset int) ([]Record, error) {
	return l.store.List(ctx, subjectID, ticketID, limit, offset)
}
