package admission

import (
	"context"
	"errors"
	"time"

	"rollcall/internal/similarity"
	"rollcall/internal/ticket"
)

// TicketSource is the read side of the ticket store the gate consults.
type TicketSource interface {
	Get(ctx context.Context, id string) (ticket.Ticket, error)
}

// RecordSource looks up an existing record for a (subject, ticket) pair.
type RecordSource interface {
	Find(ctx context.Context, subjectID, ticketID string) (*Record, error)
}

// ProfileSource fetches a subject's stored embedding from the account
// service. ok is false when the subject has no registered profile.
type ProfileSource interface {
	Embedding(ctx context.Context, subjectID string) (vec []float32, ok bool, err error)
}

// Candidate is an accepted admission waiting to be persisted by the ledger.
type Candidate struct {
	SubjectID string
	Ticket    ticket.Ticket
	Method    Method
	Score     *float64
	Verified  bool
	MarkedAt  time.Time
}

// Gate decides whether a presented ticket + proof is a valid attendance
// event. It reads state but never writes; persistence is the ledger's job.
type Gate struct {
	tickets           TicketSource
	records           RecordSource
	profiles          ProfileSource
	admitThreshold    float64
	verifiedThreshold float64
}

// NewGate wires a gate. admitThreshold gates acceptance of biometric proofs;
// verifiedThreshold is the stricter bar that only sets the verified flag.
func NewGate(tickets TicketSource, records RecordSource, profiles ProfileSource, admitThreshold, verifiedThreshold float64) *Gate {
	if admitThreshold <= 0 {
		admitThreshold = 0.6
	}
	if verifiedThreshold <= 0 {
		verifiedThreshold = 0.8
	}
	return &Gate{
		tickets:           tickets,
		records:           records,
		profiles:          profiles,
		admitThreshold:    admitThreshold,
		verifiedThreshold: verifiedThreshold,
	}
}

// Present runs the admission decision for one attempt.
func (g *Gate) Present(ctx context.Context, ticketID, token, subjectID string, method Method, proof []float32, now time.Time) (Candidate, error) {
	t, err := g.tickets.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return Candidate{}, ErrInvalidTicket
		}
		return Candidate{}, err
	}
	if token != t.Token || !t.Admissible(now) {
		return Candidate{}, ErrInvalidTicket
	}
	if !t.Started(now) {
		return Candidate{}, ErrNotStarted
	}

	existing, err := g.records.Find(ctx, subjectID, t.ID)
	if err != nil {
		return Candidate{}, err
	}
	if existing != nil {
		return Candidate{}, &DuplicateError{Existing: *existing}
	}

	cand := Candidate{
		SubjectID: subjectID,
		Ticket:    t,
		Method:    method,
		Verified:  true,
		MarkedAt:  now,
	}
	if method != MethodBiometric {
		return cand, nil
	}

	profile, ok, err := g.profiles.Embedding(ctx, subjectID)
	if err != nil {
		return Candidate{}, err
	}
	if !ok {
		return Candidate{}, ErrBiometricNotRegistered
	}
	if len(proof) == 0 {
		return Candidate{}, ErrMissingProof
	}
	score, err := similarity.Score(profile, proof)
	if err != nil {
		return Candidate{}, err
	}
	if score < g.admitThreshold {
		return Candidate{}, ErrLowConfidence
	}
	cand.Score = &score
	cand.Verified = score >= g.verifiedThreshold
	return cand, nil
}
