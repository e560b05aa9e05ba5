package ticket

import (
	"context"
	"time"
)

// Store persists tickets. The Postgres implementation lives in repo.go;
// an in-memory implementation backs dev mode and tests.
type Store interface {
	Insert(ctx context.Context, t Ticket) (Ticket, error)
	Get(ctx context.Context, id string) (Ticket, error)
	UpdateToken(ctx context.Context, id, token string) (Ticket, error)
	Update(ctx context.Context, id string, p Patch) (Ticket, error)
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Patch carries the fields a ticket owner may change before the session
// starts. Schedule times are immutable after creation.
type Patch struct {
	Subject     *string
	Description *string
	Location    *string
	Capacity    *int
}

// Service coordinates ticket lifecycle operations.
type Service struct {
	store           Store
	expiryBuffer    time.Duration
	defaultCapacity int
	now             func() time.Time
}

// NewService creates a ticket service. expiryBuffer is added to the window
// end to compute the admission deadline.
func NewService(store Store, expiryBuffer time.Duration, defaultCapacity int) *Service {
	if expiryBuffer <= 0 {
		expiryBuffer = 30 * time.Minute
	}
	if defaultCapacity <= 0 {
		defaultCapacity = 60
	}
	return &Service{
		store:           store,
		expiryBuffer:    expiryBuffer,
		defaultCapacity: defaultCapacity,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the window and persists a fresh ticket with a new token.
func (s *Service) Create(ctx context.Context, p CreateParams) (Ticket, error) {
	if p.Capacity <= 0 {
		p.Capacity = s.defaultCapacity
	}
	t, err := New(p, s.expiryBuffer, s.now())
	if err != nil {
		return Ticket{}, err
	}
	return s.store.Insert(ctx, t)
}

// Get returns a ticket by id.
func (s *Service) Get(ctx context.Context, id string) (Ticket, error) {
	return s.store.Get(ctx, id)
}

// RegenerateToken replaces the bearer token with a fresh unique value.
// Expiry, schedule and counts are untouched; any live ticket may be rotated.
func (s *Service) RegenerateToken(ctx context.Context, id string) (Ticket, error) {
	return s.store.UpdateToken(ctx, id, NewToken())
}

// Modify updates non-schedule fields; rejected once the session started.
func (s *Service) Modify(ctx context.Context, id string, p Patch) (Ticket, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if err := t.CanMutate(s.now()); err != nil {
		return Ticket{}, err
	}
	return s.store.Update(ctx, id, p)
}

// Delete removes the ticket and, by cascade, every attendance record
// referencing it; rejected once the session started.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := t.CanMutate(s.now()); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Revoke deactivates the ticket. Always permitted, idempotent.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.store.SetActive(ctx, id, false)
}

// SweepExpired deactivates tickets past their expiry. This is an optional
// cleanup; admissibility is always re-checked at read time.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeactivateExpired(ctx, s.now())
}
