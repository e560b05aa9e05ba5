package ticket

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store for dev mode and tests.
type MemStore struct {
	mu       sync.Mutex
	tickets  map[string]Ticket
	tokens   map[string]string // token -> ticket id
	onDelete func(ticketID string)
}

// OnDelete registers the cascade hook the record store uses to drop records
// when a ticket is deleted. Postgres handles this with ON DELETE CASCADE.
func (m *MemStore) OnDelete(fn func(ticketID string)) {
	m.onDelete = fn
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		tickets: make(map[string]Ticket),
		tokens:  make(map[string]string),
	}
}

func (m *MemStore) Insert(_ context.Context, t Ticket) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.tokens[t.Token]; taken {
		t.Token = NewToken()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	m.tickets[t.ID] = t
	m.tokens[t.Token] = t.ID
	return t, nil
}

func (m *MemStore) Get(_ context.Context, id string) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (m *MemStore) UpdateToken(_ context.Context, id, token string) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	delete(m.tokens, t.Token)
	t.Token = token
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = t
	m.tokens[token] = id
	return t, nil
}

func (m *MemStore) Update(_ context.Context, id string, p Patch) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Location != nil {
		t.Location = *p.Location
	}
	if p.Capacity != nil {
		t.Capacity = *p.Capacity
	}
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = t
	return t, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tickets[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.tokens, t.Token)
	delete(m.tickets, id)
	// Run the cascade after releasing the lock. The record store takes its
	// own mutex and may call back into AdjustAccepted, which takes ours.
	m.mu.Unlock()
	if m.onDelete != nil {
		m.onDelete(id)
	}
	return nil
}

func (m *MemStore) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = active
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = t
	return nil
}

func (m *MemStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tickets {
		if t.IsActive && now.After(t.ExpiresAt) {
			t.IsActive = false
			m.tickets[id] = t
			n++
		}
	}
	return n, nil
}

// AdjustAccepted shifts the advisory accepted counter. Used by the in-memory
// record store to mirror what the SQL transaction does in Postgres.
func (m *MemStore) AdjustAccepted(id string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[id]; ok {
		t.AcceptedCount += delta
		m.tickets[id] = t
	}
}
