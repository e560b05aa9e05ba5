package admission

import (
	"context"
	"sort"
	"sync"
	"time"

	"rollcall/internal/ticket"
)

// MemStore is an in-memory RecordStore for dev mode and tests. Insert holds
// one lock across the existence check and the write, giving the same
// exactly-one-winner guarantee the Postgres unique index provides.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record // by record id
	pairs   map[pairKey]string
	tickets *ticket.MemStore // optional, mirrors accepted-count updates
}

type pairKey struct {
	subjectID string
	ticketID  string
}

// NewMemStore creates an empty store. tickets may be nil.
func NewMemStore(tickets *ticket.MemStore) *MemStore {
	return &MemStore{
		records: make(map[string]Record),
		pairs:   make(map[pairKey]string),
		tickets: tickets,
	}
}

func (m *MemStore) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	key := pairKey{rec.SubjectID, rec.TicketID}
	if id, taken := m.pairs[key]; taken {
		existing := m.records[id]
		m.mu.Unlock()
		return Record{}, &DuplicateError{Existing: existing}
	}
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	m.pairs[key] = rec.ID
	// Mirror the counter after releasing our lock. The ticket store's
	// delete cascade takes locks in the opposite direction.
	m.mu.Unlock()
	if m.tickets != nil {
		m.tickets.AdjustAccepted(rec.TicketID, 1)
	}
	return rec, nil
}

func (m *MemStore) Find(_ context.Context, subjectID, ticketID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.pairs[pairKey{subjectID, ticketID}]; ok {
		rec := m.records[id]
		return &rec, nil
	}
	return nil, nil
}

func (m *MemStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemStore) Update(_ context.Context, id string, status *Status, annotation *string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if status != nil {
		rec.Status = *status
	}
	if annotation != nil {
		rec.Annotation = *annotation
	}
	m.records[id] = rec
	return rec, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.records, id)
	delete(m.pairs, pairKey{rec.SubjectID, rec.TicketID})
	m.mu.Unlock()
	if m.tickets != nil {
		m.tickets.AdjustAccepted(rec.TicketID, -1)
	}
	return nil
}

// DeleteByTicket drops every record for a deleted ticket. The ticket row is
// gone, so no accepted-count adjustment happens here.
func (m *MemStore) DeleteByTicket(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.TicketID == ticketID {
			delete(m.records, id)
			delete(m.pairs, pairKey{rec.SubjectID, rec.TicketID})
		}
	}
}

func (m *MemStore) List(_ context.Context, subjectID, ticketID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.Lock()
	var all []Record
	for _, rec := range m.records {
		if subjectID != "" && rec.SubjectID != subjectID {
			continue
		}
		if ticketID != "" && rec.TicketID != ticketID {
			continue
		}
		all = append(all, rec)
	}
	m.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].MarkedAt.After(all[j].MarkedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
