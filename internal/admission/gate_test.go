package admission

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"rollcall/internal/ticket"
)

// fakeProfiles serves stored embeddings from a map.
type fakeProfiles map[string][]float32

func (f fakeProfiles) Embedding(_ context.Context, subjectID string) ([]float32, bool, error) {
	vec, ok := f[subjectID]
	return vec, ok, nil
}

// proofWithScore builds a unit vector whose cosine against profileAxis
// is exactly score.
func proofWithScore(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

var profileAxis = []float32{1, 0}

type gateFixture struct {
	gate    *Gate
	tickets *ticket.MemStore
	records *MemStore
	ticket  ticket.Ticket
	start   time.Time
}

func newGateFixture(t *testing.T, profiles fakeProfiles) *gateFixture {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Hour)
	tk, err := ticket.New(ticket.CreateParams{
		OwnerID:       "teacher-1",
		Subject:       "algebra",
		ScheduleStart: start,
		ScheduleEnd:   start.Add(time.Hour),
		Capacity:      30,
	}, 30*time.Minute, start)
	if err != nil {
		t.Fatal(err)
	}
	tickets := ticket.NewMemStore()
	if tk, err = tickets.Insert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	records := NewMemStore(tickets)
	return &gateFixture{
		gate:    NewGate(tickets, records, profiles, 0.6, 0.8),
		tickets: tickets,
		records: records,
		ticket:  tk,
		start:   start,
	}
}

func TestGateInvalidTicket(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{})
	ctx := context.Background()
	during := fx.start.Add(5 * time.Minute)

	cases := []struct {
		name     string
		ticketID string
		token    string
		now      time.Time
		mutate   func()
	}{
		{"unknown id", "no-such-ticket", fx.ticket.Token, during, nil},
		{"token mismatch", fx.ticket.ID, "wrong-token", during, nil},
		{"expired", fx.ticket.ID, fx.ticket.Token, fx.ticket.ExpiresAt.Add(time.Minute), nil},
		{"revoked", fx.ticket.ID, fx.ticket.Token, during, func() {
			if err := fx.tickets.SetActive(ctx, fx.ticket.ID, false); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.mutate != nil {
				tc.mutate()
			}
			_, err := fx.gate.Present(ctx, tc.ticketID, tc.token, "student-1", MethodTokenOnly, nil, tc.now)
			if !errors.Is(err, ErrInvalidTicket) {
				t.Fatalf("got %v, want ErrInvalidTicket", err)
			}
		})
	}
}

func TestGateNotStarted(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{})
	_, err := fx.gate.Present(context.Background(), fx.ticket.ID, fx.ticket.Token, "student-1",
		MethodTokenOnly, nil, fx.start.Add(-time.Minute))
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v, want ErrNotStarted", err)
	}
}

func TestGateTokenOnlyAccepted(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{})
	now := fx.start.Add(5 * time.Minute)
	cand, err := fx.gate.Present(context.Background(), fx.ticket.ID, fx.ticket.Token, "student-1",
		MethodTokenOnly, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if !cand.Verified {
		t.Fatal("token_only admission must be verified")
	}
	if cand.Score != nil {
		t.Fatal("token_only admission must not carry a score")
	}
	if !cand.MarkedAt.Equal(now) {
		t.Fatalf("marked_at = %v, want %v", cand.MarkedAt, now)
	}
}

func TestGateDuplicate(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{})
	ctx := context.Background()
	now := fx.start.Add(5 * time.Minute)

	cand, err := fx.gate.Present(ctx, fx.ticket.ID, fx.ticket.Token, "student-1", MethodTokenOnly, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(fx.records, 15*time.Minute)
	rec, err := ledger.Admit(ctx, cand)
	if err != nil {
		t.Fatal(err)
	}

	_, err = fx.gate.Present(ctx, fx.ticket.ID, fx.ticket.Token, "student-1", MethodTokenOnly, nil, now.Add(time.Minute))
	if !errors.Is(err, ErrDuplicateAdmission) {
		t.Fatalf("got %v, want ErrDuplicateAdmission", err)
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatal("duplicate rejection must carry the existing record")
	}
	if dup.Existing.ID != rec.ID {
		t.Fatalf("existing record id = %s, want %s", dup.Existing.ID, rec.ID)
	}

	// A different subject on the same ticket is still fine.
	if _, err := fx.gate.Present(ctx, fx.ticket.ID, fx.ticket.Token, "student-2", MethodTokenOnly, nil, now); err != nil {
		t.Fatalf("second subject rejected: %v", err)
	}
}

func TestGateBiometricNotRegistered(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{})
	_, err := fx.gate.Present(context.Background(), fx.ticket.ID, fx.ticket.Token, "student-1",
		MethodBiometric, proofWithScore(0.9), fx.start.Add(5*time.Minute))
	if !errors.Is(err, ErrBiometricNotRegistered) {
		t.Fatalf("got %v, want ErrBiometricNotRegistered", err)
	}
}

func TestGateBiometricMissingProof(t *testing.T) {
	fx := newGateFixture(t, fakeProfiles{"student-1": profileAxis})
	_, err := fx.gate.Present(context.Background(), fx.ticket.ID, fx.ticket.Token, "student-1",
		MethodBiometric, nil, fx.start.Add(5*time.Minute))
	if !errors.Is(err, ErrMissingProof) {
		t.Fatalf("got %v, want ErrMissingProof", err)
	}
}

func TestGateBiometricThresholds(t *testing.T) {
	cases := []struct {
		score        float64
		wantErr      error
		wantVerified bool
	}{
		{0.55, ErrLowConfidence, false},
		{0.65, nil, false},
		{0.85, nil, true},
	}
	for _, tc := range cases {
		fx := newGateFixture(t, fakeProfiles{"student-1": profileAxis})
		cand, err := fx.gate.Present(context.Background(), fx.ticket.ID, fx.ticket.Token, "student-1",
			MethodBiometric, proofWithScore(tc.score), fx.start.Add(5*time.Minute))
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("score %.2f: got %v, want %v", tc.score, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("score %.2f: %v", tc.score, err)
		}
		if cand.Verified != tc.wantVerified {
			t.Fatalf("score %.2f: verified = %v, want %v", tc.score, cand.Verified, tc.wantVerified)
		}
		if cand.Score == nil || math.Abs(*cand.Score-tc.score) > 1e-6 {
			t.Fatalf("score %.2f: stored score %v", tc.score, cand.Score)
		}
	}
}
