package ticket

import (
	"context"
	"errors"
	"testing"
	"time"
)

// day is a fixed future date so Create's past-date guard never fires.
var day = time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour)

func window(startHour, endHour int) (time.Time, time.Time) {
	return day.Add(time.Duration(startHour) * time.Hour), day.Add(time.Duration(endHour) * time.Hour)
}

func TestNewComputesExpiry(t *testing.T) {
	start, end := window(9, 10)
	tk, err := New(CreateParams{OwnerID: "t-1", Subject: "algebra", ScheduleStart: start, ScheduleEnd: end, Capacity: 30}, 30*time.Minute, day)
	if err != nil {
		t.Fatal(err)
	}
	want := day.Add(10*time.Hour + 30*time.Minute)
	if !tk.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", tk.ExpiresAt, want)
	}
	if !tk.IsActive {
		t.Fatal("new ticket should be active")
	}
	if tk.Token == "" || tk.ID == "" {
		t.Fatal("token and id must be generated")
	}
	if tk.AcceptedCount != 0 {
		t.Fatalf("accepted count = %d, want 0", tk.AcceptedCount)
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	start, _ := window(9, 10)
	for _, end := range []time.Time{start, start.Add(-time.Hour)} {
		_, err := New(CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end}, 30*time.Minute, day)
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Fatalf("end=%v: got %v, want ErrInvalidSchedule", end, err)
		}
	}
}

func TestNewRejectsPastDate(t *testing.T) {
	start, end := window(9, 10)
	_, err := New(CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end}, 30*time.Minute, day.AddDate(0, 0, 1))
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("got %v, want ErrPastDate", err)
	}

	// Same calendar date is fine even if the clock is already past the window.
	_, err = New(CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end}, 30*time.Minute, day.Add(23*time.Hour))
	if err != nil {
		t.Fatalf("same-day creation failed: %v", err)
	}
}

func TestAdmissibleBoundaries(t *testing.T) {
	start, end := window(9, 10)
	tk, err := New(CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end}, 30*time.Minute, day)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", start.Add(-time.Minute), true},
		{"mid window", start.Add(30 * time.Minute), true},
		{"at expiry", tk.ExpiresAt, true},
		{"just past expiry", tk.ExpiresAt.Add(time.Second), false},
	}
	for _, tc := range cases {
		if got := tk.Admissible(tc.now); got != tc.want {
			t.Errorf("%s: admissible = %v, want %v", tc.name, got, tc.want)
		}
	}

	tk.IsActive = false
	if tk.Admissible(start.Add(30 * time.Minute)) {
		t.Error("revoked ticket must not be admissible")
	}
}

func TestCanMutateCutoff(t *testing.T) {
	start, end := window(9, 10)
	tk, err := New(CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end}, 30*time.Minute, day)
	if err != nil {
		t.Fatal(err)
	}
	if err := tk.CanMutate(start.Add(-time.Second)); err != nil {
		t.Fatalf("mutation before start rejected: %v", err)
	}
	if err := tk.CanMutate(start); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("mutation at start: got %v, want ErrAlreadyStarted", err)
	}
	if err := tk.CanMutate(start.Add(time.Hour)); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("mutation after start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestServiceRegenerateToken(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemStore(), 30*time.Minute, 60)

	start, end := window(9, 10)
	tk, err := svc.Create(ctx, CreateParams{OwnerID: "t-1", Subject: "algebra", ScheduleStart: start, ScheduleEnd: end})
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.RegenerateToken(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.Token == tk.Token {
		t.Fatal("token was not replaced")
	}
	if !rotated.ExpiresAt.Equal(tk.ExpiresAt) {
		t.Fatal("rotation must not touch expiry")
	}
	if rotated.AcceptedCount != tk.AcceptedCount {
		t.Fatal("rotation must not touch counts")
	}
}

func TestServiceRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemStore(), 30*time.Minute, 60)

	start, end := window(9, 10)
	tk, err := svc.Create(ctx, CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.Revoke(ctx, tk.ID); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	got, err := svc.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("ticket still active after revoke")
	}
}

func TestServiceDefaultCapacity(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemStore(), 30*time.Minute, 45)

	start, end := window(9, 10)
	tk, err := svc.Create(ctx, CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end})
	if err != nil {
		t.Fatal(err)
	}
	if tk.Capacity != 45 {
		t.Fatalf("capacity = %d, want default 45", tk.Capacity)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := NewService(store, 30*time.Minute, 60)

	start, end := window(9, 10)
	tk, err := svc.Create(ctx, CreateParams{OwnerID: "t-1", ScheduleStart: start, ScheduleEnd: end})
	if err != nil {
		t.Fatal(err)
	}

	n, err := store.DeactivateExpired(ctx, tk.ExpiresAt.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d tickets, want 1", n)
	}
	got, err := svc.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("expired ticket still active after sweep")
	}
}
