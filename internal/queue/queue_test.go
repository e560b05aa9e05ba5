package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	evt := AdmissionEvent{
		RecordID:  "rec-1",
		SubjectID: "student-1",
		TicketID:  "tkt-1",
		Status:    "present",
		Method:    "token_only",
		Verified:  true,
		MarkedAt:  time.Now().UTC(),
	}
	if err := q.Publish(ctx, evt); err != nil {
		t.Fatal(err)
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-out:
		if got.RecordID != evt.RecordID || got.Status != evt.Status {
			t.Fatalf("got %+v, want %+v", got, evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	if err := q.Publish(ctx, AdmissionEvent{RecordID: "a"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := q.Publish(ctx, AdmissionEvent{RecordID: "b"}); err == nil {
		t.Fatal("publish on full queue with cancelled context must fail")
	}
}

func TestInMemoryPublishDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(1)
	if err := q.Publish(ctx, AdmissionEvent{RecordID: "a"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Publish(ctx, AdmissionEvent{RecordID: "b"}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrFull) {
			t.Fatalf("got %v, want ErrFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}
