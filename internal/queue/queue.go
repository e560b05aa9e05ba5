package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrFull reports that the in-memory buffer had no room for an event.
var ErrFull = errors.New("queue: buffer full, event dropped")

// AdmissionEvent is published after every accepted admission so downstream
// consumers (audit log, metrics, notifications) see the stream.
type AdmissionEvent struct {
	RecordID  string    `json:"record_id"`
	SubjectID string    `json:"subject_id"`
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	Verified  bool      `json:"verified"`
	MarkedAt  time.Time `json:"marked_at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, evt AdmissionEvent) error
	Consume(ctx context.Context) (<-chan AdmissionEvent, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan AdmissionEvent
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan AdmissionEvent, size)}
}

// Publish enqueues an event. A full buffer drops the event and reports
// ErrFull instead of blocking the admit path; callers log the drop.
func (q *InMemory) Publish(ctx context.Context, evt AdmissionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- evt:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan AdmissionEvent, error) {
	out := make(chan AdmissionEvent)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-q.ch:
				out <- evt
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "rollcall:admissions"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues an event as JSON.
func (q *RedisQueue) Publish(ctx context.Context, evt AdmissionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams events using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan AdmissionEvent, error) {
	out := make(chan AdmissionEvent)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var evt AdmissionEvent
				if err := json.Unmarshal([]byte(res[1]), &evt); err == nil {
					out <- evt
				}
			}
		}
	}()
	return out, nil
}
