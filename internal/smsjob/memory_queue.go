package smsjob

import (
	"context"

	"github.com/google/uuid"
)

// MemoryQueue is a queueClient backed by an in-memory buffered channel,
// for local development and tests (config.UseMemoryQueue).
type MemoryQueue struct {
	ch chan queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := queueMessage{ID: uuid.NewString(), Body: body}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain returns every message currently buffered, for tests that want
// to assert on what was enqueued without a real consumer.
func (q *MemoryQueue) Drain() []string {
	var bodies []string
	for {
		select {
		case msg := <-q.ch:
			bodies = append(bodies, msg.Body)
		default:
			return bodies
		}
	}
}
