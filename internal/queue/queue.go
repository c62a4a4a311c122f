package queue

import (
	"context"
	"errors"
	"time"
)

// Job classes. Each class is backed by its own durable stream.
const (
	ClassMessages      = "messages"
	ClassNotifications = "notifications"
	ClassEmail         = "email"
)

// ErrDeadLetter marks a job as permanently unprocessable. Handlers return it
// (or wrap it) to move the job to the dead-letter stream without retries.
var ErrDeadLetter = errors.New("dead letter")

// Handler processes a single dequeued job payload. Returning nil acknowledges
// the job; returning an error leaves it pending for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// ConsumeOptions bounds concurrency and retry behavior for one consumer.
type ConsumeOptions struct {
	// Prefetch is the maximum number of jobs processed concurrently by this
	// consumer. It doubles as the read batch size, so a slow downstream
	// throttles how fast new work is released.
	Prefetch int

	// RetryAttempts is the number of deliveries before a job is dead-lettered.
	RetryAttempts int

	// RetryDelay is the base redelivery delay; actual delay grows
	// exponentially with the delivery count.
	RetryDelay time.Duration

	Group    string
	Consumer string
}

func (o ConsumeOptions) withDefaults() ConsumeOptions {
	if o.Prefetch <= 0 {
		o.Prefetch = 16
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Group == "" {
		o.Group = "relay-workers"
	}
	if o.Consumer == "" {
		o.Consumer = "consumer-1"
	}
	return o
}

// DeadLetter is a job that exhausted its retries, kept for operator inspection.
type DeadLetter struct {
	ID       string    `json:"id"`
	JobClass string    `json:"job_class"`
	Payload  []byte    `json:"payload"`
	Reason   string    `json:"reason"`
	MovedAt  time.Time `json:"moved_at"`
}

// Queue is a named, durable channel per job class. Publishing never requires
// a connected consumer; consumption is at-least-once.
type Queue interface {
	Publish(ctx context.Context, jobClass string, payload []byte) error
	Consume(ctx context.Context, jobClass string, handler Handler, opts ConsumeOptions) error
	DeadLetters(ctx context.Context, jobClass string, limit int) ([]DeadLetter, error)
	Close() error
}
