// Package queue provides the buffering layer between event producers and the
// export worker. Two backends implement the same contract: an in-process
// bounded channel and a Redis Streams consumer group.
package queue

import (
	"context"
	"time"

	"github.com/edgegate/siem-exporter/internal/envelope"
)

// Entry is one dequeued envelope plus the token needed to acknowledge it.
// The local backend has no acknowledgement protocol and uses an empty token.
type Entry struct {
	Token    string
	Envelope *envelope.Envelope
}

// Backend is the queue contract the worker loop runs against.
type Backend interface {
	// Enqueue adds an envelope, applying the backend's backpressure policy
	// when the queue is at capacity.
	Enqueue(ctx context.Context, env *envelope.Envelope) error

	// DequeueBatch blocks up to the flush interval for at least one envelope,
	// then returns up to the batch size. An empty batch is not an error.
	DequeueBatch(ctx context.Context) ([]Entry, error)

	// Ack marks a dequeued entry as fully processed.
	Ack(ctx context.Context, token string) error

	// DeadLetter stores an envelope that exhausted its delivery retries.
	DeadLetter(ctx context.Context, env *envelope.Envelope) error

	// DeadLetters returns up to limit dead-lettered envelopes, newest first.
	DeadLetters(ctx context.Context, limit int) ([]*envelope.Envelope, error)

	// Depth reports the number of envelopes waiting in the queue.
	Depth(ctx context.Context) (int64, error)

	// Name identifies the backend in health output and logs.
	Name() string
}

// Options carries the tuning shared by both backends.
type Options struct {
	MaxSize       int
	BatchSize     int
	FlushInterval time.Duration
	Backpressure  string
}

// Backpressure policies for a full queue.
const (
	DropOldest    = "drop_oldest"
	BlockProducer = "block_producer"
)

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.Backpressure == "" {
		o.Backpressure = DropOldest
	}
	return o
}
