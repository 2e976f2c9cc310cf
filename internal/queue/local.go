package queue

import (
	"context"
	"sync"
	"time"

	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/logging"
)

// Local is the in-process queue backend: a bounded channel with a
// configurable policy for producers that hit the capacity limit. Dead
// letters go to a bounded in-memory ring sized like the queue itself.
type Local struct {
	events chan *envelope.Envelope
	opts   Options
	logger *logging.Logger

	deadMu sync.Mutex
	dead   []*envelope.Envelope
}

// NewLocal creates the in-process backend.
func NewLocal(opts Options, logger *logging.Logger) *Local {
	opts = opts.withDefaults()
	return &Local{
		events: make(chan *envelope.Envelope, opts.MaxSize),
		opts:   opts,
		logger: logger,
	}
}

func (l *Local) Name() string {
	return "local"
}

// Enqueue adds an envelope. With drop_oldest a full queue evicts its head to
// make room; with block_producer the send blocks until space frees up or ctx
// is cancelled.
func (l *Local) Enqueue(ctx context.Context, env *envelope.Envelope) error {
	if l.opts.Backpressure == BlockProducer {
		select {
		case l.events <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case l.events <- env:
			return nil
		default:
		}
		select {
		case dropped := <-l.events:
			l.logger.Warn("queue full, dropping oldest event",
				logging.EventID(dropped.EventID),
				logging.EventType(dropped.EventType))
		default:
		}
	}
}

// DequeueBatch waits up to the flush interval for the first envelope, then
// drains whatever else is immediately available up to the batch size.
func (l *Local) DequeueBatch(ctx context.Context) ([]Entry, error) {
	timer := time.NewTimer(l.opts.FlushInterval)
	defer timer.Stop()

	var first *envelope.Envelope
	select {
	case first = <-l.events:
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	batch := make([]Entry, 0, l.opts.BatchSize)
	batch = append(batch, Entry{Envelope: first})
	for len(batch) < l.opts.BatchSize {
		select {
		case env := <-l.events:
			batch = append(batch, Entry{Envelope: env})
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Ack is a no-op: channel receives are already consuming.
func (l *Local) Ack(ctx context.Context, token string) error {
	return nil
}

// DeadLetter appends to the in-memory ring, evicting the oldest entry once
// the ring reaches the queue capacity.
func (l *Local) DeadLetter(ctx context.Context, env *envelope.Envelope) error {
	l.deadMu.Lock()
	defer l.deadMu.Unlock()

	l.dead = append(l.dead, env)
	if len(l.dead) > l.opts.MaxSize {
		l.dead = l.dead[len(l.dead)-l.opts.MaxSize:]
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered envelopes, newest first.
func (l *Local) DeadLetters(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	l.deadMu.Lock()
	defer l.deadMu.Unlock()

	if limit <= 0 || limit > len(l.dead) {
		limit = len(l.dead)
	}
	out := make([]*envelope.Envelope, 0, limit)
	for i := len(l.dead) - 1; i >= len(l.dead)-limit; i-- {
		out = append(out, l.dead[i])
	}
	return out, nil
}

func (l *Local) Depth(ctx context.Context) (int64, error) {
	return int64(len(l.events)), nil
}
