package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/logging"
)

// Stream is the durable queue backend on a Redis Stream with a consumer
// group. Envelopes are stored as a single JSON field; the stream is trimmed
// approximately to the queue capacity on every add. Dead letters go to a
// sibling stream named "<stream>:dlq".
type Stream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	opts     Options
	logger   *logging.Logger
}

const streamField = "event"

// NewStream creates the Redis backend and ensures the consumer group exists.
// A group that already exists is fine; any other setup error is fatal.
func NewStream(ctx context.Context, client *redis.Client, stream, group string, opts Options, logger *logging.Logger) (*Stream, error) {
	opts = opts.withDefaults()

	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Stream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: hostname + "-" + uuid.NewString()[:8],
		opts:     opts,
		logger:   logger,
	}, nil
}

func (s *Stream) Name() string {
	return "redis"
}

// Enqueue XADDs the envelope with approximate MaxLen trimming, which caps
// the stream near the configured queue size by evicting the oldest entries.
func (s *Stream) Enqueue(ctx context.Context, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: int64(s.opts.MaxSize),
		Approx: true,
		Values: map[string]any{streamField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", s.stream, err)
	}
	return nil
}

// DequeueBatch reads new entries for this consumer, blocking up to the flush
// interval. Malformed payloads are acked and dropped so they cannot wedge
// the group; transient read errors are logged and absorbed with a short
// pause instead of killing the worker.
func (s *Stream) DequeueBatch(ctx context.Context) ([]Entry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(s.opts.BatchSize),
		Block:    s.opts.FlushInterval,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("redis stream read failed, backing off",
			logging.Backend(s.Name()),
			logging.Error(err))
		time.Sleep(time.Second)
		return nil, nil
	}

	var batch []Entry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			env, ok := s.decode(msg)
			if !ok {
				// Poison entry: acknowledge so it is never redelivered.
				if err := s.Ack(ctx, msg.ID); err != nil {
					s.logger.Warn("failed to ack malformed entry",
						logging.Backend(s.Name()),
						logging.Error(err))
				}
				continue
			}
			batch = append(batch, Entry{Token: msg.ID, Envelope: env})
		}
	}
	return batch, nil
}

func (s *Stream) decode(msg redis.XMessage) (*envelope.Envelope, bool) {
	raw, ok := msg.Values[streamField].(string)
	if !ok {
		s.logger.Warn("stream entry missing event field, dropping",
			logging.Backend(s.Name()))
		return nil, false
	}
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.Warn("stream entry not decodable, dropping",
			logging.Backend(s.Name()),
			logging.Error(err))
		return nil, false
	}
	return &env, true
}

func (s *Stream) Ack(ctx context.Context, token string) error {
	if err := s.client.XAck(ctx, s.stream, s.group, token).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", token, err)
	}
	return nil
}

// DeadLetter stores the envelope on the sibling DLQ stream, trimmed to the
// same capacity as the main stream.
func (s *Stream) DeadLetter(ctx context.Context, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", env.EventID, err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqStream(),
		MaxLen: int64(s.opts.MaxSize),
		Approx: true,
		Values: map[string]any{streamField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", s.dlqStream(), err)
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered envelopes, newest first.
func (s *Stream) DeadLetters(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	if limit <= 0 {
		limit = s.opts.MaxSize
	}
	msgs, err := s.client.XRevRangeN(ctx, s.dlqStream(), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters from %s: %w", s.dlqStream(), err)
	}

	out := make([]*envelope.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		if env, ok := s.decode(msg); ok {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *Stream) Depth(ctx context.Context) (int64, error) {
	depth, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", s.stream, err)
	}
	return depth, nil
}

func (s *Stream) dlqStream() string {
	return s.stream + ":dlq"
}
