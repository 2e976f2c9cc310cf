package exporter

import (
	"context"
	"time"

	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
	"github.com/edgegate/siem-exporter/internal/logging"
	"github.com/edgegate/siem-exporter/internal/metrics"
	"github.com/edgegate/siem-exporter/internal/queue"
	"github.com/edgegate/siem-exporter/internal/redact"
)

// startWorker launches the dispatch loop once. Safe to call repeatedly.
func (s *Service) startWorker() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.workerCtx = ctx
	s.workerStop = cancel
	s.workerDone = make(chan struct{})
	s.running = true

	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.workerDone)
	s.logger.Info("export worker started", logging.Backend(s.Backend()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("export worker stopped")
			return
		default:
		}

		s.mu.RLock()
		backend := s.backend
		s.mu.RUnlock()

		batch, err := backend.DequeueBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("export worker stopped")
				return
			}
			s.logger.Warn("dequeue failed", logging.Error(err))
			continue
		}

		for _, entry := range batch {
			s.process(ctx, backend, entry)
		}
		s.updateDepthGauge(ctx, backend)
	}
}

// process dispatches one envelope and acknowledges it regardless of outcome:
// failed destinations are handled by the retry scheduler, not redelivery.
func (s *Service) process(ctx context.Context, backend queue.Backend, entry queue.Entry) {
	failed := s.dispatch(ctx, entry.Envelope)
	if len(failed) > 0 {
		s.scheduleRetry(ctx, backend, entry.Envelope, failed)
	}

	if entry.Token != "" {
		if err := backend.Ack(ctx, entry.Token); err != nil {
			s.logger.Warn("failed to ack entry",
				logging.EventID(entry.Envelope.EventID),
				logging.Error(err))
		}
	}
}

// dispatch delivers one envelope to every matching destination in config
// insertion order and returns the names that failed. A retried envelope
// targets only its pending destinations.
func (s *Service) dispatch(ctx context.Context, env *envelope.Envelope) []string {
	var targets map[string]struct{}
	if len(env.Meta.PendingDestinations) > 0 {
		targets = make(map[string]struct{}, len(env.Meta.PendingDestinations))
		for _, name := range env.Meta.PendingDestinations {
			targets[name] = struct{}{}
		}
	}

	s.mu.RLock()
	order := append([]string(nil), s.order...)
	dests := make(map[string]*destination.Destination, len(order))
	for _, name := range order {
		dests[name] = s.dests[name]
	}
	s.mu.RUnlock()

	var failed []string
	for _, name := range order {
		if targets != nil {
			if _, ok := targets[name]; !ok {
				continue
			}
		}
		dest := dests[name]
		if !dest.Enabled || !dest.Filters.Matches(env) {
			continue
		}

		start := time.Now()
		err := s.deliver(ctx, dest, env)
		elapsed := time.Since(start)

		metrics.DeliveryDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		s.statsMu.Lock()
		stats, ok := s.stats[name]
		if !ok {
			stats = &destinationStats{}
			s.stats[name] = stats
		}
		if err != nil {
			stats.recordFailure(start, err)
		} else {
			stats.recordSuccess(start, elapsed)
		}
		s.statsMu.Unlock()

		if err != nil {
			metrics.EventsTotal.WithLabelValues(name, "failure").Inc()
			s.logger.Warn("delivery failed",
				logging.Destination(name),
				logging.EventID(env.EventID),
				logging.Attempt(env.Meta.Attempt),
				logging.Error(err))
			failed = append(failed, name)
			continue
		}
		metrics.EventsTotal.WithLabelValues(name, "success").Inc()
		s.logger.Debug("event delivered",
			logging.Destination(name),
			logging.EventID(env.EventID),
			logging.Duration(elapsed.Milliseconds()))
	}
	return failed
}

// deliver redacts, formats, and sends one envelope to one destination.
func (s *Service) deliver(ctx context.Context, dest *destination.Destination, env *envelope.Envelope) error {
	fields := redact.NewFieldSet(s.cfg.RedactFields, dest.RedactFields)
	redacted := redact.Apply(env, fields)

	payload, err := format.Convert(dest.Format, redacted)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, dest, redacted, payload)
}

// scheduleRetry queues a clone of the envelope targeting exactly the failed
// destinations, after an exponential backoff. Once the attempt counter
// passes max retries the clone is dead-lettered instead.
func (s *Service) scheduleRetry(ctx context.Context, backend queue.Backend, env *envelope.Envelope, failed []string) {
	retry := env.Clone()
	retry.Meta.PendingDestinations = failed
	retry.Meta.Attempt++

	if retry.Meta.Attempt > s.cfg.MaxRetries {
		now := time.Now().UTC()
		retry.Meta.DeadLetteredAt = &now
		if err := backend.DeadLetter(ctx, retry); err != nil {
			s.logger.Error("failed to dead-letter event",
				logging.EventID(retry.EventID),
				logging.Error(err))
			return
		}
		metrics.DeadLettersTotal.Inc()
		s.logger.Error("event dead-lettered after exhausting retries",
			logging.EventID(retry.EventID),
			logging.EventType(retry.EventType),
			logging.Attempt(retry.Meta.Attempt))
		return
	}

	delay := BackoffDelay(retry.Meta.Attempt, s.cfg.BackoffMax)
	metrics.RetriesTotal.Inc()
	s.logger.Info("retry scheduled",
		logging.EventID(retry.EventID),
		logging.Attempt(retry.Meta.Attempt),
		logging.Duration(delay.Milliseconds()))

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		enqCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
		defer cancel()
		if err := backend.Enqueue(enqCtx, retry); err != nil {
			// The envelope must not vanish: if the queue rejects the retry,
			// dead-letter it so the event is still accounted for.
			s.logger.Error("failed to requeue retry, dead-lettering",
				logging.EventID(retry.EventID),
				logging.Error(err))
			now := time.Now().UTC()
			retry.Meta.DeadLetteredAt = &now
			if dlErr := backend.DeadLetter(enqCtx, retry); dlErr != nil {
				s.logger.Error("failed to dead-letter event",
					logging.EventID(retry.EventID),
					logging.Error(dlErr))
				return
			}
			metrics.DeadLettersTotal.Inc()
		}
	}()
}

// BackoffDelay computes the retry delay for an attempt: 2^(attempt-1)
// seconds capped at max.
func BackoffDelay(attempt int, max time.Duration) time.Duration {
	if max <= 0 {
		max = 60 * time.Second
	}
	if attempt <= 1 {
		return time.Second
	}
	if attempt-1 >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
