// Package exporter runs the SIEM export pipeline: it accepts raw security
// events from producers, buffers them on a queue backend, and delivers them
// to every configured destination with retries and dead-lettering.
package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgegate/siem-exporter/internal/adapter"
	"github.com/edgegate/siem-exporter/internal/config"
	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/logging"
	"github.com/edgegate/siem-exporter/internal/metrics"
	"github.com/edgegate/siem-exporter/internal/queue"
)

// Service owns the export pipeline. All state is instance-scoped; create one
// per process with New and drive it through the exported methods.
type Service struct {
	cfg     config.ExporterConfig
	logger  *logging.Logger
	builder envelope.Builder
	sender  *adapter.Sender

	sources map[string]struct{}

	mu      sync.RWMutex
	enabled bool
	backend queue.Backend
	order   []string
	dests   map[string]*destination.Destination

	statsMu sync.Mutex
	stats   map[string]*destinationStats

	runMu      sync.Mutex
	running    bool
	workerCtx  context.Context
	workerStop context.CancelFunc
	workerDone chan struct{}
	tasks      sync.WaitGroup
}

// New builds a Service from configuration. The queue starts on the
// in-process backend; Initialize upgrades it to Redis when configured.
func New(cfg *config.Config, logger *logging.Logger) *Service {
	sources := make(map[string]struct{}, len(cfg.Exporter.EventSources))
	for _, src := range cfg.Exporter.EventSources {
		sources[normalizeSource(src)] = struct{}{}
	}

	return &Service{
		cfg:    cfg.Exporter,
		logger: logger,
		builder: envelope.Builder{
			Service:    cfg.Service.Name,
			Version:    cfg.Service.Version,
			InstanceID: cfg.Service.InstanceID,
		},
		sender:  adapter.NewSender(cfg.Exporter.SendTimeout),
		sources: sources,
		enabled: cfg.Exporter.Enabled,
		backend: queue.NewLocal(queueOptions(cfg.Exporter), logger),
		dests:   make(map[string]*destination.Destination),
		stats:   make(map[string]*destinationStats),
	}
}

func queueOptions(cfg config.ExporterConfig) queue.Options {
	return queue.Options{
		MaxSize:       cfg.QueueMaxSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Backpressure:  cfg.BackpressurePolicy,
	}
}

// Initialize selects the queue backend, loads statically configured
// destinations, and starts the worker when the exporter is enabled. An
// unreachable Redis is a durability downgrade, not a startup failure: the
// service falls back to the in-process queue and says so loudly.
func (s *Service) Initialize(ctx context.Context, redisCfg config.RedisConfig, dests []destination.Destination) error {
	if redisCfg.URL != "" {
		backend, err := s.connectStream(ctx, redisCfg)
		if err != nil {
			s.logger.Warn("redis unavailable, falling back to in-memory queue; queued events will not survive restarts",
				logging.Backend("local"),
				logging.Error(err))
		} else {
			s.mu.Lock()
			s.backend = backend
			s.mu.Unlock()
			s.logger.Info("using redis stream queue backend",
				logging.Backend(backend.Name()))
		}
	}

	for i := range dests {
		if err := s.AddDestination(&dests[i]); err != nil {
			return fmt.Errorf("configure destination %q: %w", dests[i].Name, err)
		}
	}

	s.mu.RLock()
	enabled := s.enabled
	s.mu.RUnlock()
	if enabled {
		s.startWorker()
	}
	return nil
}

func (s *Service) connectStream(ctx context.Context, redisCfg config.RedisConfig) (queue.Backend, error) {
	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	backend, err := queue.NewStream(ctx, client, redisCfg.Stream, redisCfg.ConsumerGroup, queueOptions(s.cfg), s.logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return backend, nil
}

// Submit hands an event to the pipeline without blocking the caller. It
// reports whether the event was accepted for export; the enqueue itself
// happens on a tracked goroutine.
func (s *Service) Submit(event map[string]any, source string) bool {
	if !s.accepts(source) {
		return false
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushInterval+s.cfg.BackoffMax)
		defer cancel()
		if _, err := s.Enqueue(ctx, event, source); err != nil {
			s.logger.Warn("failed to enqueue event", logging.Error(err))
		}
	}()
	return true
}

// Enqueue normalizes and queues one event, blocking per the backpressure
// policy. It reports whether the event was accepted.
func (s *Service) Enqueue(ctx context.Context, event map[string]any, source string) (bool, error) {
	if !s.accepts(source) {
		return false, nil
	}

	env := s.builder.Build(event, source)

	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	if err := backend.Enqueue(ctx, env); err != nil {
		return false, fmt.Errorf("enqueue event %s: %w", env.EventID, err)
	}
	s.updateDepthGauge(ctx, backend)
	return true, nil
}

func (s *Service) accepts(source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return false
	}
	if len(s.sources) == 0 {
		return true
	}
	_, ok := s.sources[normalizeSource(source)]
	return ok
}

// normalizeSource makes source-tag matching insensitive to case and
// surrounding whitespace.
func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

func (s *Service) updateDepthGauge(ctx context.Context, backend queue.Backend) {
	if depth, err := backend.Depth(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues(backend.Name()).Set(float64(depth))
	}
}

// AddDestination validates and installs one destination. Re-adding a name
// replaces its config but keeps its delivery stats. Adding a destination
// enables the exporter and starts the worker if needed.
func (s *Service) AddDestination(d *destination.Destination) error {
	normalized, err := destination.Normalize(d, s.cfg.URLAllowlist)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.dests[normalized.Name]; !exists {
		s.order = append(s.order, normalized.Name)
	}
	s.dests[normalized.Name] = normalized
	s.enabled = true
	s.mu.Unlock()

	s.statsMu.Lock()
	if _, ok := s.stats[normalized.Name]; !ok {
		s.stats[normalized.Name] = &destinationStats{}
	}
	s.statsMu.Unlock()

	s.logger.Info("destination configured",
		logging.Destination(normalized.Name),
		logging.Backend(string(normalized.Type)))

	s.startWorker()
	return nil
}

// ReplaceDestinations atomically swaps the whole destination set.
func (s *Service) ReplaceDestinations(dests []destination.Destination) error {
	normalized := make([]*destination.Destination, 0, len(dests))
	for i := range dests {
		d, err := destination.Normalize(&dests[i], s.cfg.URLAllowlist)
		if err != nil {
			return err
		}
		normalized = append(normalized, d)
	}

	s.mu.Lock()
	s.order = s.order[:0]
	s.dests = make(map[string]*destination.Destination, len(normalized))
	for _, d := range normalized {
		if _, exists := s.dests[d.Name]; !exists {
			s.order = append(s.order, d.Name)
		}
		s.dests[d.Name] = d
	}
	s.enabled = true
	s.mu.Unlock()

	s.statsMu.Lock()
	for _, d := range normalized {
		if _, ok := s.stats[d.Name]; !ok {
			s.stats[d.Name] = &destinationStats{}
		}
	}
	s.statsMu.Unlock()

	if len(normalized) > 0 {
		s.startWorker()
	}
	return nil
}

// RemoveDestination deletes a destination by name and reports whether it
// existed. Its stats are dropped with it.
func (s *Service) RemoveDestination(name string) bool {
	s.mu.Lock()
	_, existed := s.dests[name]
	if existed {
		delete(s.dests, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if existed {
		s.statsMu.Lock()
		delete(s.stats, name)
		s.statsMu.Unlock()
		s.logger.Info("destination removed", logging.Destination(name))
	}
	return existed
}

// ListDestinations returns sanitized destination configs in insertion order.
func (s *Service) ListDestinations() []*destination.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*destination.Destination, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, destination.Sanitize(s.dests[name]))
	}
	return out
}

// TestResult reports a connectivity probe against one destination.
type TestResult struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// TestDestination sends a canonical connectivity-test event straight to the
// named destination, bypassing the queue, and reports round-trip latency.
func (s *Service) TestDestination(ctx context.Context, name string) (TestResult, error) {
	s.mu.RLock()
	dest, ok := s.dests[name]
	s.mu.RUnlock()
	if !ok {
		return TestResult{}, fmt.Errorf("unknown destination %q", name)
	}

	env := s.builder.Build(map[string]any{
		"event_type":  "siem_connectivity_test",
		"severity":    envelope.SeverityLow,
		"category":    "system",
		"description": "connectivity test event",
	}, "system")

	result := TestResult{Name: name}
	start := time.Now()
	err := s.deliver(ctx, dest, env)
	result.LatencyMS = float64(time.Since(start).Milliseconds())
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
	} else {
		result.Status = "ok"
	}
	return result, nil
}

// Health is the service health report.
type Health struct {
	Status       string                       `json:"status"`
	Enabled      bool                         `json:"enabled"`
	Backend      string                       `json:"backend"`
	QueueDepth   int64                        `json:"queue_depth"`
	EventSources []string                     `json:"event_sources"`
	Destinations map[string]DestinationHealth `json:"destinations"`
}

// Health reports overall and per-destination status.
func (s *Service) Health(ctx context.Context) Health {
	s.mu.RLock()
	enabled := s.enabled
	backend := s.backend
	names := append([]string(nil), s.order...)
	destEnabled := make(map[string]bool, len(names))
	destTypes := make(map[string]destination.Type, len(names))
	for _, name := range names {
		destEnabled[name] = s.dests[name].Enabled
		destTypes[name] = s.dests[name].Type
	}
	s.mu.RUnlock()

	sources := make([]string, 0, len(s.sources))
	for src := range s.sources {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	out := Health{
		Enabled:      enabled,
		Backend:      backend.Name(),
		EventSources: sources,
		Destinations: make(map[string]DestinationHealth, len(names)),
	}
	if depth, err := backend.Depth(ctx); err == nil {
		out.QueueDepth = depth
	}

	now := time.Now()
	degraded := false
	s.statsMu.Lock()
	for _, name := range names {
		stats, ok := s.stats[name]
		if !ok {
			stats = &destinationStats{}
		}
		h := stats.health(destEnabled[name], now)
		h.Type = string(destTypes[name])
		out.Destinations[name] = h
		if h.Status == StatusFailing || h.Status == StatusDegraded {
			degraded = true
		}
	}
	s.statsMu.Unlock()

	switch {
	case !enabled:
		out.Status = "disabled"
	case degraded:
		out.Status = "degraded"
	default:
		out.Status = "healthy"
	}
	return out
}

// DeadLetters returns up to limit dead-lettered envelopes, newest first.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()
	return backend.DeadLetters(ctx, limit)
}

// Backend reports the active queue backend name.
func (s *Service) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Name()
}

// Shutdown stops the worker and waits for in-flight retries and submissions
// until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.workerStop()
		done := s.workerDone
		s.running = false
		s.runMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		s.runMu.Unlock()
	}

	finished := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
