package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/siem-exporter/internal/config"
	"github.com/edgegate/siem-exporter/internal/destination"
	"github.com/edgegate/siem-exporter/internal/envelope"
	"github.com/edgegate/siem-exporter/internal/format"
	"github.com/edgegate/siem-exporter/internal/logging"
	"github.com/edgegate/siem-exporter/internal/queue"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "edgegate", Version: "1.0.0", InstanceID: "test-1"},
		Exporter: config.ExporterConfig{
			Enabled:            true,
			BatchSize:          10,
			FlushInterval:      50 * time.Millisecond,
			QueueMaxSize:       100,
			MaxRetries:         0,
			BackoffMax:         time.Second,
			BackpressurePolicy: "drop_oldest",
			SendTimeout:        2 * time.Second,
			EventSources:       []string{"security", "audit"},
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc := New(cfg, logging.New(slog.LevelError, "text"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

// collector is a webhook sink that records delivered envelopes.
type collector struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{status: http.StatusOK}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		status := c.status
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *collector) setStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *collector) destination(name string) *destination.Destination {
	return &destination.Destination{
		Name:    name,
		Type:    destination.TypeWebhook,
		Format:  format.KindJSON,
		Enabled: true,
		URL:     c.srv.URL,
	}
}

func TestService_EndToEndDelivery(t *testing.T) {
	sink := newCollector(t)
	svc := newTestService(t, testConfig())
	require.NoError(t, svc.AddDestination(sink.destination("hook")))

	ok, err := svc.Enqueue(context.Background(), map[string]any{
		"event_type": "auth_failure",
		"severity":   "HIGH",
		"user_id":    "u-1",
	}, "security")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	body := sink.bodies[0]
	sink.mu.Unlock()
	assert.Equal(t, "auth_failure", body["event_type"])
	assert.Equal(t, "HIGH", body["severity"])
	assert.Equal(t, envelope.SchemaVersion, body["schema_version"])
}

func TestService_SubmitGating(t *testing.T) {
	t.Run("disabled exporter rejects", func(t *testing.T) {
		cfg := testConfig()
		cfg.Exporter.Enabled = false
		svc := newTestService(t, cfg)
		assert.False(t, svc.Submit(map[string]any{"event_type": "x"}, "security"))
	})

	t.Run("unknown source rejects", func(t *testing.T) {
		svc := newTestService(t, testConfig())
		assert.False(t, svc.Submit(map[string]any{"event_type": "x"}, "billing"))
	})

	t.Run("configured source accepted", func(t *testing.T) {
		svc := newTestService(t, testConfig())
		assert.True(t, svc.Submit(map[string]any{"event_type": "x"}, "audit"))
	})

	t.Run("source tag matching ignores case and whitespace", func(t *testing.T) {
		svc := newTestService(t, testConfig())
		assert.True(t, svc.Submit(map[string]any{"event_type": "x"}, " Security "))
	})
}

func TestService_FilterSkipsDestination(t *testing.T) {
	critOnly := newCollector(t)
	all := newCollector(t)
	svc := newTestService(t, testConfig())

	critDest := critOnly.destination("crit-only")
	critDest.Filters.Severity = []string{"CRITICAL"}
	require.NoError(t, svc.AddDestination(critDest))
	require.NoError(t, svc.AddDestination(all.destination("all")))

	_, err := svc.Enqueue(context.Background(), map[string]any{
		"event_type": "auth_failure",
		"severity":   "LOW",
	}, "security")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return all.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, critOnly.count())
}

func TestService_OneFailureDoesNotBlockOthers(t *testing.T) {
	failing := newCollector(t)
	failing.setStatus(http.StatusInternalServerError)
	healthy := newCollector(t)

	svc := newTestService(t, testConfig())
	require.NoError(t, svc.AddDestination(failing.destination("bad")))
	require.NoError(t, svc.AddDestination(healthy.destination("good")))

	_, err := svc.Enqueue(context.Background(), map[string]any{"event_type": "intrusion"}, "security")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return healthy.count() == 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestService_DeadLetterAfterMaxRetries(t *testing.T) {
	sink := newCollector(t)
	sink.setStatus(http.StatusBadGateway)

	cfg := testConfig() // MaxRetries 0: first failure dead-letters
	svc := newTestService(t, cfg)
	require.NoError(t, svc.AddDestination(sink.destination("down")))

	_, err := svc.Enqueue(context.Background(), map[string]any{
		"event_type": "intrusion",
		"severity":   "CRITICAL",
	}, "security")
	require.NoError(t, err)

	var letters []*envelope.Envelope
	require.Eventually(t, func() bool {
		letters, err = svc.DeadLetters(context.Background(), 10)
		return err == nil && len(letters) == 1
	}, 3*time.Second, 20*time.Millisecond)

	dead := letters[0]
	assert.Equal(t, "intrusion", dead.EventType)
	assert.Equal(t, []string{"down"}, dead.Meta.PendingDestinations)
	assert.Equal(t, 1, dead.Meta.Attempt)
	require.NotNil(t, dead.Meta.DeadLetteredAt)
}

// brokenQueue rejects every enqueue but still accepts dead letters, like a
// stream backend whose main stream has become unwritable.
type brokenQueue struct {
	mu   sync.Mutex
	dead []*envelope.Envelope
}

func (b *brokenQueue) Enqueue(ctx context.Context, env *envelope.Envelope) error {
	return errors.New("stream unavailable")
}

func (b *brokenQueue) DequeueBatch(ctx context.Context) ([]queue.Entry, error) { return nil, nil }

func (b *brokenQueue) Ack(ctx context.Context, token string) error { return nil }

func (b *brokenQueue) DeadLetter(ctx context.Context, env *envelope.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, env)
	return nil
}

func (b *brokenQueue) DeadLetters(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*envelope.Envelope(nil), b.dead...), nil
}

func (b *brokenQueue) Depth(ctx context.Context) (int64, error) { return 0, nil }

func (b *brokenQueue) Name() string { return "broken" }

func TestService_RequeueFailureDeadLetters(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.MaxRetries = 3
	svc := newTestService(t, cfg)

	backend := &brokenQueue{}
	env := svc.builder.Build(map[string]any{"event_type": "intrusion"}, "security")

	svc.scheduleRetry(context.Background(), backend, env, []string{"down"})

	var letters []*envelope.Envelope
	require.Eventually(t, func() bool {
		letters, _ = backend.DeadLetters(context.Background(), 10)
		return len(letters) == 1
	}, 3*time.Second, 20*time.Millisecond)

	dead := letters[0]
	assert.Equal(t, []string{"down"}, dead.Meta.PendingDestinations)
	assert.Equal(t, 1, dead.Meta.Attempt)
	require.NotNil(t, dead.Meta.DeadLetteredAt)
}

func TestService_InitializeStartsWorkerWithoutDestinations(t *testing.T) {
	svc := newTestService(t, testConfig())
	require.NoError(t, svc.Initialize(context.Background(), config.RedisConfig{}, nil))

	svc.runMu.Lock()
	running := svc.running
	svc.runMu.Unlock()
	assert.True(t, running)
}

func TestService_RetryTargetsOnlyFailedDestinations(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.MaxRetries = 3
	svc := newTestService(t, cfg)

	first := newCollector(t)
	second := newCollector(t)
	require.NoError(t, svc.AddDestination(first.destination("first")))
	require.NoError(t, svc.AddDestination(second.destination("second")))

	env := svc.builder.Build(map[string]any{"event_type": "probe"}, "security")
	env.Meta.Attempt = 1
	env.Meta.PendingDestinations = []string{"second"}

	failed := svc.dispatch(context.Background(), env)

	assert.Empty(t, failed)
	assert.Zero(t, first.count(), "non-pending destination must be skipped on retry")
	assert.Equal(t, 1, second.count())
}

func TestService_AdminOperations(t *testing.T) {
	sink := newCollector(t)
	svc := newTestService(t, testConfig())

	d := sink.destination("hook")
	d.HMACSecret = "supersecret"
	require.NoError(t, svc.AddDestination(d))

	t.Run("list is sanitized and ordered", func(t *testing.T) {
		require.NoError(t, svc.AddDestination(sink.destination("zeta")))
		list := svc.ListDestinations()
		require.Len(t, list, 2)
		assert.Equal(t, "hook", list[0].Name)
		assert.Equal(t, "zeta", list[1].Name)
		assert.NotEqual(t, "supersecret", list[0].HMACSecret)
	})

	t.Run("re-add replaces without duplicating order", func(t *testing.T) {
		require.NoError(t, svc.AddDestination(sink.destination("hook")))
		assert.Len(t, svc.ListDestinations(), 2)
	})

	t.Run("invalid config rejected synchronously", func(t *testing.T) {
		err := svc.AddDestination(&destination.Destination{Name: "bad", Type: "kafka"})
		var cfgErr *destination.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("remove", func(t *testing.T) {
		assert.True(t, svc.RemoveDestination("zeta"))
		assert.False(t, svc.RemoveDestination("zeta"))
		assert.Len(t, svc.ListDestinations(), 1)
	})

	t.Run("replace swaps the whole set", func(t *testing.T) {
		require.NoError(t, svc.ReplaceDestinations([]destination.Destination{*sink.destination("only")}))
		list := svc.ListDestinations()
		require.Len(t, list, 1)
		assert.Equal(t, "only", list[0].Name)
	})
}

func TestService_URLAllowlistEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.URLAllowlist = []string{"allowed.example.com"}
	svc := newTestService(t, cfg)

	sink := newCollector(t)
	err := svc.AddDestination(sink.destination("blocked"))
	var cfgErr *destination.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestService_RedactionAppliedBeforeSend(t *testing.T) {
	sink := newCollector(t)
	cfg := testConfig()
	cfg.Exporter.RedactFields = []string{"user_email"}
	svc := newTestService(t, cfg)

	d := sink.destination("hook")
	d.RedactFields = []string{"session_token"}
	require.NoError(t, svc.AddDestination(d))

	_, err := svc.Enqueue(context.Background(), map[string]any{
		"event_type": "auth_failure",
		"user_email": "alice@example.com",
		"metadata":   map[string]any{"session_token": "tok-123"},
	}, "security")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	body := sink.bodies[0]
	sink.mu.Unlock()

	actor := body["actor"].(map[string]any)
	assert.Equal(t, "***REDACTED***", actor["user_email"])
	metadata := body["metadata"].(map[string]any)
	assert.Equal(t, "***REDACTED***", metadata["session_token"])
}

func TestService_TestDestination(t *testing.T) {
	sink := newCollector(t)
	svc := newTestService(t, testConfig())
	require.NoError(t, svc.AddDestination(sink.destination("hook")))

	t.Run("reachable destination", func(t *testing.T) {
		result, err := svc.TestDestination(context.Background(), "hook")
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Status)
		assert.Empty(t, result.Error)

		sink.mu.Lock()
		body := sink.bodies[len(sink.bodies)-1]
		sink.mu.Unlock()
		assert.Equal(t, "siem_connectivity_test", body["event_type"])
	})

	t.Run("failing destination", func(t *testing.T) {
		sink.setStatus(http.StatusServiceUnavailable)
		result, err := svc.TestDestination(context.Background(), "hook")
		require.NoError(t, err)
		assert.Equal(t, "failed", result.Status)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("unknown destination", func(t *testing.T) {
		_, err := svc.TestDestination(context.Background(), "nope")
		assert.Error(t, err)
	})
}

func TestService_Health(t *testing.T) {
	sink := newCollector(t)
	svc := newTestService(t, testConfig())
	require.NoError(t, svc.AddDestination(sink.destination("hook")))

	disabled := sink.destination("off")
	disabled.Enabled = false
	require.NoError(t, svc.AddDestination(disabled))

	h := svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Enabled)
	assert.Equal(t, "local", h.Backend)
	assert.Equal(t, []string{"audit", "security"}, h.EventSources)
	assert.Equal(t, StatusConnected, h.Destinations["hook"].Status)
	assert.Equal(t, "webhook", h.Destinations["hook"].Type)
	assert.Nil(t, h.Destinations["hook"].LastEventSent)
	assert.Equal(t, StatusDisabled, h.Destinations["off"].Status)

	t.Run("successful delivery stamps last event sent", func(t *testing.T) {
		sent := time.Now()
		svc.statsMu.Lock()
		svc.stats["hook"].recordSuccess(sent, 5*time.Millisecond)
		svc.statsMu.Unlock()

		h := svc.Health(context.Background())
		require.NotNil(t, h.Destinations["hook"].LastEventSent)
		assert.Equal(t, sent, *h.Destinations["hook"].LastEventSent)
	})

	t.Run("single failure degrades service", func(t *testing.T) {
		svc.statsMu.Lock()
		svc.stats["hook"].recordFailure(time.Now(), assert.AnError)
		svc.statsMu.Unlock()

		h := svc.Health(context.Background())
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, StatusDegraded, h.Destinations["hook"].Status)
	})

	t.Run("failing destination degrades service", func(t *testing.T) {
		svc.statsMu.Lock()
		stats := svc.stats["hook"]
		for i := 0; i < failingThreshold; i++ {
			stats.recordFailure(time.Now(), assert.AnError)
		}
		svc.statsMu.Unlock()

		h := svc.Health(context.Background())
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, StatusFailing, h.Destinations["hook"].Status)
		assert.NotEmpty(t, h.Destinations["hook"].LastError)
	})
}

func TestService_ShutdownStopsWorker(t *testing.T) {
	sink := newCollector(t)
	svc := New(testConfig(), logging.New(slog.LevelError, "text"))
	require.NoError(t, svc.AddDestination(sink.destination("hook")))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	// A second shutdown is a no-op.
	require.NoError(t, svc.Shutdown(ctx))
}
