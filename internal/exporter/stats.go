package exporter

import (
	"time"
)

// Destination status values reported by Health.
const (
	StatusConnected = "connected"
	StatusDegraded  = "degraded"
	StatusFailing   = "failing"
	StatusDisabled  = "disabled"
)

// failingThreshold is the consecutive-failure count at which a destination
// is reported as failing rather than degraded.
const failingThreshold = 10

// latencyAlpha is the smoothing factor of the latency moving average.
const latencyAlpha = 0.2

// rollingWindow bounds the sent/failed history used for hourly counts.
const rollingWindow = time.Hour

// destinationStats tracks delivery outcomes for one destination. All fields
// are guarded by the service stats mutex.
type destinationStats struct {
	sent   []time.Time
	failed []time.Time

	consecutiveFailures int
	lastError           string
	lastEventSent       time.Time
	avgLatencyMS        float64
	hasLatency          bool
}

func (s *destinationStats) recordSuccess(now time.Time, latency time.Duration) {
	s.sent = append(s.sent, now)
	s.consecutiveFailures = 0
	s.lastError = ""
	s.lastEventSent = now

	ms := float64(latency.Milliseconds())
	if !s.hasLatency {
		s.avgLatencyMS = ms
		s.hasLatency = true
	} else {
		s.avgLatencyMS = latencyAlpha*ms + (1-latencyAlpha)*s.avgLatencyMS
	}

	s.prune(now)
}

func (s *destinationStats) recordFailure(now time.Time, err error) {
	s.failed = append(s.failed, now)
	s.consecutiveFailures++
	s.lastError = err.Error()

	s.prune(now)
}

// prune drops history older than the rolling window.
func (s *destinationStats) prune(now time.Time) {
	cutoff := now.Add(-rollingWindow)
	s.sent = pruneBefore(s.sent, cutoff)
	s.failed = pruneBefore(s.failed, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// status classifies the destination from its failure streak.
func (s *destinationStats) status(enabled bool) string {
	switch {
	case !enabled:
		return StatusDisabled
	case s.consecutiveFailures >= failingThreshold:
		return StatusFailing
	case s.consecutiveFailures > 0:
		return StatusDegraded
	default:
		return StatusConnected
	}
}

// DestinationHealth is the per-destination block of the health report.
type DestinationHealth struct {
	Type                string     `json:"type"`
	Status              string     `json:"status"`
	LastEventSent       *time.Time `json:"last_event_sent,omitempty"`
	SentLastHour        int        `json:"sent_last_hour"`
	FailedLastHour      int        `json:"failed_last_hour"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AvgLatencyMS        float64    `json:"avg_latency_ms"`
	LastError           string     `json:"last_error,omitempty"`
}

func (s *destinationStats) health(enabled bool, now time.Time) DestinationHealth {
	s.prune(now)
	h := DestinationHealth{
		Status:              s.status(enabled),
		SentLastHour:        len(s.sent),
		FailedLastHour:      len(s.failed),
		ConsecutiveFailures: s.consecutiveFailures,
		AvgLatencyMS:        s.avgLatencyMS,
		LastError:           s.lastError,
	}
	if !s.lastEventSent.IsZero() {
		sent := s.lastEventSent
		h.LastEventSent = &sent
	}
	return h
}
