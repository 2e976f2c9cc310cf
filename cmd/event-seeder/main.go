// event-seeder pumps synthetic security events through a configured exporter
// so destinations can be smoke-tested end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/edgegate/siem-exporter/internal/config"
	"github.com/edgegate/siem-exporter/internal/exporter"
	"github.com/edgegate/siem-exporter/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to exporter config file (required)")
	count      = flag.Int("count", 100, "number of events to generate")
	interval   = flag.Duration("interval", 100*time.Millisecond, "interval between events")
	eventTypes = flag.String("types", "auth_failure,rate_limit_exceeded,permission_denied,token_revoked,intrusion", "comma-separated list of event types")
	source     = flag.String("source", "security", "event source tag")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("config file is required. Use -config flag")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Exporter.Enabled = true

	gofakeit.Seed(time.Now().UnixNano())

	logger := logging.New(logging.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogFormat)
	svc := exporter.New(cfg, logger)

	ctx := context.Background()
	if err := svc.Initialize(ctx, cfg.Redis, cfg.Destinations); err != nil {
		log.Fatalf("Failed to initialize exporter: %v", err)
	}

	types := strings.Split(*eventTypes, ",")
	log.Printf("Starting event seeder:")
	log.Printf("  Event count: %d", *count)
	log.Printf("  Interval: %v", *interval)
	log.Printf("  Event types: %v", types)
	log.Printf("  Destinations: %d", len(cfg.Destinations))

	accepted := 0
	rejected := 0
	for i := 0; i < *count; i++ {
		eventType := strings.TrimSpace(types[rand.Intn(len(types))])
		ok, err := svc.Enqueue(ctx, generateEvent(eventType), *source)
		if err != nil {
			log.Printf("Failed to enqueue event: %v", err)
			rejected++
		} else if !ok {
			rejected++
		} else {
			accepted++
			if accepted%50 == 0 {
				log.Printf("Progress: %d/%d events queued", accepted, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	// Give the worker a chance to drain before shutting down.
	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	time.Sleep(cfg.Exporter.FlushInterval * 2)
	if err := svc.Shutdown(drainCtx); err != nil {
		log.Printf("Exporter did not drain cleanly: %v", err)
	}

	log.Printf("\nSeeding complete:")
	log.Printf("  Accepted: %d events", accepted)
	log.Printf("  Rejected: %d events", rejected)
}

func generateEvent(eventType string) map[string]any {
	severities := []string{"LOW", "LOW", "MEDIUM", "MEDIUM", "HIGH", "CRITICAL"}

	event := map[string]any{
		"event_type":  eventType,
		"severity":    severities[rand.Intn(len(severities))],
		"description": fmt.Sprintf("%s detected for synthetic user", eventType),
		"user_id":     gofakeit.UUID(),
		"user_email":  gofakeit.Email(),
		"client_ip":   gofakeit.IPv4Address(),
		"user_agent":  gofakeit.UserAgent(),
		"context": map[string]any{
			"correlation_id": gofakeit.UUID(),
			"endpoint":       "/" + gofakeit.Word(),
		},
	}

	switch eventType {
	case "auth_failure":
		event["failed_attempts"] = rand.Intn(10) + 1
		event["threat_score"] = rand.Float64()
		event["threat_indicators"] = []string{"brute_force"}
	case "rate_limit_exceeded":
		event["threat_score"] = rand.Float64() / 2
		event["action_taken"] = "throttled"
	case "intrusion":
		event["severity"] = "CRITICAL"
		event["threat_score"] = 0.5 + rand.Float64()/2
		event["threat_indicators"] = []string{"signature_match", gofakeit.HackerVerb()}
	}
	return event
}
