package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/resilience"
)

type flakyPublisher struct {
	failures int
	calls    int
	events   []kafka.Event
}

func (p *flakyPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("leader not available")
	}
	p.events = append(p.events, events...)
	return nil
}

func sinkConfig() config.TransferConfig {
	return config.TransferConfig{
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		BreakerThreshold: 2,
		BreakerReset:     time.Minute,
	}
}

func TestKafkaSinkRetriesAndKeysByTarget(t *testing.T) {
	pub := &flakyPublisher{failures: 1}
	sink := NewKafkaSink(pub, sinkConfig(), testMetrics())
	batch := []Envelope{{Source: "self", Target: "a"}, {Source: "self", Target: "b"}}
	if err := sink.Send(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.calls != 2 {
		t.Errorf("expected one retry, got %d calls", pub.calls)
	}
	if len(pub.events) != 2 || pub.events[0].Key != "a" || pub.events[1].Headers[HeaderTarget] != "b" {
		t.Errorf("events must be keyed by target, got %+v", pub.events)
	}
}

func TestKafkaSinkOpensBreaker(t *testing.T) {
	pub := &flakyPublisher{failures: 100}
	sink := NewKafkaSink(pub, sinkConfig(), testMetrics())
	err := sink.Send(context.Background(), []Envelope{{Target: "a"}})
	if err == nil {
		t.Fatal("expected failure")
	}
	if sink.BreakerState() != resilience.StateOpen {
		t.Errorf("expected open breaker, got %s", sink.BreakerState())
	}
	if pub.calls != 2 {
		t.Errorf("open breaker must stop further attempts, got %d calls", pub.calls)
	}
	if err := sink.Send(context.Background(), []Envelope{{Target: "a"}}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected circuit open, got %v", err)
	}
}
