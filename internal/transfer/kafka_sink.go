package transfer

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/resilience"
)

const (
	HeaderSource = "dht-source"
	HeaderTarget = "dht-target"

	publishTimeout = 10 * time.Second
)

// Publisher is the subset of kafka.Producer used by KafkaSink.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// KafkaSink publishes envelopes keyed by target peer id, so every envelope
// for one peer lands on the same partition.
type KafkaSink struct {
	publisher Publisher
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

func NewKafkaSink(p Publisher, cfg config.TransferConfig, m *metrics.Metrics) *KafkaSink {
	breaker := resilience.NewCircuitBreaker("kafka-transfer", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerReset,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return &KafkaSink{
		publisher: p,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
		},
		breaker: breaker,
	}
}

func (s *KafkaSink) Send(ctx context.Context, batch []Envelope) error {
	events := make([]kafka.Event, len(batch))
	for i, env := range batch {
		events[i] = kafka.Event{
			Key:   env.Target,
			Value: env,
			Headers: map[string]string{
				HeaderSource: env.Source,
				HeaderTarget: env.Target,
			},
		}
	}
	return resilience.Retry(ctx, "publish-envelopes", s.retry, func(ctx context.Context) error {
		return s.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, publishTimeout, "publish-envelopes", func(ctx context.Context) error {
				return s.publisher.PublishBatch(ctx, events)
			})
		})
	})
}

func (s *KafkaSink) BreakerState() resilience.State {
	return s.breaker.State()
}
