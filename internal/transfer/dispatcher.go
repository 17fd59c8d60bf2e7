// Package transfer delivers selected chunks to their target peers through a
// fixed set of outbound queues, each drained by its own worker.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const finalFlushTimeout = 5 * time.Second

// Sink sends a batch of envelopes. A nil error means every envelope in the
// batch was accepted.
type Sink interface {
	Send(ctx context.Context, batch []Envelope) error
}

type job struct {
	env  Envelope
	done chan<- error
}

// Dispatcher fans envelopes out over its queues round-robin. Each worker
// sends a batch once it holds batchSize envelopes or on every flush tick.
type Dispatcher struct {
	self          string
	sink          Sink
	queues        []chan job
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu   sync.Mutex
	next int

	stopped chan struct{}
}

func NewDispatcher(self string, sink Sink, cfg config.TransferConfig, m *metrics.Metrics) *Dispatcher {
	n := max(cfg.QueueCount, 1)
	size := max(cfg.QueueSize, 1)
	queues := make([]chan job, n)
	for i := range queues {
		queues[i] = make(chan job, size)
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = time.Second
	}
	return &Dispatcher{
		self:          self,
		sink:          sink,
		queues:        queues,
		batchSize:     size,
		flushInterval: flush,
		metrics:       m,
		logger:        slog.Default().With("component", "transfer"),
		stopped:       make(chan struct{}),
	}
}

// nextQueue returns the queue for the next envelope and advances the cursor.
func (d *Dispatcher) nextQueue() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.next
	d.next = (d.next + 1) % len(d.queues)
	return i
}

// Start runs one worker per queue until ctx is cancelled. Workers then drain
// what is already queued and send it. Start returns once all have stopped.
func (d *Dispatcher) Start(ctx context.Context) error {
	defer close(d.stopped)
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range d.queues {
		g.Go(func() error {
			d.work(gctx, i, q)
			return nil
		})
	}
	d.logger.Info("transfer workers started", "queues", len(d.queues), "batch_size", d.batchSize)
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int, q chan job) {
	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()
	label := strconv.Itoa(id)
	pending := make([]job, 0, d.batchSize)

	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		batch := make([]Envelope, len(pending))
		for i, j := range pending {
			batch[i] = j.env
		}
		err := d.sink.Send(ctx, batch)
		result := "ok"
		if err != nil {
			result = "error"
			d.logger.Warn("sending batch failed", "queue", id, "envelopes", len(batch), "error", err)
		}
		d.metrics.EnvelopesSent.WithLabelValues(result).Add(float64(len(batch)))
		for _, j := range pending {
			j.done <- err
		}
		pending = pending[:0]
		d.metrics.QueueDepth.WithLabelValues(label).Set(float64(len(q)))
	}

	for {
		select {
		case <-ctx.Done():
			for drained := false; !drained; {
				select {
				case j := <-q:
					pending = append(pending, j)
				default:
					drained = true
				}
			}
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			flush(flushCtx)
			cancel()
			d.logger.Debug("transfer worker stopped", "queue", id)
			return
		case j := <-q:
			pending = append(pending, j)
			if len(pending) >= d.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Transfer sends every term group of chunk to every target and waits for
// all outcomes. The chunk must be RUNNING. The returned error reports how
// many envelopes failed and wraps the first failure.
func (d *Dispatcher) Transfer(ctx context.Context, chunk *dht.Chunk) error {
	if st := chunk.Status(); st != dht.StatusRunning {
		return fmt.Errorf("transferring %s chunk: %w", st, apperrors.ErrIllegalTransition)
	}
	envs := Envelopes(d.self, chunk, time.Now())
	if len(envs) == 0 {
		return nil
	}
	done := make(chan error, len(envs))
	for _, env := range envs {
		i := d.nextQueue()
		select {
		case d.queues[i] <- job{env: env, done: done}:
			d.metrics.QueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(d.queues[i])))
		case <-ctx.Done():
			return fmt.Errorf("queueing envelopes: %w", ctx.Err())
		case <-d.stopped:
			return apperrors.ErrQueueClosed
		}
	}

	var (
		failed   int
		firstErr error
	)
	collect := func(err error) {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for received := 0; received < len(envs); {
		select {
		case err := <-done:
			collect(err)
			received++
		case <-ctx.Done():
			return fmt.Errorf("waiting for transfer: %w", ctx.Err())
		case <-d.stopped:
			// Workers answer everything they drained before stopping.
			for ; received < len(envs); received++ {
				select {
				case err := <-done:
					collect(err)
				default:
					return apperrors.ErrQueueClosed
				}
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d envelopes failed: %w", failed, len(envs), firstErr)
	}
	return nil
}
