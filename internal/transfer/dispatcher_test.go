package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/peers"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/store"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
	"github.com/prometheus/client_golang/prometheus"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Envelope
	err  error
}

func (s *recordingSink) Send(_ context.Context, batch []Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, batch...)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// runningChunk selects a chunk of two term groups for two target peers.
func runningChunk(t *testing.T) *dht.Chunk {
	t.Helper()
	ix, err := store.Open(config.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	docs := resolver.NewMemory()
	ctx := context.Background()
	for _, h := range []ring.Hash{100, 200} {
		id := "doc-" + h.String()
		ix.AddPostings(h, index.PostingList{{DocID: id, Frequency: 1}})
		docs.UpsertMany(ctx, []index.Document{{DocID: id, URL: "http://example.org/" + id}})
	}
	dir := peers.NewDirectory("self", []peers.Peer{
		{ID: "a", Position: 1000, AcceptsIndex: true},
		{ID: "b", Position: 2000, AcceptsIndex: true},
	})
	ctrl := dht.NewController(ix.Fast(), ix.Full(), docs, dir, config.DHTConfig{RedundancyFactor: 1})
	chunk, err := ctrl.BeginCycle(ctx, 0, 1, 100, -1)
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Status() != dht.StatusFilled {
		t.Fatalf("expected filled chunk, got %s (%v)", chunk.Status(), chunk.Err())
	}
	if err := chunk.MarkRunning(); err != nil {
		t.Fatal(err)
	}
	return chunk
}

func startDispatcher(t *testing.T, sink Sink, cfg config.TransferConfig) (*Dispatcher, context.CancelFunc, <-chan error) {
	t.Helper()
	d := NewDispatcher("self", sink, cfg, testMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Start(ctx) }()
	return d, cancel, errc
}

func TestRoundRobinCyclesEvenly(t *testing.T) {
	const queues = 7
	d := NewDispatcher("self", &recordingSink{}, config.TransferConfig{QueueCount: queues}, testMetrics())
	counts := make([]int, queues)
	for i := 0; i < queues*1000; i++ {
		q := d.nextQueue()
		if q != i%queues {
			t.Fatalf("call %d: expected queue %d, got %d", i, i%queues, q)
		}
		counts[q]++
	}
	for q, n := range counts {
		if n != 1000 {
			t.Errorf("queue %d: expected 1000 assignments, got %d", q, n)
		}
	}
}

func TestEnvelopesPerTargetAndGroup(t *testing.T) {
	chunk := runningChunk(t)
	envs := Envelopes("self", chunk, time.Now())
	if len(envs) != 4 {
		t.Fatalf("expected 4 envelopes, got %d", len(envs))
	}
	for _, env := range envs {
		if len(env.Documents) != 1 || env.Documents[0].DocID != env.Postings[0].DocID {
			t.Errorf("envelope must carry the documents of its postings: %+v", env)
		}
		if env.Source != "self" {
			t.Errorf("expected source self, got %s", env.Source)
		}
	}
}

func TestTransferDeliversEveryEnvelope(t *testing.T) {
	sink := &recordingSink{}
	d, cancel, errc := startDispatcher(t, sink, config.TransferConfig{QueueCount: 3, QueueSize: 1, FlushInterval: time.Hour})
	defer func() { cancel(); <-errc }()

	if err := d.Transfer(context.Background(), runningChunk(t)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if sink.count() != 4 {
		t.Errorf("expected 4 envelopes sent, got %d", sink.count())
	}
}

func TestTransferReportsSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker unavailable")}
	d, cancel, errc := startDispatcher(t, sink, config.TransferConfig{QueueCount: 2, QueueSize: 1, FlushInterval: time.Hour})
	defer func() { cancel(); <-errc }()

	err := d.Transfer(context.Background(), runningChunk(t))
	if err == nil || !errors.Is(err, sink.err) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestTransferRequiresRunningChunk(t *testing.T) {
	chunk := runningChunk(t)
	chunk.Interrupt(errors.New("abandoned"))
	d := NewDispatcher("self", &recordingSink{}, config.TransferConfig{QueueCount: 1}, testMetrics())
	if err := d.Transfer(context.Background(), chunk); !errors.Is(err, apperrors.ErrIllegalTransition) {
		t.Errorf("expected illegal transition, got %v", err)
	}
}

func TestStopFlushesQueuedEnvelopes(t *testing.T) {
	sink := &recordingSink{}
	d, cancel, errc := startDispatcher(t, sink, config.TransferConfig{QueueCount: 2, QueueSize: 100, FlushInterval: time.Hour})

	chunk := runningChunk(t)
	result := make(chan error, 1)
	go func() { result <- d.Transfer(context.Background(), chunk) }()
	time.Sleep(100 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("nothing should be sent before a flush")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if sink.count() != 4 {
		t.Errorf("expected the final flush to send 4 envelopes, got %d", sink.count())
	}
}

func TestTransferAfterStopFails(t *testing.T) {
	d, cancel, errc := startDispatcher(t, &recordingSink{}, config.TransferConfig{QueueCount: 1, QueueSize: 1})
	cancel()
	<-errc
	chunk := runningChunk(t)
	err := d.Transfer(context.Background(), chunk)
	if err != nil && !errors.Is(err, apperrors.ErrQueueClosed) {
		t.Errorf("expected queue closed, got %v", err)
	}
}
