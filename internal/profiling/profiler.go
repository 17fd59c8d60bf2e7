// Package profiling keeps a short, per-name history of peer events such as
// memory samples and finished distribution cycles.
package profiling

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

const (
	// EventMemory is the history name used by the memory sampler.
	EventMemory = "memory"
	// EventChunk is the history name used for distribution cycles.
	EventChunk = "chunk"

	throttle         = time.Second
	defaultInterval  = time.Second
	defaultRetention = 10 * time.Minute
)

type Kind int

const (
	KindMemory Kind = iota + 1
	KindChunk
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindChunk:
		return "chunk"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ChunkSummary describes a finished distribution cycle.
type ChunkSummary struct {
	Start     ring.Hash
	Status    string
	Phase     string
	Groups    int
	Postings  int
	Selection time.Duration
}

// Event is one history entry. Kind says which payload field is set.
type Event struct {
	Kind   Kind
	Time   time.Time
	Memory uint64
	Chunk  ChunkSummary
	Text   string
}

func MemoryEvent(bytes uint64) Event {
	return Event{Kind: KindMemory, Memory: bytes}
}

func ChunkEvent(s ChunkSummary) Event {
	return Event{Kind: KindChunk, Chunk: s}
}

func TextEvent(text string) Event {
	return Event{Kind: KindText, Text: text}
}

// Profiler records events by name. Per name it keeps at most one event per
// second and forgets events older than the retention window.
type Profiler struct {
	interval  time.Duration
	retention time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	history    map[string][]Event
	lastUpdate map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg config.ProfilingConfig, m *metrics.Metrics) *Profiler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Profiler{
		interval:   interval,
		retention:  retention,
		metrics:    m,
		now:        time.Now,
		logger:     slog.Default().With("component", "profiler"),
		history:    make(map[string][]Event),
		lastUpdate: make(map[string]time.Time),
	}
}

// Start launches the memory sampler. It returns immediately; the sampler
// runs until ctx is cancelled or Stop is called.
func (p *Profiler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sample()
			}
		}
	}()
	p.logger.Info("profiler started", "interval", p.interval, "retention", p.retention)
}

// Stop halts the sampler and waits for it to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("profiler stopped")
}

func (p *Profiler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if p.metrics != nil {
		p.metrics.ProcessMemoryBytes.Set(float64(ms.HeapInuse))
	}
	p.Update(EventMemory, MemoryEvent(ms.HeapInuse))
}

// Update appends ev to the history of name unless name was updated less
// than a second ago. It reports whether the event was kept.
func (p *Profiler) Update(name string, ev Event) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastUpdate[name]; ok && now.Sub(last) < throttle {
		return false
	}
	p.lastUpdate[name] = now
	ev.Time = now

	h := p.history[name]
	cut := 0
	for cut < len(h) && now.Sub(h[cut].Time) >= p.retention {
		cut++
	}
	p.history[name] = append(h[cut:], ev)
	return true
}

// History returns the retained events of name, oldest first.
func (p *Profiler) History(name string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.history[name]
	out := make([]Event, len(h))
	copy(out, h)
	return out
}
