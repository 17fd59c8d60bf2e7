// Package distributor drives the autonomous distribution cycle: select a
// chunk from a random ring position, push it to its target peers, and
// delete it locally once every target has it.
package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/profiling"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/store"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/tracing"
)

// Lifecycle is the part of dht.Controller the distributor drives.
type Lifecycle interface {
	BeginCycle(ctx context.Context, start ring.Hash, minPostings, maxPostings int, maxTimeMillis int64) (*dht.Chunk, error)
	DeleteTransferred(chunk *dht.Chunk) (int, error)
	IncrementTransferFailure(chunk *dht.Chunk) int
}

type Transferer interface {
	Transfer(ctx context.Context, chunk *dht.Chunk) error
}

type StoreStats interface {
	Stats() store.Stats
}

// Recorder keeps cycle history. *profiling.Profiler satisfies it.
type Recorder interface {
	Update(name string, ev profiling.Event) bool
}

type Distributor struct {
	lifecycle Lifecycle
	transfer  Transferer
	stats     StoreStats
	recorder  Recorder
	metrics   *metrics.Metrics
	cfg       config.DHTConfig
	now       func() time.Time
	pickStart func(time.Time) ring.Hash
	seq       atomic.Uint64
	logger    *slog.Logger
}

// New builds a distributor. stats and recorder may be nil.
func New(lc Lifecycle, tr Transferer, stats StoreStats, rec Recorder, m *metrics.Metrics, cfg config.DHTConfig) *Distributor {
	if cfg.MaxTransferFailures <= 0 {
		cfg.MaxTransferFailures = 1
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 10 * time.Second
	}
	return &Distributor{
		lifecycle: lc,
		transfer:  tr,
		stats:     stats,
		recorder:  rec,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		pickStart: ring.RandomStart,
		logger:    slog.Default().With("component", "distributor"),
	}
}

// Start runs one cycle every CycleInterval until ctx is cancelled.
func (d *Distributor) Start(ctx context.Context) error {
	d.logger.Info("distributor started",
		"interval", d.cfg.CycleInterval,
		"min_postings", d.cfg.MinContainerPostings,
		"max_postings", d.cfg.MaxContainerPostings,
	)
	ticker := time.NewTicker(d.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("distributor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if _, err := d.RunCycle(ctx); err != nil {
				d.logger.Error("distribution cycle failed", "error", err)
			}
		}
	}
}

// RunCycle selects, transfers and deletes one chunk. The chunk is returned
// in its final status. An error means the cycle could not start at all.
func (d *Distributor) RunCycle(ctx context.Context) (*dht.Chunk, error) {
	start := d.pickStart(d.now())
	cycleID := fmt.Sprintf("%s-%d", start, d.seq.Add(1))
	ctx = logger.WithCycleID(ctx, cycleID)
	ctx, span := tracing.StartSpan(ctx, "distribution-cycle", cycleID)
	defer span.End()
	log := logger.FromContext(ctx).With("component", "distributor")

	d.observeStore()

	selCtx, selSpan := tracing.StartChildSpan(ctx, "select")
	chunk, err := d.lifecycle.BeginCycle(selCtx, start,
		d.cfg.MinContainerPostings, d.cfg.MaxContainerPostings, d.cfg.MaxTimeMillis)
	selSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("beginning cycle at %s: %w", start, err)
	}
	selSpan.SetAttrs("status", chunk.Status().String(), "groups", chunk.GroupCount(), "postings", chunk.IndexCount())
	d.observeSelection(chunk)

	if chunk.Status() == dht.StatusFilled {
		d.distribute(ctx, log, chunk)
	} else {
		log.Debug("chunk not distributed", "status", chunk.Status(), "reason", chunk.Err())
	}

	if err := chunk.Err(); err != nil {
		span.RecordError(err)
	}
	span.SetAttrs("status", chunk.Status().String(), "failures", chunk.TransferFailures())
	d.metrics.CyclesTotal.WithLabelValues(chunk.Status().String()).Inc()
	d.record(chunk)
	return chunk, nil
}

func (d *Distributor) distribute(ctx context.Context, log *slog.Logger, chunk *dht.Chunk) {
	if err := chunk.MarkRunning(); err != nil {
		log.Error("starting transfer", "error", err)
		return
	}

	for {
		tctx, tspan := tracing.StartChildSpan(ctx, "transfer")
		err := d.transfer.Transfer(tctx, chunk)
		if err != nil {
			tspan.RecordError(err)
		}
		tspan.End()
		if err == nil {
			break
		}

		failures := d.lifecycle.IncrementTransferFailure(chunk)
		d.metrics.TransferFailures.Inc()
		log.Warn("chunk transfer failed",
			"start_hash", chunk.StartHash(),
			"failures", failures,
			"max_failures", d.cfg.MaxTransferFailures,
			"error", err,
		)
		if ctx.Err() != nil {
			_ = chunk.Interrupt(fmt.Errorf("transfer stopped: %w", ctx.Err()))
			return
		}
		if failures >= d.cfg.MaxTransferFailures {
			_ = chunk.Interrupt(fmt.Errorf("abandoned after %d failed transfers: %w", failures, err))
			log.Warn("chunk abandoned, postings kept locally",
				"start_hash", chunk.StartHash(),
				"postings", chunk.IndexCount(),
			)
			return
		}
	}

	_, dspan := tracing.StartChildSpan(ctx, "delete")
	removed, err := d.lifecycle.DeleteTransferred(chunk)
	dspan.SetAttrs("removed", removed)
	if err != nil {
		dspan.RecordError(err)
		log.Error("deleting transferred chunk", "error", err)
	}
	dspan.End()
	d.metrics.PostingsDeleted.Add(float64(removed))
	log.Info("chunk distributed",
		"start_hash", chunk.StartHash(),
		"groups", chunk.GroupCount(),
		"targets", len(chunk.Targets()),
		"removed", removed,
	)
}

func (d *Distributor) observeSelection(chunk *dht.Chunk) {
	if t := chunk.SelectionTime(); t >= 0 {
		phase := chunk.Phase()
		if phase == "" {
			phase = "none"
		}
		d.metrics.SelectionDuration.WithLabelValues(phase).Observe(t.Seconds())
	}
	d.metrics.PostingsSelected.Add(float64(chunk.IndexCount()))
	d.metrics.PostingsPruned.Add(float64(chunk.Pruned()))
	d.metrics.GroupsDropped.Add(float64(chunk.Dropped()))
}

func (d *Distributor) observeStore() {
	if d.stats == nil {
		return
	}
	st := d.stats.Stats()
	d.metrics.StoreSegments.Set(float64(st.Segments))
	d.metrics.StoreHotTerms.Set(float64(st.HotTerms))
}

func (d *Distributor) record(chunk *dht.Chunk) {
	if d.recorder == nil {
		return
	}
	d.recorder.Update(profiling.EventChunk, profiling.ChunkEvent(profiling.ChunkSummary{
		Start:     chunk.StartHash(),
		Status:    chunk.Status().String(),
		Phase:     chunk.Phase(),
		Groups:    chunk.GroupCount(),
		Postings:  chunk.IndexCount(),
		Selection: chunk.SelectionTime(),
	}))
}
