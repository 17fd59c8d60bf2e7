package dht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// Controller runs selection cycles against one posting store and owns the
// deletion of transferred chunks. At most one cycle selects at a time.
type Controller struct {
	fast        PostingStore
	full        PostingStore
	resolver    DocumentResolver
	directory   PeerDirectory
	targetCount int
	mu          sync.Mutex
	now         func() time.Time
	logger      *slog.Logger
}

// NewController builds a controller. fast may be nil, in which case every
// cycle selects from full directly.
func NewController(fast, full PostingStore, resolver DocumentResolver, directory PeerDirectory, cfg config.DHTConfig) *Controller {
	return &Controller{
		fast:        fast,
		full:        full,
		resolver:    resolver,
		directory:   directory,
		targetCount: cfg.TargetCount(),
		now:         time.Now,
		logger:      slog.Default().With("component", "dht"),
	}
}

func (c *Controller) phases(log *slog.Logger) []*selector {
	out := make([]*selector, 0, 2)
	if c.fast != nil {
		out = append(out, &selector{name: "fast", store: c.fast, resolver: c.resolver, now: c.now, logger: log})
	}
	return append(out, &selector{name: "full", store: c.full, resolver: c.resolver, now: c.now, logger: log})
}

// BeginCycle selects a chunk starting at start. The returned chunk is FILLED,
// FAILED or INTERRUPTED; Err on the chunk gives the reason for the latter two.
// An error is returned only for invalid limits.
func (c *Controller) BeginCycle(ctx context.Context, start ring.Hash, minPostings, maxPostings int, maxTimeMillis int64) (*Chunk, error) {
	if minPostings < 0 || maxPostings <= 0 || minPostings > maxPostings || maxTimeMillis < -1 {
		return nil, fmt.Errorf("%w: min=%d max=%d maxTimeMillis=%d",
			apperrors.ErrInvalidInput, minPostings, maxPostings, maxTimeMillis)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger
	if id := logger.CycleID(ctx); id != "" {
		log = log.With("cycle_id", id)
	}

	chunk := newChunk(start)
	chunk.selectionStart = c.now()

	targets, err := c.directory.SelectTargets(ctx, start, c.targetCount)
	if err == nil && len(targets) == 0 {
		err = apperrors.ErrNoCandidates
	}
	if err != nil {
		log.Info("no target peers for index distribution",
			"start_hash", start,
			"error", err,
		)
		c.finish(chunk, StatusFailed, fmt.Errorf("selecting targets: %w", err))
		return chunk, nil
	}
	if len(targets) > c.targetCount {
		targets = targets[:c.targetCount]
	}
	chunk.targets = targets

	lim := selectLimits{
		start:       start,
		limit:       targets[0].Position,
		maxPostings: maxPostings,
		maxTime:     -1,
	}
	if maxTimeMillis >= 0 {
		lim.maxTime = time.Duration(maxTimeMillis) * time.Millisecond
	}
	log.Debug("selection started",
		"start_hash", start,
		"limit_hash", lim.limit,
		"targets", len(targets),
	)

	var (
		sel    *selection
		phase  string
		selErr error
	)
	for _, s := range c.phases(log) {
		result, err := s.run(ctx, lim)
		chunk.pruned += result.pruned
		chunk.dropped += result.dropped
		if errors.Is(err, apperrors.ErrCancelled) {
			log.Info("selection interrupted",
				"phase", s.name,
				"pruned", chunk.pruned,
			)
			c.finish(chunk, StatusInterrupted, err)
			return chunk, nil
		}
		if err != nil {
			log.Error("selection pass failed", "phase", s.name, "error", err)
			selErr = err
			continue
		}
		sel, phase, selErr = result, s.name, nil
		if result.resolved >= minPostings {
			break
		}
		log.Debug("selection below floor",
			"phase", s.name,
			"resolved", result.resolved,
			"min", minPostings,
		)
	}

	if sel == nil {
		c.finish(chunk, StatusFailed, selErr)
		return chunk, nil
	}

	chunk.groups = sel.groups
	chunk.docs = sel.docs
	chunk.phase = phase
	for _, g := range sel.groups {
		chunk.idxCount += g.Len()
	}

	switch {
	case len(chunk.groups) == 0:
		c.finish(chunk, StatusFailed, fmt.Errorf("%w: no term groups available from %s", apperrors.ErrInsufficientYield, start))
	case chunk.idxCount < minPostings:
		c.finish(chunk, StatusFailed, fmt.Errorf("%w: %d of %d postings", apperrors.ErrInsufficientYield, chunk.idxCount, minPostings))
	default:
		c.finish(chunk, StatusFilled, nil)
	}
	log.Info("selection finished",
		"status", chunk.status,
		"phase", phase,
		"groups", len(chunk.groups),
		"resolved", chunk.idxCount,
		"pruned", chunk.pruned,
		"dropped", chunk.dropped,
		"duration_ms", chunk.selectionEnd.Sub(chunk.selectionStart).Milliseconds(),
	)
	return chunk, nil
}

func (c *Controller) finish(chunk *Chunk, status Status, reason error) {
	chunk.mu.Lock()
	defer chunk.mu.Unlock()
	chunk.selectionEnd = c.now()
	// Transitions out of UNDEFINED are always legal.
	_ = chunk.transitionLocked(status, reason)
}

// DeleteTransferred removes the chunk's selected postings from the store and
// returns how many the store reported removed. The chunk must be RUNNING; a
// COMPLETE chunk yields 0 with no store access. A failure on one group is
// logged and does not stop the others. Each group is released under the
// chunk lock and deleted from the store outside it.
func (c *Controller) DeleteTransferred(chunk *Chunk) (int, error) {
	chunk.mu.Lock()
	status, count := chunk.status, len(chunk.groups)
	chunk.mu.Unlock()

	switch status {
	case StatusComplete:
		return 0, nil
	case StatusRunning:
	default:
		return 0, fmt.Errorf("deleting %s chunk: %w", status, apperrors.ErrIllegalTransition)
	}

	removed := 0
	for i := 0; i < count; i++ {
		g := chunk.releaseGroup(i)
		if g == nil {
			continue
		}
		n, err := c.full.RemovePostings(g.TermHash, g.DocIDs())
		if err != nil {
			c.logger.Error("deleting transferred term group failed",
				"term_hash", g.TermHash,
				"postings", g.Len(),
				"error", err,
			)
			continue
		}
		removed += n
		c.logger.Debug("deleted transferred term group",
			"term_hash", g.TermHash,
			"removed", n,
		)
	}

	chunk.mu.Lock()
	defer chunk.mu.Unlock()
	if chunk.status == StatusComplete {
		return removed, nil
	}
	if err := chunk.transitionLocked(StatusComplete, nil); err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *Controller) IncrementTransferFailure(chunk *Chunk) int {
	return int(chunk.failures.Add(1))
}

func (c *Controller) TransferFailureCount(chunk *Chunk) int {
	return chunk.TransferFailures()
}
