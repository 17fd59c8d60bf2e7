package dht

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// selectLimits bounds one selection pass. A negative maxTime is unbounded.
type selectLimits struct {
	start       ring.Hash
	limit       ring.Hash
	maxPostings int
	maxTime     time.Duration
}

type selection struct {
	groups   []*index.TermGroup
	docs     map[string]index.Document
	resolved int
	pruned   int
	dropped  int
}

type selector struct {
	name     string
	store    PostingStore
	resolver DocumentResolver
	now      func() time.Time
	logger   *slog.Logger
}

// inRange reports whether a group at h may be taken. Only hashes in
// [start, limit) qualify, except the first group, which is exempt from the
// limit as long as start itself precedes it.
func inRange(h, start, limit ring.Hash, first bool) bool {
	if !ring.Less(start, limit) {
		return false
	}
	if ring.Less(h, start) {
		return false
	}
	return first || ring.Less(h, limit)
}

// run takes term groups from the store in ring order until the posting cap,
// the time budget, the limit hash or the data runs out. Postings whose
// document cannot be resolved are removed from the store as they are met.
// On cancellation the partial selection is returned along with
// errors.ErrCancelled; removals already made are kept.
func (s *selector) run(ctx context.Context, lim selectLimits) (*selection, error) {
	sel := &selection{docs: make(map[string]index.Document)}

	it, err := s.store.IterateTermGroupsFrom(lim.start)
	if err != nil {
		return sel, fmt.Errorf("opening %s term iterator: %w", s.name, err)
	}
	defer it.Close()

	began := s.now()
	expired := func() bool {
		return lim.maxTime >= 0 && s.now().Sub(began) >= lim.maxTime
	}

	taken := 0
	for sel.resolved < lim.maxPostings && !expired() {
		if err := ctx.Err(); err != nil {
			return sel, fmt.Errorf("%w: %v", apperrors.ErrCancelled, err)
		}

		g, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ce, ok := apperrors.AsCorruption(err)
			if !ok {
				return sel, fmt.Errorf("iterating %s term groups: %w", s.name, err)
			}
			s.logger.Error("dropping corrupted term group",
				"term_hash", ce.TermHash,
				"error", ce.Err,
			)
			if err := s.store.RemoveTermGroup(ce.TermHash); err != nil {
				s.logger.Error("removing corrupted term group failed",
					"term_hash", ce.TermHash,
					"error", err,
				)
			}
			sel.dropped++
			continue
		}
		if g.Len() == 0 {
			break
		}
		// Only the first group visited is exempt from the limit, even when
		// none of its postings resolve.
		if !inRange(g.TermHash, lim.start, lim.limit, taken == 0) {
			break
		}
		taken++

		kept := s.resolveGroup(ctx, g, sel, lim.maxPostings, expired)
		if kept.Len() > 0 {
			sel.groups = append(sel.groups, kept)
		}
	}
	return sel, nil
}

// resolveGroup resolves the postings of g in order and returns the group
// restricted to the ones that resolved. Postings left unvisited once the cap
// or the deadline is hit are left out of the result but stay in the store.
func (s *selector) resolveGroup(ctx context.Context, g index.TermGroup, sel *selection, maxPostings int, expired func() bool) *index.TermGroup {
	kept := make(index.PostingList, 0, g.Len())
	notBound := 0
	for _, p := range g.Postings {
		if sel.resolved >= maxPostings || expired() {
			break
		}
		if p.DocID == "" {
			s.prune(g.TermHash, p.DocID)
			notBound++
			continue
		}
		doc, err := s.resolver.Resolve(ctx, p.DocID)
		switch {
		case err == nil && doc.Bound():
			sel.docs[p.DocID] = doc
			sel.resolved++
			kept = append(kept, p)
		case err == nil, errors.Is(err, apperrors.ErrDocumentNotFound):
			s.prune(g.TermHash, p.DocID)
			notBound++
		default:
			s.logger.Warn("resolving document failed, posting kept",
				"term_hash", g.TermHash,
				"doc_id", p.DocID,
				"error", err,
			)
		}
	}
	sel.pruned += notBound
	s.logger.Debug("selected partial term group",
		"term_hash", g.TermHash,
		"kept", len(kept),
		"total", g.Len(),
		"not_bound", notBound,
	)
	return &index.TermGroup{TermHash: g.TermHash, Postings: kept}
}

func (s *selector) prune(termHash ring.Hash, docID string) {
	if err := s.store.RemovePosting(termHash, docID); err != nil {
		s.logger.Error("pruning stale posting failed",
			"term_hash", termHash,
			"doc_id", docID,
			"error", err,
		)
	}
}
