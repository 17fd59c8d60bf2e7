package dht

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

type Status int32

const (
	StatusUndefined Status = iota
	StatusFailed
	StatusFilled
	StatusRunning
	StatusInterrupted
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusUndefined:
		return "undefined"
	case StatusFailed:
		return "failed"
	case StatusFilled:
		return "filled"
	case StatusRunning:
		return "running"
	case StatusInterrupted:
		return "interrupted"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusInterrupted || s == StatusComplete
}

var transitions = map[Status][]Status{
	StatusUndefined: {StatusFailed, StatusFilled, StatusInterrupted},
	StatusFilled:    {StatusRunning},
	StatusRunning:   {StatusInterrupted, StatusComplete},
}

func canTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Chunk is one bounded selection of term groups together with the resolved
// documents they reference and the peers they are meant for. Selection
// fields are written only before the chunk leaves UNDEFINED; afterwards the
// only mutation is the release of groups by DeleteTransferred.
type Chunk struct {
	mu       sync.RWMutex
	start    ring.Hash
	groups   []*index.TermGroup
	docs     map[string]index.Document
	idxCount int
	targets  []TargetPeer
	status   Status
	phase    string
	err      error

	pruned  int
	dropped int

	selectionStart time.Time
	selectionEnd   time.Time

	failures atomic.Int32
}

func newChunk(start ring.Hash) *Chunk {
	return &Chunk{
		start: start,
		docs:  make(map[string]index.Document),
	}
}

func (c *Chunk) StartHash() ring.Hash {
	return c.start
}

func (c *Chunk) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Err explains a FAILED or INTERRUPTED status.
func (c *Chunk) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// MarkRunning signals that transfer has begun. Deletion is only legal after.
func (c *Chunk) MarkRunning() error {
	return c.transition(StatusRunning, nil)
}

// Interrupt abandons a running chunk without deleting anything.
func (c *Chunk) Interrupt(reason error) error {
	return c.transition(StatusInterrupted, reason)
}

func (c *Chunk) transition(to Status, reason error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to, reason)
}

func (c *Chunk) transitionLocked(to Status, reason error) error {
	if !canTransition(c.status, to) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrIllegalTransition, c.status, to)
	}
	c.status = to
	if reason != nil {
		c.err = reason
	}
	return nil
}

// Groups returns the selected term groups still held by the chunk.
func (c *Chunk) Groups() []index.TermGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]index.TermGroup, 0, len(c.groups))
	for _, g := range c.groups {
		if g != nil {
			out = append(out, *g)
		}
	}
	return out
}

func (c *Chunk) FirstGroup() (index.TermGroup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.groups) == 0 || c.groups[0] == nil {
		return index.TermGroup{}, false
	}
	return *c.groups[0], true
}

func (c *Chunk) LastGroup() (index.TermGroup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.groups) == 0 || c.groups[len(c.groups)-1] == nil {
		return index.TermGroup{}, false
	}
	return *c.groups[len(c.groups)-1], true
}

// releaseGroup takes group i out of the chunk. Each group is handed out once.
func (c *Chunk) releaseGroup(i int) *index.TermGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groups[i]
	c.groups[i] = nil
	return g
}

// GroupCount is the number of groups selected, including released ones.
func (c *Chunk) GroupCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups)
}

// IndexCount is the total number of resolved postings selected.
func (c *Chunk) IndexCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idxCount
}

func (c *Chunk) Targets() []TargetPeer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TargetPeer, len(c.targets))
	copy(out, c.targets)
	return out
}

// Document looks up a resolved document in the chunk's cache.
func (c *Chunk) Document(docID string) (index.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[docID]
	return d, ok
}

func (c *Chunk) Documents() map[string]index.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.docs)
}

// Phase names the store view that produced the selection, "fast" or "full".
func (c *Chunk) Phase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Pruned is the number of unresolvable postings removed during selection.
func (c *Chunk) Pruned() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pruned
}

// Dropped is the number of corrupted term groups removed during selection.
func (c *Chunk) Dropped() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// SelectionTime returns how long selection took, or -1 if it never finished.
func (c *Chunk) SelectionTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selectionStart.IsZero() || c.selectionEnd.IsZero() {
		return -1
	}
	return c.selectionEnd.Sub(c.selectionStart)
}

func (c *Chunk) TransferFailures() int {
	return int(c.failures.Load())
}
