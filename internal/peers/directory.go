// Package peers keeps the set of known peers and answers which of them are
// nearest to a ring position.
package peers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

type Peer struct {
	ID           string
	Position     ring.Hash
	Address      string
	AcceptsIndex bool
	LastSeen     time.Time
}

// Source lists the peers currently known to the network.
type Source interface {
	Peers(ctx context.Context) ([]Peer, error)
}

// Directory holds peers sorted by ring position.
type Directory struct {
	mu     sync.RWMutex
	self   string
	peers  []Peer
	logger *slog.Logger
}

func NewDirectory(selfID string, initial []Peer) *Directory {
	d := &Directory{
		self:   selfID,
		logger: slog.Default().With("component", "peer-directory"),
	}
	d.Replace(initial)
	return d
}

// FromSeeds converts configured seed peers. Seeds always accept index pushes.
func FromSeeds(seeds []config.SeedPeer) ([]Peer, error) {
	out := make([]Peer, 0, len(seeds))
	for _, s := range seeds {
		pos, err := ring.Parse(s.RingPosition)
		if err != nil {
			return nil, fmt.Errorf("seed peer %s: %w", s.ID, err)
		}
		out = append(out, Peer{ID: s.ID, Position: pos, Address: s.Address, AcceptsIndex: true})
	}
	return out, nil
}

// Replace swaps the peer set. Later duplicates of an id win.
func (d *Directory) Replace(peers []Peer) {
	byID := make(map[string]Peer, len(peers))
	for _, p := range peers {
		byID[p.ID] = p
	}
	sorted := make([]Peer, 0, len(byID))
	for _, p := range byID {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Position == sorted[j].Position {
			return sorted[i].ID < sorted[j].ID
		}
		return ring.Less(sorted[i].Position, sorted[j].Position)
	})
	d.mu.Lock()
	d.peers = sorted
	d.mu.Unlock()
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Refresh reloads the peer set from src. On error the current set is kept.
func (d *Directory) Refresh(ctx context.Context, src Source) error {
	peers, err := src.Peers(ctx)
	if err != nil {
		return fmt.Errorf("loading peers: %w", err)
	}
	d.Replace(peers)
	d.logger.Debug("peer directory refreshed", "peers", len(peers))
	return nil
}

// StartRefresh reloads the directory from src every interval until ctx ends.
func (d *Directory) StartRefresh(ctx context.Context, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx, src); err != nil {
					d.logger.Warn("peer refresh failed", "error", err)
				}
			}
		}
	}()
}

// SelectTargets walks the ring clockwise from start and returns up to count
// peers that accept index pushes, nearest first. The local peer is skipped.
func (d *Directory) SelectTargets(_ context.Context, start ring.Hash, count int) ([]dht.TargetPeer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.peers)
	first := sort.Search(n, func(i int) bool {
		return !ring.Less(d.peers[i].Position, start)
	})
	out := make([]dht.TargetPeer, 0, min(count, n))
	for i := 0; i < n && len(out) < count; i++ {
		p := d.peers[(first+i)%n]
		if p.ID == d.self || !p.AcceptsIndex {
			continue
		}
		out = append(out, dht.TargetPeer{
			ID:       p.ID,
			Position: p.Position,
			Distance: ring.Distance(start, p.Position),
			Address:  p.Address,
		})
	}
	if len(out) == 0 {
		return nil, apperrors.ErrNoCandidates
	}
	return out, nil
}
