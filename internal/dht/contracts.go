package dht

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// PostingStore is the slice of the local index a selection cycle works on.
// Any method may fail with a *errors.CorruptionError naming the bad term.
type PostingStore interface {
	IterateTermGroupsFrom(start ring.Hash) (index.GroupIterator, error)
	RemovePosting(termHash ring.Hash, docID string) error
	RemoveTermGroup(termHash ring.Hash) error
	RemovePostings(termHash ring.Hash, docIDs map[string]struct{}) (int, error)
}

// DocumentResolver maps a document id to its metadata. A missing document
// is reported as errors.ErrDocumentNotFound.
type DocumentResolver interface {
	Resolve(ctx context.Context, docID string) (index.Document, error)
}

// PeerDirectory returns up to count peers accepting remote index pushes,
// nearest to start first. An empty result is errors.ErrNoCandidates.
type PeerDirectory interface {
	SelectTargets(ctx context.Context, start ring.Hash, count int) ([]TargetPeer, error)
}

type TargetPeer struct {
	ID       string    `json:"id"`
	Position ring.Hash `json:"position"`
	Distance uint64    `json:"distance"`
	Address  string    `json:"address,omitempty"`
}
