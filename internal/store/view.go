package store

import (
	"io"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// View exposes the Index as a posting store restricted to either the hot
// index (fast) or the hot index plus segments (full). Removals always apply
// to the whole store.
type View struct {
	ix   *Index
	full bool
}

func (v *View) Name() string {
	if v.full {
		return "full"
	}
	return "fast"
}

// IterateTermGroupsFrom opens an iterator over term groups in ring order,
// starting at the first term >= start and wrapping past the end of the ring.
// The set of terms is fixed when the iterator is opened; each group's
// postings are read when it is reached, so earlier removals are visible.
func (v *View) IterateTermGroupsFrom(start ring.Hash) (index.GroupIterator, error) {
	v.ix.mu.RLock()
	hashes := v.ix.termHashesLocked(true, v.full)
	v.ix.mu.RUnlock()

	first := sort.Search(len(hashes), func(i int) bool {
		return !ring.Less(hashes[i], start)
	})
	ordered := make([]ring.Hash, 0, len(hashes))
	ordered = append(ordered, hashes[first:]...)
	ordered = append(ordered, hashes[:first]...)
	return &iterator{view: v, hashes: ordered}, nil
}

func (v *View) RemovePosting(termHash ring.Hash, docID string) error {
	return v.ix.RemovePosting(termHash, docID)
}

func (v *View) RemoveTermGroup(termHash ring.Hash) error {
	return v.ix.RemoveTermGroup(termHash)
}

func (v *View) RemovePostings(termHash ring.Hash, docIDs map[string]struct{}) (int, error) {
	return v.ix.RemovePostings(termHash, docIDs)
}

type iterator struct {
	view   *View
	hashes []ring.Hash
	pos    int
	closed bool
}

func (it *iterator) Next() (index.TermGroup, error) {
	for !it.closed && it.pos < len(it.hashes) {
		h := it.hashes[it.pos]
		it.pos++
		it.view.ix.mu.RLock()
		postings, err := it.view.ix.mergedLocked(h, true, it.view.full)
		it.view.ix.mu.RUnlock()
		if err != nil {
			return index.TermGroup{TermHash: h}, apperrors.Corruption(h, err)
		}
		if len(postings) == 0 {
			continue
		}
		return index.TermGroup{TermHash: h, Postings: postings}, nil
	}
	return index.TermGroup{}, io.EOF
}

func (it *iterator) Close() error {
	it.closed = true
	return nil
}
