package dht

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

type fakeStore struct {
	mu         sync.Mutex
	groups     map[ring.Hash]index.PostingList
	corrupt    map[ring.Hash]bool
	failRemove map[ring.Hash]bool
	onRemove   func(h ring.Hash)

	iterations    int
	removeCalls   int
	droppedGroups []ring.Hash
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:     make(map[ring.Hash]index.PostingList),
		corrupt:    make(map[ring.Hash]bool),
		failRemove: make(map[ring.Hash]bool),
	}
}

func (s *fakeStore) add(h ring.Hash, docIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range docIDs {
		s.groups[h] = append(s.groups[h], index.Posting{DocID: id, Frequency: 1})
	}
}

func (s *fakeStore) docIDs(h ring.Hash) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.groups[h] {
		out = append(out, p.DocID)
	}
	return out
}

func (s *fakeStore) IterateTermGroupsFrom(start ring.Hash) (index.GroupIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	hashes := make([]ring.Hash, 0, len(s.groups))
	for h := range s.groups {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)
	i, _ := slices.BinarySearch(hashes, start)
	ordered := append(slices.Clone(hashes[i:]), hashes[:i]...)
	return &fakeIterator{store: s, hashes: ordered}, nil
}

func (s *fakeStore) RemovePosting(h ring.Hash, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[h] = slices.DeleteFunc(s.groups[h], func(p index.Posting) bool {
		return p.DocID == docID
	})
	return nil
}

func (s *fakeStore) RemoveTermGroup(h ring.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, h)
	delete(s.corrupt, h)
	s.droppedGroups = append(s.droppedGroups, h)
	return nil
}

func (s *fakeStore) RemovePostings(h ring.Hash, docIDs map[string]struct{}) (int, error) {
	if s.onRemove != nil {
		s.onRemove(h)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls++
	if s.failRemove[h] {
		return 0, apperrors.Corruption(h, errors.New("write failed"))
	}
	before := len(s.groups[h])
	s.groups[h] = slices.DeleteFunc(s.groups[h], func(p index.Posting) bool {
		_, ok := docIDs[p.DocID]
		return ok
	})
	return before - len(s.groups[h]), nil
}

type fakeIterator struct {
	store  *fakeStore
	hashes []ring.Hash
	pos    int
}

func (it *fakeIterator) Next() (index.TermGroup, error) {
	it.store.mu.Lock()
	defer it.store.mu.Unlock()
	for it.pos < len(it.hashes) {
		h := it.hashes[it.pos]
		it.pos++
		if it.store.corrupt[h] {
			return index.TermGroup{TermHash: h}, apperrors.Corruption(h, errors.New("bad block"))
		}
		postings := it.store.groups[h]
		if len(postings) == 0 {
			continue
		}
		return index.TermGroup{TermHash: h, Postings: slices.Clone(postings)}, nil
	}
	return index.TermGroup{}, io.EOF
}

func (it *fakeIterator) Close() error { return nil }

type fakeResolver struct {
	mu       sync.Mutex
	docs     map[string]index.Document
	failing  map[string]error
	onLookup func(docID string)
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		docs:    make(map[string]index.Document),
		failing: make(map[string]error),
	}
}

func (r *fakeResolver) bind(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.docs[id] = index.Document{DocID: id, URL: "http://example.org/" + id}
	}
}

func (r *fakeResolver) Resolve(_ context.Context, docID string) (index.Document, error) {
	r.mu.Lock()
	hook := r.onLookup
	doc, ok := r.docs[docID]
	err := r.failing[docID]
	r.mu.Unlock()
	if hook != nil {
		hook(docID)
	}
	if err != nil {
		return index.Document{}, err
	}
	if !ok {
		return index.Document{}, apperrors.ErrDocumentNotFound
	}
	return doc, nil
}

type fakeDirectory struct {
	targets []TargetPeer
	err     error
	calls   int
}

func (d *fakeDirectory) SelectTargets(_ context.Context, start ring.Hash, count int) ([]TargetPeer, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.targets, nil
}

func targetAt(pos ring.Hash) *fakeDirectory {
	return &fakeDirectory{targets: []TargetPeer{{ID: "peer-" + pos.String(), Position: pos}}}
}

// docs returns n document ids sharing a prefix.
func docs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}
