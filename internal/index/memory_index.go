package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// MemoryIndex is the hot, RAM-resident part of the posting store.
type MemoryIndex struct {
	mu    sync.RWMutex
	index map[ring.Hash]map[string]*Posting
	size  int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[ring.Hash]map[string]*Posting),
	}
}

// AddDocument indexes every term of text under docID.
func (m *MemoryIndex) AddDocument(docID string, text string) int {
	stats := Terms(text)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range stats {
		m.putLocked(st.Hash, Posting{
			DocID:     docID,
			Frequency: st.Frequency,
			Positions: st.Positions,
		})
	}
	return len(stats)
}

// AddPostings merges postings into the group for termHash. An existing
// posting for the same document is replaced.
func (m *MemoryIndex) AddPostings(termHash ring.Hash, postings PostingList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range postings {
		m.putLocked(termHash, p)
	}
}

func (m *MemoryIndex) putLocked(termHash ring.Hash, p Posting) {
	docs, exists := m.index[termHash]
	if !exists {
		docs = make(map[string]*Posting)
		m.index[termHash] = docs
	}
	if old, ok := docs[p.DocID]; ok {
		m.size -= postingSize(old)
	}
	cp := p
	docs[p.DocID] = &cp
	m.size += postingSize(&cp)
}

func postingSize(p *Posting) int64 {
	return int64(8 + len(p.DocID) + len(p.Positions)*8 + 32)
}

// Group returns a sorted copy of the postings for termHash.
func (m *MemoryIndex) Group(termHash ring.Hash) (TermGroup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[termHash]
	if !exists || len(docs) == 0 {
		return TermGroup{}, false
	}
	return TermGroup{TermHash: termHash, Postings: sortedPostings(docs)}, true
}

// Contains reports whether docID is posted under termHash.
func (m *MemoryIndex) Contains(termHash ring.Hash, docID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[termHash][docID]
	return ok
}

// TermHashes returns every term hash in ascending ring order.
func (m *MemoryIndex) TermHashes() []ring.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hashes := make([]ring.Hash, 0, len(m.index))
	for h, docs := range m.index {
		if len(docs) > 0 {
			hashes = append(hashes, h)
		}
	}
	sort.Slice(hashes, func(i, j int) bool { return ring.Less(hashes[i], hashes[j]) })
	return hashes
}

// RemovePosting deletes one posting and reports whether it existed.
func (m *MemoryIndex) RemovePosting(termHash ring.Hash, docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(termHash, docID)
}

// RemovePostings deletes the given documents from termHash and returns how
// many were present.
func (m *MemoryIndex) RemovePostings(termHash ring.Hash, docIDs map[string]struct{}) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id := range docIDs {
		if m.removeLocked(termHash, id) {
			removed++
		}
	}
	return removed
}

func (m *MemoryIndex) removeLocked(termHash ring.Hash, docID string) bool {
	docs, exists := m.index[termHash]
	if !exists {
		return false
	}
	p, ok := docs[docID]
	if !ok {
		return false
	}
	m.size -= postingSize(p)
	delete(docs, docID)
	if len(docs) == 0 {
		delete(m.index, termHash)
	}
	return true
}

// RemoveTermGroup drops the whole group and returns the number of postings
// it held.
func (m *MemoryIndex) RemoveTermGroup(termHash ring.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.index[termHash]
	for _, p := range docs {
		m.size -= postingSize(p)
	}
	delete(m.index, termHash)
	return len(docs)
}

// Snapshot returns every group sorted by term hash.
func (m *MemoryIndex) Snapshot() []TermGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groups := make([]TermGroup, 0, len(m.index))
	for h, docs := range m.index {
		if len(docs) == 0 {
			continue
		}
		groups = append(groups, TermGroup{TermHash: h, Postings: sortedPostings(docs)})
	}
	sort.Slice(groups, func(i, j int) bool {
		return ring.Less(groups[i].TermHash, groups[j].TermHash)
	})
	return groups
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[ring.Hash]map[string]*Posting)
	m.size = 0
}

func sortedPostings(docs map[string]*Posting) PostingList {
	postings := make(PostingList, 0, len(docs))
	for _, p := range docs {
		cp := *p
		cp.Positions = append([]int(nil), p.Positions...)
		postings = append(postings, cp)
	}
	sort.Slice(postings, func(i, j int) bool {
		return postings[i].DocID < postings[j].DocID
	})
	return postings
}
