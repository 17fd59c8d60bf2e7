package index

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

func TestTerms(t *testing.T) {
	stats := Terms("Peer to peer, a PEER network!")
	byTerm := make(map[string]TermStat)
	for _, st := range stats {
		byTerm[st.Term] = st
	}
	if _, ok := byTerm["a"]; ok {
		t.Error("single-rune words must be skipped")
	}
	peer, ok := byTerm["peer"]
	if !ok {
		t.Fatal("expected term peer")
	}
	if peer.Frequency != 3 {
		t.Errorf("expected frequency 3, got %d", peer.Frequency)
	}
	if peer.Hash != HashTerm("PEER") {
		t.Error("term hash must be case-insensitive")
	}
}

func TestMemoryIndexAddAndRemove(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument("doc-1", "alpha beta")
	m.AddDocument("doc-2", "alpha gamma")

	alpha := HashTerm("alpha")
	g, ok := m.Group(alpha)
	if !ok || g.Len() != 2 {
		t.Fatalf("expected 2 postings for alpha, got %+v", g)
	}
	if g.Postings[0].DocID != "doc-1" || g.Postings[1].DocID != "doc-2" {
		t.Errorf("postings must be sorted by doc id, got %+v", g.Postings)
	}

	if !m.RemovePosting(alpha, "doc-1") {
		t.Error("expected doc-1 to be removed")
	}
	if m.RemovePosting(alpha, "doc-1") {
		t.Error("second removal must report false")
	}
	n := m.RemovePostings(alpha, map[string]struct{}{"doc-2": {}, "doc-9": {}})
	if n != 1 {
		t.Errorf("expected 1 removal, got %d", n)
	}
	if _, ok := m.Group(alpha); ok {
		t.Error("empty group must disappear")
	}
}

func TestMemoryIndexTermHashesAscending(t *testing.T) {
	m := NewMemoryIndex()
	for _, h := range []ring.Hash{30, 10, 20} {
		m.AddPostings(h, PostingList{{DocID: "d", Frequency: 1}})
	}
	got := m.TermHashes()
	want := []ring.Hash{10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMemoryIndexSizeTracksRemovals(t *testing.T) {
	m := NewMemoryIndex()
	m.AddPostings(1, PostingList{{DocID: "a", Frequency: 1}, {DocID: "b", Frequency: 1}})
	if m.Size() == 0 {
		t.Fatal("size must grow on insert")
	}
	if removed := m.RemoveTermGroup(1); removed != 2 {
		t.Errorf("expected 2 postings dropped, got %d", removed)
	}
	if m.Size() != 0 {
		t.Errorf("expected size 0 after drop, got %d", m.Size())
	}
}
