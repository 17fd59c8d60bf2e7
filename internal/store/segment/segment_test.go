package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

func writeTestSegment(t *testing.T, dir string) string {
	t.Helper()
	w := NewWriter(dir)
	name, err := w.Write([]index.TermGroup{
		{TermHash: 10, Postings: index.PostingList{{DocID: "a", Frequency: 1}, {DocID: "b", Frequency: 2}}},
		{TermHash: 20, Postings: index.PostingList{{DocID: "c", Frequency: 1, Positions: []int{3}}}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return filepath.Join(dir, name)
}

func TestWriteAndRead(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.Terms() != 2 {
		t.Errorf("expected 2 terms, got %d", r.Terms())
	}
	if r.DocCount() != 3 {
		t.Errorf("expected 3 docs, got %d", r.DocCount())
	}
	hashes := r.TermHashes()
	if hashes[0] != 10 || hashes[1] != 20 {
		t.Errorf("unexpected term order %v", hashes)
	}
	postings, err := r.Postings(20)
	if err != nil {
		t.Fatalf("postings: %v", err)
	}
	if len(postings) != 1 || postings[0].DocID != "c" || postings[0].Positions[0] != 3 {
		t.Errorf("unexpected postings %+v", postings)
	}
	missing, err := r.Postings(ring.Hash(15))
	if err != nil || missing != nil {
		t.Errorf("expected nil postings for absent term, got %v, %v", missing, err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus"+Extension)
	if err := os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(path); err == nil {
		t.Error("expected bad magic error")
	}
}

func TestCorruptPostingsSurfaceAsError(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	// First postings byte is the opening '[' of the JSON array.
	if _, err := f.WriteAt([]byte{'#'}, int64(HeaderSize)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("dictionary is intact, open must succeed: %v", err)
	}
	defer r.Close()
	if _, err := r.Postings(10); err == nil {
		t.Error("expected parse error for damaged postings")
	}
	if _, err := r.Postings(20); err != nil {
		t.Errorf("undamaged term must still read: %v", err)
	}
}
