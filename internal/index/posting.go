package index

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// Posting is one document reference inside a term group.
type Posting struct {
	DocID     string `json:"doc_id"`
	Frequency int    `json:"freq"`
	Positions []int  `json:"pos,omitempty"`
}

type PostingList []Posting

// TermGroup is the posting list stored for one term hash.
type TermGroup struct {
	TermHash ring.Hash   `json:"term_hash"`
	Postings PostingList `json:"postings"`
}

func (g TermGroup) Len() int {
	return len(g.Postings)
}

// DocIDs returns the set of document ids referenced by the group.
func (g TermGroup) DocIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.Postings))
	for _, p := range g.Postings {
		ids[p.DocID] = struct{}{}
	}
	return ids
}

// Document is the resolved metadata behind a posting's document id.
type Document struct {
	DocID     string    `json:"doc_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// Bound reports whether the document still has an owner URL. Postings whose
// document is unbound are stale.
func (d Document) Bound() bool {
	return d.URL != ""
}
