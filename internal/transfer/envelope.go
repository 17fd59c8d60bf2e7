package transfer

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/dht"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// Envelope carries one term group of a chunk to one target peer, together
// with the documents its postings reference.
type Envelope struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	ChunkStart ring.Hash         `json:"chunk_start"`
	TermHash   ring.Hash         `json:"term_hash"`
	Postings   index.PostingList `json:"postings"`
	Documents  []index.Document  `json:"documents"`
	SentAt     time.Time         `json:"sent_at"`
}

// Envelopes builds one envelope per target and term group of chunk.
func Envelopes(source string, chunk *dht.Chunk, now time.Time) []Envelope {
	groups := chunk.Groups()
	targets := chunk.Targets()
	out := make([]Envelope, 0, len(groups)*len(targets))
	for _, g := range groups {
		docs := make([]index.Document, 0, g.Len())
		for _, p := range g.Postings {
			if d, ok := chunk.Document(p.DocID); ok {
				docs = append(docs, d)
			}
		}
		for _, t := range targets {
			out = append(out, Envelope{
				Source:     source,
				Target:     t.ID,
				ChunkStart: chunk.StartHash(),
				TermHash:   g.TermHash,
				Postings:   g.Postings,
				Documents:  docs,
				SentAt:     now,
			})
		}
	}
	return out
}
