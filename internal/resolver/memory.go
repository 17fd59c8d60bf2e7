// Package resolver maps document ids found in postings to the document
// metadata stored for them. PostgresResolver is the system of record,
// Cached puts Redis in front of any resolver, and Memory serves single-node
// setups and tests.
package resolver

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
)

// Resolver is satisfied by every resolver in this package.
type Resolver interface {
	Resolve(ctx context.Context, docID string) (index.Document, error)
}

// Writer stores document metadata received from ingestion or other peers.
type Writer interface {
	UpsertMany(ctx context.Context, docs []index.Document) error
}

type Memory struct {
	mu   sync.RWMutex
	docs map[string]index.Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]index.Document)}
}

func (m *Memory) Resolve(_ context.Context, docID string) (index.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return index.Document{}, apperrors.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *Memory) UpsertMany(_ context.Context, docs []index.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.DocID] = d
	}
	return nil
}

func (m *Memory) Delete(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docID)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
