// Package receiver is the target side of index distribution. It consumes
// envelopes pushed by other peers and documents from the local ingest topic,
// and writes both into the local posting store and document metadata.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/transfer"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// Store is the write side of the local posting store.
type Store interface {
	AddPostings(termHash ring.Hash, postings index.PostingList) error
	AddDocument(docID string, text string) error
}

// IngestEvent is a crawled document published on the ingest topic.
type IngestEvent struct {
	DocID     string    `json:"doc_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Receiver struct {
	self    string
	store   Store
	docs    resolver.Writer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(self string, store Store, docs resolver.Writer, m *metrics.Metrics) *Receiver {
	return &Receiver{
		self:    self,
		store:   store,
		docs:    docs,
		metrics: m,
		logger:  slog.Default().With("component", "receiver"),
	}
}

// HandleEnvelope returns the handler for the index transfer topic. Envelopes
// addressed to other peers are acknowledged and ignored, since every peer of
// the consumer group reads the same topic.
func (r *Receiver) HandleEnvelope() kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := kafka.DecodeJSON[transfer.Envelope](msg.Value)
		if err != nil {
			return err
		}
		if env.Target != r.self {
			r.logger.Debug("ignoring envelope for another peer", "target", env.Target, "source", env.Source)
			return nil
		}
		if len(env.Postings) == 0 {
			return fmt.Errorf("%w: envelope for term %s has no postings", apperrors.ErrInvalidInput, env.TermHash)
		}
		if len(env.Documents) > 0 {
			if err := r.docs.UpsertMany(ctx, env.Documents); err != nil {
				return fmt.Errorf("storing %d documents from %s: %w", len(env.Documents), env.Source, err)
			}
		}
		if err := r.store.AddPostings(env.TermHash, env.Postings); err != nil {
			return fmt.Errorf("adding postings for term %s: %w", env.TermHash, err)
		}
		if r.metrics != nil {
			r.metrics.PostingsReceived.Add(float64(len(env.Postings)))
		}
		r.logger.Info("envelope received",
			"source", env.Source,
			"term_hash", env.TermHash,
			"postings", len(env.Postings),
			"documents", len(env.Documents),
		)
		return nil
	}
}

// HandleIngest returns the handler for the document ingest topic.
func (r *Receiver) HandleIngest() kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[IngestEvent](msg.Value)
		if err != nil {
			return err
		}
		if event.DocID == "" || event.URL == "" {
			return fmt.Errorf("%w: ingest event needs doc_id and url", apperrors.ErrInvalidInput)
		}
		doc := index.Document{
			DocID:     event.DocID,
			URL:       event.URL,
			Title:     event.Title,
			FetchedAt: event.FetchedAt,
			SizeBytes: int64(len(event.Body)),
		}
		if err := r.docs.UpsertMany(ctx, []index.Document{doc}); err != nil {
			return fmt.Errorf("storing document %s: %w", event.DocID, err)
		}
		if err := r.store.AddDocument(event.DocID, event.Title+" "+event.Body); err != nil {
			return fmt.Errorf("indexing document %s: %w", event.DocID, err)
		}
		r.logger.Debug("document indexed", "doc_id", event.DocID)
		return nil
	}
}
