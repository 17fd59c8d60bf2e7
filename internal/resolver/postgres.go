package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/postgres"
)

const (
	selectDocument = `SELECT url, title, fetched_at, size_bytes FROM documents WHERE id = $1`
	upsertDocument = `
INSERT INTO documents (id, url, title, fetched_at, size_bytes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET url = EXCLUDED.url,
    title = EXCLUDED.title,
    fetched_at = GREATEST(documents.fetched_at, EXCLUDED.fetched_at),
    size_bytes = EXCLUDED.size_bytes`
)

// PostgresResolver reads document metadata from the documents table.
type PostgresResolver struct {
	db *postgres.Client
}

func NewPostgres(db *postgres.Client) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Resolve(ctx context.Context, docID string) (index.Document, error) {
	doc := index.Document{DocID: docID}
	err := r.db.DB.QueryRowContext(ctx, selectDocument, docID).
		Scan(&doc.URL, &doc.Title, &doc.FetchedAt, &doc.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return index.Document{}, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return index.Document{}, fmt.Errorf("querying document %s: %w", docID, err)
	}
	return doc, nil
}

// UpsertMany writes docs in one transaction. A newer fetch time is never
// overwritten by an older one.
func (r *PostgresResolver) UpsertMany(ctx context.Context, docs []index.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertDocument)
		if err != nil {
			return fmt.Errorf("preparing document upsert: %w", err)
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, d.DocID, d.URL, d.Title, d.FetchedAt, d.SizeBytes); err != nil {
				return fmt.Errorf("upserting document %s: %w", d.DocID, err)
			}
		}
		return nil
	})
}
