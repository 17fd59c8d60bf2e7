package peers

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

const (
	selectPeers = `
SELECT id, ring_position, address, accepts_index, last_seen
FROM peers
WHERE last_seen > $1`
	upsertPeer = `
INSERT INTO peers (id, ring_position, address, accepts_index, last_seen)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE
SET ring_position = EXCLUDED.ring_position,
    address = EXCLUDED.address,
    accepts_index = EXCLUDED.accepts_index,
    last_seen = NOW()`
)

// PostgresSource reads the peer registry. Peers not seen within maxAge are
// left out.
type PostgresSource struct {
	db     *postgres.Client
	maxAge time.Duration
}

func NewPostgresSource(db *postgres.Client, maxAge time.Duration) *PostgresSource {
	return &PostgresSource{db: db, maxAge: maxAge}
}

func (s *PostgresSource) Peers(ctx context.Context) ([]Peer, error) {
	rows, err := s.db.DB.QueryContext(ctx, selectPeers, time.Now().Add(-s.maxAge))
	if err != nil {
		return nil, fmt.Errorf("querying peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		var (
			p   Peer
			pos string
		)
		if err := rows.Scan(&p.ID, &pos, &p.Address, &p.AcceptsIndex, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning peer row: %w", err)
		}
		if p.Position, err = ring.Parse(pos); err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peer rows: %w", err)
	}
	return out, nil
}

// Announce registers or refreshes the given peer, normally the local one.
func (s *PostgresSource) Announce(ctx context.Context, p Peer) error {
	if _, err := s.db.DB.ExecContext(ctx, upsertPeer, p.ID, p.Position.String(), p.Address, p.AcceptsIndex); err != nil {
		return fmt.Errorf("announcing peer %s: %w", p.ID, err)
	}
	return nil
}
