package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketd/checkout/internal/numbering"
)

// The upsert bumps the per-day counter and returns the new value in one
// statement; concurrent callers serialize on the row and can never observe
// the same value.
const nextSequenceSQL = `INSERT INTO document_sequences (prefix, day, value)
	VALUES ($1, $2, 1)
	ON CONFLICT (prefix, day) DO UPDATE SET value = document_sequences.value + 1
	RETURNING value`

var _ numbering.Sequencer = (*Sequencer)(nil)

// Sequencer implements numbering.Sequencer on a per-day counter table.
type Sequencer struct {
	pool *pgxpool.Pool
}

// NewSequencer returns a Sequencer that uses the given pool.
func NewSequencer(pool *pgxpool.Pool) *Sequencer {
	return &Sequencer{pool: pool}
}

// Next returns the next counter value for the prefix on the given UTC day.
func (s *Sequencer) Next(ctx context.Context, prefix string, day time.Time) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, nextSequenceSQL, prefix, day.UTC().Format("2006-01-02")).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %q: %w", prefix, err)
	}
	return value, nil
}
