// Package numbering generates unique, sortable, human-legible document
// numbers for orders and invoices, e.g. ORD-20260310-000042.
package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Document number prefixes.
const (
	PrefixOrder   = "ORD"
	PrefixInvoice = "INV"
)

// ErrCollision is returned by the persistence layer when a generated number
// already exists. Callers regenerate and retry a bounded number of times
// before giving up.
var ErrCollision = errors.New("document number collision")

// MaxRetries bounds how often a caller should regenerate after ErrCollision
// before escalating the failure.
const MaxRetries = 3

// Sequencer hands out the next value of an atomically incremented per-day,
// per-prefix counter. Two concurrent calls must never observe the same
// value.
type Sequencer interface {
	Next(ctx context.Context, prefix string, day time.Time) (int64, error)
}

// Generator produces document numbers in the PREFIX-YYYYMMDD-NNNNNN format.
type Generator struct {
	seq Sequencer
}

// NewGenerator creates a Generator backed by the given Sequencer.
func NewGenerator(seq Sequencer) *Generator {
	return &Generator{seq: seq}
}

// Next returns a fresh document number for the prefix, dated by now (UTC).
// The number is assigned exactly once per document and never regenerated
// after assignment; uniqueness is ultimately enforced by a unique index at
// the persistence layer.
func (g *Generator) Next(ctx context.Context, prefix string, now time.Time) (string, error) {
	day := now.UTC()
	n, err := g.seq.Next(ctx, prefix, day)
	if err != nil {
		return "", errors.Wrap(err, "next sequence")
	}
	return Format(prefix, day, n), nil
}

// Format renders a document number from its parts.
func Format(prefix string, day time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, day.UTC().Format("20060102"), n)
}
