package numbering

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memSequencer is an in-memory Sequencer with the same atomicity contract
// as the PostgreSQL implementation.
type memSequencer struct {
	mu   sync.Mutex
	next map[string]int64
}

func newMemSequencer() *memSequencer {
	return &memSequencer{next: make(map[string]int64)}
}

func (s *memSequencer) Next(_ context.Context, prefix string, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := prefix + day.UTC().Format("20060102")
	s.next[key]++
	return s.next[key], nil
}

func TestFormat(t *testing.T) {
	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "ORD-20260310-000001", Format(PrefixOrder, day, 1))
	assert.Equal(t, "INV-20260310-123456", Format(PrefixInvoice, day, 123456))
}

func TestFormat_UsesUTCDate(t *testing.T) {
	// 23:30 UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 3, 10, 23, 30, 0, 0, loc)

	assert.Equal(t, "ORD-20260311-000007", Format(PrefixOrder, local, 7))
}

func TestGenerator_Next(t *testing.T) {
	g := NewGenerator(newMemSequencer())
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	first, err := g.Next(context.Background(), PrefixOrder, day)
	require.NoError(t, err)
	second, err := g.Next(context.Background(), PrefixOrder, day)
	require.NoError(t, err)

	assert.Equal(t, "ORD-20260310-000001", first)
	assert.Equal(t, "ORD-20260310-000002", second)

	// Prefixes count independently.
	inv, err := g.Next(context.Background(), PrefixInvoice, day)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260310-000001", inv)

	// A new day restarts the sequence.
	next, err := g.Next(context.Background(), PrefixOrder, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260311-000001", next)
}

func TestGenerator_ConcurrentUniqueness(t *testing.T) {
	g := NewGenerator(newMemSequencer())
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	const n = 200
	results := make([]string, n)

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			num, err := g.Next(context.Background(), PrefixOrder, day)
			results[i] = num
			return err
		})
	}
	require.NoError(t, eg.Wait())

	seen := make(map[string]bool, n)
	for _, num := range results {
		assert.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
}
