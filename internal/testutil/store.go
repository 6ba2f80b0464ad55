// Package testutil builds fixture trail stores for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/roach88/gettrail/internal/store"
)

// Event is one fixture event. Fields missing from Values are absent.
type Event struct {
	ID        string // 32 hex characters
	Timestamp uint64
	Values    map[string]string
}

// WriteStore creates and finalizes a store named name in a fresh temp
// directory and returns its path. Events keep their slice order within a
// trail when timestamps tie.
func WriteStore(t testing.TB, name string, fields []string, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	w, err := store.Create(path, fields)
	if err != nil {
		t.Fatalf("create store %s: %v", name, err)
	}
	ctx := context.Background()
	for _, ev := range events {
		id, err := uuid.Parse(ev.ID)
		if err != nil {
			t.Fatalf("fixture id %q: %v", ev.ID, err)
		}
		values := make([]string, len(fields))
		for i, f := range fields {
			values[i] = ev.Values[f]
		}
		if err := w.Add(ctx, id, ev.Timestamp, values); err != nil {
			t.Fatalf("add fixture event: %v", err)
		}
	}
	if err := w.Finalize(ctx); err != nil {
		t.Fatalf("finalize store %s: %v", name, err)
	}
	return path
}

// DeterministicClock hands out strictly increasing timestamps for fixtures.
// The first call to Next returns start.
type DeterministicClock struct {
	next uint64
	step uint64
}

// NewDeterministicClock creates a clock starting at start advancing by step.
func NewDeterministicClock(start, step uint64) *DeterministicClock {
	return &DeterministicClock{next: start, step: step}
}

// Next returns the current timestamp and advances the clock.
func (c *DeterministicClock) Next() uint64 {
	ts := c.next
	c.next += c.step
	return ts
}
