package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testEvent is one event fed to createTestStore.
type testEvent struct {
	id        string
	timestamp uint64
	values    []string
}

// createTestStore writes and finalizes a store in a temp dir and opens it.
func createTestStore(t *testing.T, fields []string, events []testEvent) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tdb")

	w, err := Create(path, fields)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, w.Add(context.Background(), uuid.MustParse(ev.id), ev.timestamp, ev.values))
	}
	require.NoError(t, w.Finalize(context.Background()))

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// collectTrail reads every event of trail idx, resolving values to strings.
// Absent fields are reported as "-".
func collectTrail(t *testing.T, s *Store, idx uint64) [][]string {
	t.Helper()
	ctx := context.Background()

	c := s.NewCursor()
	defer c.Close()
	require.NoError(t, c.GetTrail(ctx, idx))

	var out [][]string
	for c.Next() {
		ev := c.Event()
		row := []string{strconv.FormatUint(ev.Timestamp, 10)}
		for _, item := range ev.Items {
			v, ok, err := s.ItemValue(ctx, item)
			require.NoError(t, err)
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, string(v))
		}
		out = append(out, row)
	}
	require.NoError(t, c.Err())
	return out
}
