package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	idA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	idC = "0000000000000000000000000000000c"
)

func TestCreate_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
	}{
		{"empty name", []string{"url", ""}},
		{"reserved timestamp", []string{"timestamp"}},
		{"duplicate", []string{"url", "url"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.tdb")
			_, err := Create(path, tt.fields)
			require.ErrorIs(t, err, ErrInvalidField)

			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "no file should be created")
		})
	}
}

func TestCreate_ExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tdb")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Create(path, []string{"url"})
	require.ErrorIs(t, err, ErrStoreExists)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.tdb"))
	require.Error(t, err)
}

func TestOpen_DoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.tdb")
	_, _ = Open(path)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_ForeignSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpen_NotAStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.tdb")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all, just text"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}

func TestOpen_UnfinalizedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tdb")
	w, err := Create(path, []string{"url"})
	require.NoError(t, err)
	require.NoError(t, w.Add(context.Background(), uuid.MustParse(idA), 1, []string{"/a"}))
	require.NoError(t, w.Close())

	_, err = Open(path)
	require.Error(t, err)
}

func TestStore_Metadata(t *testing.T) {
	s := createTestStore(t, []string{"url", "referrer"}, []testEvent{
		{idA, 1, []string{"/a", ""}},
		{idB, 2, []string{"/b", "x"}},
	})

	assert.Equal(t, 3, s.NumFields())
	assert.Equal(t, "timestamp", s.FieldName(0))
	assert.Equal(t, "url", s.FieldName(1))
	assert.Equal(t, "referrer", s.FieldName(2))
	assert.Equal(t, "", s.FieldName(3))
	assert.Equal(t, "", s.FieldName(-1))
	assert.Equal(t, []string{"timestamp", "url", "referrer"}, s.Fields())
	assert.Equal(t, uint64(2), s.NumTrails())
}

func TestStore_TrailsInUUIDOrder(t *testing.T) {
	s := createTestStore(t, []string{"url"}, []testEvent{
		{idB, 1, []string{"/b"}},
		{idA, 2, []string{"/a"}},
		{idC, 3, []string{"/c"}},
	})
	ctx := context.Background()

	want := []string{idC, idA, idB}
	for i, hex := range want {
		id, err := s.TrailUUID(ctx, uint64(i))
		require.NoError(t, err)
		assert.Equal(t, uuid.MustParse(hex), id, "trail %d", i)
	}

	_, err := s.TrailUUID(ctx, 3)
	require.ErrorIs(t, err, ErrTrailNotFound)
}

func TestCursor_EventsInTimestampOrder(t *testing.T) {
	s := createTestStore(t, []string{"url", "referrer"}, []testEvent{
		{idA, 300, []string{"/c", ""}},
		{idA, 100, []string{"/a", "google"}},
		{idB, 50, []string{"/x", ""}},
		{idA, 200, []string{"", ""}},
		{idA, 200, []string{"/b2", ""}},
	})

	events := collectTrail(t, s, 0)
	assert.Equal(t, [][]string{
		{"100", "/a", "google"},
		{"200", "-", "-"},
		{"200", "/b2", "-"},
		{"300", "/c", "-"},
	}, events)

	assert.Equal(t, [][]string{{"50", "/x", "-"}}, collectTrail(t, s, 1))
}

func TestCursor_UnsignedTimestamps(t *testing.T) {
	const big = uint64(1)<<63 + 5
	s := createTestStore(t, []string{"url"}, []testEvent{
		{idA, big, []string{"/late"}},
		{idA, 10, []string{"/early"}},
	})

	assert.Equal(t, [][]string{
		{"10", "/early"},
		{"9223372036854775813", "/late"},
	}, collectTrail(t, s, 0))
}

func TestCursor_GetTrailOutOfRange(t *testing.T) {
	s := createTestStore(t, []string{"url"}, []testEvent{{idA, 1, []string{"/a"}}})

	c := s.NewCursor()
	defer c.Close()
	err := c.GetTrail(context.Background(), 1)
	require.ErrorIs(t, err, ErrTrailNotFound)
	assert.False(t, c.Next())
}

func TestCursor_Reposition(t *testing.T) {
	s := createTestStore(t, []string{"url"}, []testEvent{
		{idA, 1, []string{"/a1"}},
		{idA, 2, []string{"/a2"}},
		{idB, 3, []string{"/b1"}},
	})
	ctx := context.Background()

	c := s.NewCursor()
	defer c.Close()

	require.NoError(t, c.GetTrail(ctx, 0))
	require.True(t, c.Next())
	assert.Equal(t, uint64(1), c.Event().Timestamp)

	// Abandon trail 0 halfway through.
	require.NoError(t, c.GetTrail(ctx, 1))
	require.True(t, c.Next())
	assert.Equal(t, uint64(3), c.Event().Timestamp)
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestCursor_NextBeforeGetTrail(t *testing.T) {
	s := createTestStore(t, []string{"url"}, []testEvent{{idA, 1, []string{"/a"}}})

	c := s.NewCursor()
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestStore_NoFields(t *testing.T) {
	s := createTestStore(t, nil, []testEvent{
		{idA, 7, []string{}},
		{idA, 3, []string{}},
	})

	assert.Equal(t, 1, s.NumFields())
	assert.Equal(t, [][]string{{"3"}, {"7"}}, collectTrail(t, s, 0))
}

func TestStore_EmptyStore(t *testing.T) {
	s := createTestStore(t, []string{"url"}, nil)

	assert.Equal(t, uint64(0), s.NumTrails())
	assert.Equal(t, 2, s.NumFields())
}

func TestItemValue(t *testing.T) {
	s := createTestStore(t, []string{"url", "body"}, []testEvent{
		{idA, 1, []string{"/a", "x\x00y"}},
		{idA, 2, []string{"/a", ""}},
	})
	ctx := context.Background()

	c := s.NewCursor()
	defer c.Close()
	require.NoError(t, c.GetTrail(ctx, 0))

	require.True(t, c.Next())
	first := append([]Item(nil), c.Event().Items...)
	require.True(t, c.Next())
	second := append([]Item(nil), c.Event().Items...)

	// Equal values share one lexicon entry.
	assert.Equal(t, first[0], second[0])

	v, ok, err := s.ItemValue(ctx, first[1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("x\x00y"), v, "embedded zero bytes are preserved")

	_, ok, err = s.ItemValue(ctx, second[1])
	require.NoError(t, err)
	assert.False(t, ok)

	// Second lookup is served from the cache.
	v, ok, err = s.ItemValue(ctx, first[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a", string(v))
	v, ok, err = s.ItemValue(ctx, first[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a", string(v))
}

func TestItemValue_UnknownItem(t *testing.T) {
	s := createTestStore(t, []string{"url"}, []testEvent{{idA, 1, []string{"/a"}}})

	_, _, err := s.ItemValue(context.Background(), Item{Field: 1, Value: 99})
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestWriter_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tdb")
	w, err := Create(path, []string{"url", "referrer"})
	require.NoError(t, err)
	ctx := context.Background()

	err = w.Add(ctx, uuid.MustParse(idA), 1, []string{"/a"})
	require.ErrorIs(t, err, ErrFieldCount)

	require.NoError(t, w.Finalize(ctx))

	err = w.Add(ctx, uuid.MustParse(idA), 1, []string{"/a", ""})
	require.ErrorIs(t, err, ErrFinalized)
	assert.True(t, errors.Is(w.Finalize(ctx), ErrFinalized))
	assert.NoError(t, w.Close())
}

func TestWriter_FinalizedStoreIsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.tdb")
	w, err := Create(path, []string{"url"})
	require.NoError(t, err)
	require.NoError(t, w.Add(context.Background(), uuid.MustParse(idA), 1, []string{"/a"}))
	require.NoError(t, w.Finalize(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "test.tdb", entries[0].Name())
}

func TestStore_PathsWithURIDelimiters(t *testing.T) {
	for _, name := range []string{"day#1.tdb", "a?b.tdb", "50%.tdb", "a%20b.tdb", "q?mode=rw#x.tdb"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			w, err := Create(path, []string{"url"})
			require.NoError(t, err)
			require.NoError(t, w.Add(ctx, uuid.MustParse(idA), 7, []string{"/a"}))
			require.NoError(t, w.Finalize(ctx))

			s, err := Open(path)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), s.NumTrails())
			assert.Equal(t, [][]string{{"7", "/a"}}, collectTrail(t, s, 0))
			require.NoError(t, s.Close())

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, name, entries[0].Name())
		})
	}
}

func TestOpen_MissingPathWithFragmentCreatesNothing(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "day#1.tdb"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedVersion)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CloseTwice(t *testing.T) {
	s := createTestStore(t, []string{"url"}, nil)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestOpen_ValueCacheSizeOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tdb")
	w, err := Create(path, []string{"url"})
	require.NoError(t, err)
	require.NoError(t, w.Add(context.Background(), uuid.MustParse(idA), 1, []string{"/a"}))
	require.NoError(t, w.Finalize(context.Background()))

	for _, size := range []int{-1, 0, 1, 16} {
		s, err := Open(path, WithValueCacheSize(size))
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, [][]string{{"1", "/a"}}, collectTrail(t, s, 0))
		require.NoError(t, s.Close())
	}
}
