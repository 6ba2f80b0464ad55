// Package filter walks trail stores and emits the trails of requested
// identifiers.
//
// Stores are processed one at a time in the order given, trails in ascending
// index order and events in cursor order. The first error of any kind aborts
// the run; nothing is retried and no store is skipped.
package filter

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/gettrail/internal/idset"
	"github.com/roach88/gettrail/internal/store"
	"github.com/roach88/gettrail/internal/telemetry"
	"github.com/roach88/gettrail/internal/trailjson"
)

// Cursor is a single-pass iterator over the events of one trail.
type Cursor interface {
	GetTrail(ctx context.Context, idx uint64) error
	Next() bool
	Event() *store.Event
	Err() error
	Close() error
}

// Store is the read side of a trail store as used by the filterer.
type Store interface {
	NumFields() int
	FieldName(i int) string
	NumTrails() uint64
	TrailUUID(ctx context.Context, idx uint64) (uuid.UUID, error)
	NewCursor() Cursor
	ItemValue(ctx context.Context, item store.Item) ([]byte, bool, error)
	Close() error
}

// Opener opens the store at path.
type Opener func(ctx context.Context, path string) (Store, error)

// SQLiteOpener returns an Opener for store files, passing opts to store.Open.
func SQLiteOpener(opts ...store.Option) Opener {
	return func(_ context.Context, path string) (Store, error) {
		st, err := store.Open(path, opts...)
		if err != nil {
			return nil, err
		}
		return sqliteStore{st}, nil
	}
}

// sqliteStore adapts *store.Store to Store.
type sqliteStore struct {
	*store.Store
}

func (s sqliteStore) NewCursor() Cursor {
	return s.Store.NewCursor()
}

// Filterer emits the trails of requested identifiers from a list of stores.
type Filterer struct {
	open    Opener
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Filterer.
type Option func(*Filterer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Filterer) {
		f.logger = l
	}
}

// WithMetrics records run counters in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Filterer) {
		f.metrics = m
	}
}

// New returns a Filterer opening stores with open.
func New(open Opener, opts ...Option) *Filterer {
	f := &Filterer{open: open, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run writes one store object per path to w, then closes w. On error the
// document is left unterminated.
func (f *Filterer) Run(ctx context.Context, paths []string, ids *idset.Set, w *trailjson.Writer) error {
	f.metrics.SetIdentifiers(ids.Len())
	for _, path := range paths {
		if err := f.filterStore(ctx, path, ids, w); err != nil {
			return err
		}
	}
	return w.Close()
}

func (f *Filterer) filterStore(ctx context.Context, path string, ids *idset.Set, w *trailjson.Writer) error {
	start := time.Now()

	st, err := f.open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", path, err)
	}
	defer st.Close()

	fields := make([]string, st.NumFields())
	for i := range fields {
		fields[i] = st.FieldName(i)
	}
	numTrails := st.NumTrails()
	f.logger.Debug("store opened", "path", path, "fields", len(fields), "trails", numTrails)

	ser := trailjson.NewEventSerializer(fields, st)
	if err := w.BeginStore(); err != nil {
		return err
	}

	var matched, events int
	for i := uint64(0); i < numTrails; i++ {
		id, err := st.TrailUUID(ctx, i)
		if err != nil {
			return fmt.Errorf("could not read identifier of trail %d in %s: %w", i, path, err)
		}
		f.metrics.TrailScanned()

		hexID := hex.EncodeToString(id[:])
		if !ids.Contains(hexID) {
			continue
		}

		n, err := f.writeTrail(ctx, st, ser, i, hexID, w)
		if err != nil {
			return fmt.Errorf("could not read trail %d in %s: %w", i, path, err)
		}
		matched++
		events += n
		f.metrics.TrailMatched()
	}

	if err := w.EndStore(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	f.metrics.ObserveStore(elapsed.Seconds())
	f.logger.Info("store filtered", "path", path, "trails", numTrails, "matched", matched, "events", events, "elapsed", elapsed)
	return nil
}

// writeTrail streams every event of trail idx with a fresh cursor and
// returns the number of events written.
func (f *Filterer) writeTrail(ctx context.Context, st Store, ser *trailjson.EventSerializer, idx uint64, hexID string, w *trailjson.Writer) (int, error) {
	cursor := st.NewCursor()
	defer cursor.Close()

	if err := cursor.GetTrail(ctx, idx); err != nil {
		return 0, err
	}
	if err := w.BeginTrail(hexID); err != nil {
		return 0, err
	}

	n := 0
	for cursor.Next() {
		if err := w.WriteEvent(ctx, ser, cursor.Event()); err != nil {
			return n, err
		}
		n++
		f.metrics.EventEmitted()
	}
	if err := cursor.Err(); err != nil {
		return n, err
	}
	return n, w.EndTrail()
}
