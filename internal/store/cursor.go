package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Cursor iterates over the events of one trail. It is single-pass: events are
// read from the database one row at a time and the Event returned by Event is
// overwritten by the next call to Next.
type Cursor struct {
	store *Store
	rows  *sqlx.Rows
	event Event
	ids   []uint64
	err   error
}

type eventRow struct {
	Timestamp int64  `db:"timestamp"`
	Items     []byte `db:"items"`
}

// NewCursor returns an unpositioned cursor. Call GetTrail before Next.
func (s *Store) NewCursor() *Cursor {
	return &Cursor{store: s}
}

// GetTrail positions the cursor at the first event of trail idx, discarding
// any trail it was previously reading.
func (c *Cursor) GetTrail(ctx context.Context, idx uint64) error {
	if err := c.Close(); err != nil {
		return err
	}
	c.err = nil

	if idx >= c.store.numTrails {
		return fmt.Errorf("trail %d: %w", idx, ErrTrailNotFound)
	}

	rows, err := c.store.stmts.trailEvents.QueryxContext(ctx, int64(idx))
	if err != nil {
		return fmt.Errorf("query trail %d: %w", idx, err)
	}
	c.rows = rows
	return nil
}

// Next advances to the next event. It returns false at the end of the trail
// or on error; check Err to tell them apart.
func (c *Cursor) Next() bool {
	if c.rows == nil || c.err != nil {
		return false
	}

	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.rows.Close()
		c.rows = nil
		return false
	}

	var row eventRow
	if err := c.rows.StructScan(&row); err != nil {
		c.err = fmt.Errorf("scan event: %w", err)
		return false
	}

	ids, err := unmarshalItems(row.Items, c.ids)
	if err != nil {
		c.err = err
		return false
	}
	if len(ids) != len(c.store.fields)-1 {
		c.err = fmt.Errorf("%w: %d items for %d fields", ErrCorruptEvent, len(ids), len(c.store.fields)-1)
		return false
	}
	c.ids = ids

	c.event.Timestamp = uint64(row.Timestamp)
	c.event.Items = c.event.Items[:0]
	for k, id := range ids {
		c.event.Items = append(c.event.Items, Item{Field: uint32(k + 1), Value: id})
	}
	return true
}

// Event returns the current event. Valid until the next call to Next.
func (c *Cursor) Event() *Event {
	return &c.event
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the rows of the current trail. The cursor can be
// repositioned with GetTrail afterwards.
func (c *Cursor) Close() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return err
}
