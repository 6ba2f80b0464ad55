package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NumFields returns the number of fields including the timestamp (field 0).
func (s *Store) NumFields() int {
	return len(s.fields)
}

// FieldName returns the name of field i. Field 0 is always "timestamp".
// Returns "" when i is out of range.
func (s *Store) FieldName(i int) string {
	if i < 0 || i >= len(s.fields) {
		return ""
	}
	return s.fields[i]
}

// Fields returns a copy of all field names, starting with "timestamp".
func (s *Store) Fields() []string {
	return append([]string(nil), s.fields...)
}

// NumTrails returns the number of trails in the store.
func (s *Store) NumTrails() uint64 {
	return s.numTrails
}

// TrailUUID returns the identifier of the trail at idx.
func (s *Store) TrailUUID(ctx context.Context, idx uint64) (uuid.UUID, error) {
	if idx >= s.numTrails {
		return uuid.Nil, fmt.Errorf("trail %d: %w", idx, ErrTrailNotFound)
	}

	var raw []byte
	if err := s.stmts.trailUUID.GetContext(ctx, &raw, int64(idx)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("trail %d: %w", idx, ErrTrailNotFound)
		}
		return uuid.Nil, fmt.Errorf("read trail %d uuid: %w", idx, err)
	}

	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode trail %d uuid: %w", idx, err)
	}
	return id, nil
}

// ItemValue resolves an item to its field value.
// Returns ok=false for absent items. The returned slice is shared with the
// value cache and must not be modified.
func (s *Store) ItemValue(ctx context.Context, item Item) ([]byte, bool, error) {
	if item.IsAbsent() {
		return nil, false, nil
	}
	if v, ok := s.values.Get(item); ok {
		return v, true, nil
	}

	var value []byte
	if err := s.stmts.lexiconValue.GetContext(ctx, &value, int64(item.Field), int64(item.Value)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("field %d value %d: %w", item.Field, item.Value, ErrUnknownItem)
		}
		return nil, false, fmt.Errorf("resolve field %d value %d: %w", item.Field, item.Value, err)
	}
	if value == nil {
		value = []byte{}
	}

	s.values.Add(item, value)
	return value, true, nil
}
