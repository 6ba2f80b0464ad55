package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// marshalItems encodes the value ids of one event for the items column.
func marshalItems(ids []uint64) ([]byte, error) {
	data, err := msgpack.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	return data, nil
}

// unmarshalItems decodes an items column into dst, reusing its capacity.
func unmarshalItems(data []byte, dst []uint64) ([]uint64, error) {
	dst = dst[:0]
	if err := msgpack.Unmarshal(data, &dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEvent, err)
	}
	return dst, nil
}
