// Package compress wraps streams in an optional compression codec.
//
// Supported codecs:
//   - none: bytes pass through unchanged
//   - gzip: klauspost/compress gzip, readable by any gzip tool
//   - zstd: klauspost/compress zstd, best ratio for large trail dumps
//   - lz4:  pierrec/lz4 frame format, fastest
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type names a compression codec.
type Type string

const (
	None Type = "none"
	Gzip Type = "gzip"
	Zstd Type = "zstd"
	LZ4  Type = "lz4"
)

// Types lists the supported codecs.
var Types = []Type{None, Gzip, Zstd, LZ4}

// ParseType validates a codec name. The empty string means None.
func ParseType(name string) (Type, error) {
	if name == "" {
		return None, nil
	}
	for _, t := range Types {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown compression %q: must be one of %v", name, Types)
}

// NewWriter wraps w with the codec t. Close flushes the codec's trailer but
// does not close w.
func NewWriter(w io.Writer, t Type) (io.WriteCloser, error) {
	switch t {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", t)
	}
}

// NewReader wraps r with a decoder for codec t. Close releases decoder
// resources but does not close r.
func NewReader(r io.Reader, t Type) (io.ReadCloser, error) {
	switch t {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return zr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", t)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
