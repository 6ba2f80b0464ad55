package trailjson

import (
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/gettrail/internal/store"
)

// DefaultFlushBytes is the buffered size at which the writer flushes.
const DefaultFlushBytes = 64 * 1024

// ErrInvalidState is returned when a Writer call does not fit the current
// nesting level, for example WriteEvent outside a trail.
var ErrInvalidState = errors.New("invalid writer state")

type state int

const (
	stateBeforeFirstStore state = iota
	stateInStore
	stateInTrail
	stateBetweenStores
	stateAfterLastStore
)

func (s state) String() string {
	switch s {
	case stateBeforeFirstStore:
		return "before first store"
	case stateInStore:
		return "in store"
	case stateInTrail:
		return "in trail"
	case stateBetweenStores:
		return "between stores"
	case stateAfterLastStore:
		return "after last store"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Writer emits the stores → identifiers → events document incrementally.
//
// Calls must follow
//
//	(BeginStore (BeginTrail WriteEvent* EndTrail)* EndStore)* Close
//
// Anything else returns ErrInvalidState and writes nothing.
type Writer struct {
	stream     *jsoniter.Stream
	state      state
	first      bool // no key or event written yet in the open container
	flushBytes int
}

// Option configures a Writer.
type Option func(*Writer)

// WithFlushBytes sets the buffered size that triggers a flush.
func WithFlushBytes(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.flushBytes = n
		}
	}
}

// NewWriter returns a Writer emitting to out.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{flushBytes: DefaultFlushBytes}
	for _, opt := range opts {
		opt(w)
	}
	w.stream = jsoniter.NewStream(api, out, w.flushBytes)
	return w
}

func (w *Writer) expect(op string, allowed ...state) error {
	for _, s := range allowed {
		if w.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s", ErrInvalidState, op, w.state)
}

// BeginStore opens the object of the next store, opening the top-level
// array first if this is the first store.
func (w *Writer) BeginStore() error {
	if err := w.expect("begin store", stateBeforeFirstStore, stateBetweenStores); err != nil {
		return err
	}
	if w.state == stateBeforeFirstStore {
		w.stream.WriteArrayStart()
	} else {
		w.stream.WriteMore()
	}
	w.stream.WriteObjectStart()
	w.state = stateInStore
	w.first = true
	return w.stream.Error
}

// BeginTrail opens the event array of identifier id in the current store.
func (w *Writer) BeginTrail(id string) error {
	if err := w.expect("begin trail", stateInStore); err != nil {
		return err
	}
	if !w.first {
		w.stream.WriteMore()
	}
	w.stream.WriteObjectField(id)
	w.stream.WriteArrayStart()
	w.state = stateInTrail
	w.first = true
	return w.stream.Error
}

// WriteEvent appends one event to the current trail.
func (w *Writer) WriteEvent(ctx context.Context, s *EventSerializer, ev *store.Event) error {
	if err := w.expect("write event", stateInTrail); err != nil {
		return err
	}
	if !w.first {
		w.stream.WriteMore()
	}
	w.first = false
	if err := s.Encode(ctx, w.stream, ev); err != nil {
		return err
	}
	return w.maybeFlush()
}

// EndTrail closes the current trail's event array.
func (w *Writer) EndTrail() error {
	if err := w.expect("end trail", stateInTrail); err != nil {
		return err
	}
	w.stream.WriteArrayEnd()
	w.state = stateInStore
	w.first = false
	return w.maybeFlush()
}

// EndStore closes the current store's object.
func (w *Writer) EndStore() error {
	if err := w.expect("end store", stateInStore); err != nil {
		return err
	}
	w.stream.WriteObjectEnd()
	w.state = stateBetweenStores
	return w.maybeFlush()
}

// Close closes the top-level array and flushes. With no stores written the
// document is an empty array.
func (w *Writer) Close() error {
	if err := w.expect("close", stateBeforeFirstStore, stateBetweenStores); err != nil {
		return err
	}
	if w.state == stateBeforeFirstStore {
		w.stream.WriteEmptyArray()
	} else {
		w.stream.WriteArrayEnd()
	}
	w.state = stateAfterLastStore
	return w.Flush()
}

// Flush writes buffered output to the underlying writer. It does not change
// the nesting state, so after an aborted run the output ends wherever the
// run stopped.
func (w *Writer) Flush() error {
	return w.stream.Flush()
}

func (w *Writer) maybeFlush() error {
	if w.stream.Buffered() >= w.flushBytes {
		return w.stream.Flush()
	}
	return w.stream.Error
}
