package trailjson

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/gettrail/internal/store"
)

// api writes compact JSON without HTML escaping. Field values are written
// byte for byte apart from the escapes JSON requires.
var api = jsoniter.Config{EscapeHTML: false}.Froze()

// ValueResolver resolves an event item to its field value.
// ok is false when the field is absent from the event.
type ValueResolver interface {
	ItemValue(ctx context.Context, item store.Item) (value []byte, ok bool, err error)
}

// EventSerializer renders events of one store as JSON objects.
type EventSerializer struct {
	fields  []string
	resolve ValueResolver
}

// NewEventSerializer returns a serializer for a store with the given field
// names. fields[0] names the timestamp and is always written as "timestamp".
func NewEventSerializer(fields []string, resolve ValueResolver) *EventSerializer {
	return &EventSerializer{fields: fields, resolve: resolve}
}

// Encode writes ev as one JSON object to stream.
func (s *EventSerializer) Encode(ctx context.Context, stream *jsoniter.Stream, ev *store.Event) error {
	if len(ev.Items) != len(s.fields)-1 {
		return fmt.Errorf("event has %d items, store declares %d fields", len(ev.Items), len(s.fields)-1)
	}

	stream.WriteObjectStart()
	stream.WriteObjectField(store.TimestampField)
	stream.WriteUint64(ev.Timestamp)

	for k := 1; k < len(s.fields); k++ {
		value, ok, err := s.resolve.ItemValue(ctx, ev.Items[k-1])
		if err != nil {
			return fmt.Errorf("resolve field %q: %w", s.fields[k], err)
		}
		if !ok {
			continue
		}
		stream.WriteMore()
		stream.WriteObjectField(s.fields[k])
		stream.WriteString(string(value))
	}

	stream.WriteObjectEnd()
	return stream.Error
}

// Marshal returns ev as a standalone JSON object.
func (s *EventSerializer) Marshal(ctx context.Context, ev *store.Event) ([]byte, error) {
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	if err := s.Encode(ctx, stream, ev); err != nil {
		return nil, err
	}
	return append([]byte(nil), stream.Buffer()...), nil
}
