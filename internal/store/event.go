package store

// TimestampField is the name reported for field 0.
const TimestampField = "timestamp"

// Item references one field value of one event. Value 0 means the field is
// absent from the event.
type Item struct {
	Field uint32
	Value uint64
}

// IsAbsent reports whether the item carries no value.
func (it Item) IsAbsent() bool {
	return it.Value == 0
}

// Event is one decoded record of a trail. Items holds one entry per declared
// field, in declaration order: Items[k-1] belongs to field k.
type Event struct {
	Timestamp uint64
	Items     []Item
}
