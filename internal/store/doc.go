// Package store provides SQLite-backed partitioned event stores.
//
// A store is a single file holding a set of trails. Each trail is the ordered
// sequence of events recorded for one 128-bit identifier. The layout is:
//   - Fields: ordered field declarations (id 1..N-1, id 0 is the timestamp)
//   - Lexicon: per-field value dictionary (value id 0 means absent)
//   - Trails: identifier per trail index, indexes assigned in uuid byte order
//   - Events: timestamp plus a msgpack array of value ids, one per field
//
// # Lifecycle
//
// Stores are written once with Create/Add/Finalize and are immutable after
// Finalize. Open only accepts finalized stores and opens them read-only.
//
// # Reading
//
// Trails are read through a Cursor, which streams one event at a time from the
// underlying rows. Field values are resolved lazily with ItemValue and cached
// in a bounded LRU.
//
// # Database Configuration
//
// Writers use the same pragmas as any write-heavy SQLite log:
//   - WAL mode while staging events
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Finalize switches the journal back to DELETE so the finished store is one
// self-contained file that can be opened with mode=ro.
package store
