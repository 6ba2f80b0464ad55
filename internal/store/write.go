package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrStoreExists is returned by Create when the target path already exists.
	ErrStoreExists = errors.New("store already exists")
	// ErrInvalidField is returned by Create for empty, duplicate or reserved field names.
	ErrInvalidField = errors.New("invalid field name")
	// ErrFieldCount is returned by Add when the value count does not match the fields.
	ErrFieldCount = errors.New("value count does not match field count")
	// ErrFinalized is returned when writing to a finalized or closed writer.
	ErrFinalized = errors.New("writer is finalized")
)

// finalizeSQL turns staged events into trails and events.
// Trail indexes follow uuid byte order. Within a trail events are ordered by
// unsigned timestamp (negative int64 patterns sort last), ties by arrival.
var finalizeSQL = []string{
	`INSERT INTO trails (idx, uuid)
	 SELECT ROW_NUMBER() OVER (ORDER BY uuid) - 1, uuid
	 FROM (SELECT DISTINCT uuid FROM staged_events)`,
	`INSERT INTO events (trail_idx, seq, timestamp, items)
	 SELECT t.idx,
	        ROW_NUMBER() OVER (PARTITION BY s.uuid ORDER BY s.timestamp < 0, s.timestamp, s.id) - 1,
	        s.timestamp, s.items
	 FROM staged_events s JOIN trails t ON t.uuid = s.uuid`,
	`DELETE FROM staged_events`,
	`INSERT INTO meta (key, value) VALUES ('` + metaFinalized + `', '1')`,
}

// Writer builds a new store. Events may be added in any order; Finalize
// assigns the trail and event ordering.
type Writer struct {
	db          *sqlx.DB
	tx          *sqlx.Tx
	fields      []string
	lexicon     []map[string]uint64
	ids         []uint64
	insertEvent *sqlx.Stmt
	insertValue *sqlx.Stmt
	done        bool
}

// Create starts a new store at path with the given field names (timestamp
// excluded). The file must not exist yet.
func Create(path string, fields []string) (*Writer, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	db, err := sqlx.Open("sqlite3", fileURI(path, "mode=rwc"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	w := &Writer{
		db:      db,
		fields:  append([]string(nil), fields...),
		lexicon: make([]map[string]uint64, len(fields)),
		ids:     make([]uint64, len(fields)),
	}
	for i := range w.lexicon {
		w.lexicon[i] = make(map[string]uint64)
	}
	if err := w.begin(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func validateFields(fields []string) error {
	seen := make(map[string]bool, len(fields))
	for _, name := range fields {
		switch {
		case name == "":
			return fmt.Errorf("%w: empty name", ErrInvalidField)
		case name == TimestampField:
			return fmt.Errorf("%w: %q is reserved", ErrInvalidField, name)
		case seen[name]:
			return fmt.Errorf("%w: duplicate %q", ErrInvalidField, name)
		}
		seen[name] = true
	}
	return nil
}

// begin opens the write transaction, declares the fields and prepares the
// insert statements.
func (w *Writer) begin() error {
	tx, err := w.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	w.tx = tx

	if len(w.fields) > 0 {
		rows := make([]goqu.Record, len(w.fields))
		for i, name := range w.fields {
			rows[i] = goqu.Record{"id": i + 1, "name": name}
		}
		query, args, err := dialect.Insert("fields").Rows(rows).Prepared(true).ToSQL()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("build fields insert: %w", err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("write fields: %w", err)
		}
	}

	query, _, err := dialect.Insert("staged_events").Cols("uuid", "timestamp", "items").
		Vals(goqu.Vals{[]byte{}, 0, []byte{}}).Prepared(true).ToSQL()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("build event insert: %w", err)
	}
	if w.insertEvent, err = tx.Preparex(query); err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare event insert: %w", err)
	}

	query, _, err = dialect.Insert("lexicon").Cols("field", "value_id", "value").
		Vals(goqu.Vals{0, 0, []byte{}}).Prepared(true).ToSQL()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("build value insert: %w", err)
	}
	if w.insertValue, err = tx.Preparex(query); err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare value insert: %w", err)
	}
	return nil
}

// Fields returns the field names the writer was created with.
func (w *Writer) Fields() []string {
	return append([]string(nil), w.fields...)
}

// Add stages one event. values holds one entry per field in declaration
// order; an empty string marks the field absent.
func (w *Writer) Add(ctx context.Context, id uuid.UUID, timestamp uint64, values []string) error {
	if w.done {
		return ErrFinalized
	}
	if len(values) != len(w.fields) {
		return fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(values), len(w.fields))
	}

	for i, v := range values {
		valueID, err := w.valueID(ctx, i, v)
		if err != nil {
			return err
		}
		w.ids[i] = valueID
	}

	items, err := marshalItems(w.ids)
	if err != nil {
		return err
	}
	if _, err := w.insertEvent.ExecContext(ctx, id[:], int64(timestamp), items); err != nil {
		return fmt.Errorf("stage event: %w", err)
	}
	return nil
}

// valueID returns the lexicon id of value for field index i (0-based,
// timestamp excluded), inserting it on first use.
func (w *Writer) valueID(ctx context.Context, i int, value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	if id, ok := w.lexicon[i][value]; ok {
		return id, nil
	}

	id := uint64(len(w.lexicon[i]) + 1)
	if _, err := w.insertValue.ExecContext(ctx, i+1, int64(id), []byte(value)); err != nil {
		return 0, fmt.Errorf("write value for field %q: %w", w.fields[i], err)
	}
	w.lexicon[i][value] = id
	return id, nil
}

// Finalize orders the staged events into trails, marks the store finalized
// and leaves it as a single self-contained file. The writer is closed
// afterwards.
func (w *Writer) Finalize(ctx context.Context) error {
	if w.done {
		return ErrFinalized
	}
	w.closeStatements()

	for _, stmt := range finalizeSQL {
		if _, err := w.tx.ExecContext(ctx, stmt); err != nil {
			w.abort()
			return fmt.Errorf("finalize: %w", err)
		}
	}
	if err := w.tx.Commit(); err != nil {
		w.abort()
		return fmt.Errorf("finalize commit: %w", err)
	}
	w.tx = nil

	for _, pragma := range []string{"PRAGMA journal_mode = DELETE", "VACUUM"} {
		if _, err := w.db.ExecContext(ctx, pragma); err != nil {
			w.abort()
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	w.done = true
	return w.db.Close()
}

// Close discards an unfinalized store's pending events. It is a no-op after
// Finalize.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.abort()
	return nil
}

func (w *Writer) abort() {
	w.closeStatements()
	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}
	w.done = true
	w.db.Close()
}

func (w *Writer) closeStatements() {
	if w.insertEvent != nil {
		w.insertEvent.Close()
		w.insertEvent = nil
	}
	if w.insertValue != nil {
		w.insertValue.Close()
		w.insertValue = nil
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the tables and stamps the schema version.
func applySchema(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
