package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - not a store (fresh or foreign SQLite file)
// 1 - initial trail layout
const currentSchemaVersion = 1

// DefaultValueCacheSize is the number of resolved field values kept per store.
const DefaultValueCacheSize = 4096

const metaFinalized = "finalized"

var dialect = goqu.Dialect("sqlite3")

var (
	// ErrNotFinalized is returned by Open for stores whose writer never finished.
	ErrNotFinalized = errors.New("store is not finalized")
	// ErrUnsupportedVersion is returned by Open for files with an unknown schema version.
	ErrUnsupportedVersion = errors.New("unsupported store version")
	// ErrTrailNotFound is returned when positioning a cursor past the last trail.
	ErrTrailNotFound = errors.New("trail not found")
	// ErrUnknownItem is returned when an item references a value missing from the lexicon.
	ErrUnknownItem = errors.New("unknown item")
	// ErrCorruptEvent is returned when an event row cannot be decoded.
	ErrCorruptEvent = errors.New("corrupt event")
)

// Store is a read-only handle on a finalized trail store.
type Store struct {
	db        *sqlx.DB
	fields    []string // fields[0] is "timestamp"
	numTrails uint64
	stmts     statements
	values    *lru.Cache[Item, []byte]
}

type statements struct {
	trailUUID    *sqlx.Stmt
	trailEvents  *sqlx.Stmt
	lexiconValue *sqlx.Stmt
}

type options struct {
	valueCacheSize int
}

// Option configures Open.
type Option func(*options)

// WithValueCacheSize sets how many resolved field values are cached.
// Values below one fall back to DefaultValueCacheSize.
func WithValueCacheSize(n int) Option {
	return func(o *options) {
		o.valueCacheSize = n
	}
}

// Open opens the finalized store at path read-only.
//
// The file must exist; Open never creates it. Foreign SQLite files, stores of
// another schema version and stores whose writer did not finalize are
// rejected.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{valueCacheSize: DefaultValueCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.valueCacheSize < 1 {
		o.valueCacheSize = DefaultValueCacheSize
	}

	db, err := sqlx.Open("sqlite3", fileURI(path, "mode=ro&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// A cursor keeps one connection busy streaming rows while identifiers and
	// field values are looked up on a second one.
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.load(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.values, err = lru.New[Item, []byte](o.valueCacheSize)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create value cache: %w", err)
	}
	return s, nil
}

// load validates the file and reads the per-store metadata.
func (s *Store) load(ctx context.Context) error {
	var version int
	if err := s.db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version != currentSchemaVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	query, args, err := dialect.From("meta").Select("value").
		Where(goqu.C("key").Eq(metaFinalized)).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build meta query: %w", err)
	}
	var finalized string
	if err := s.db.GetContext(ctx, &finalized, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFinalized
		}
		return fmt.Errorf("read meta: %w", err)
	}
	if finalized != "1" {
		return ErrNotFinalized
	}

	query, args, err = dialect.From("fields").Select("name").
		Order(goqu.C("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build fields query: %w", err)
	}
	var names []string
	if err := s.db.SelectContext(ctx, &names, query, args...); err != nil {
		return fmt.Errorf("read fields: %w", err)
	}
	s.fields = append([]string{TimestampField}, names...)

	query, args, err = dialect.From("trails").Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build trail count query: %w", err)
	}
	var count int64
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return fmt.Errorf("count trails: %w", err)
	}
	s.numTrails = uint64(count)

	return s.prepareStatements()
}

// prepareStatements builds the per-trail and per-item queries once.
// The zero placeholder values passed to goqu are dropped; only the SQL text
// is kept and real arguments are bound at execution.
func (s *Store) prepareStatements() error {
	var err error
	s.stmts.trailUUID, err = s.prepare(dialect.From("trails").Select("uuid").
		Where(goqu.C("idx").Eq(0)))
	if err != nil {
		return err
	}
	s.stmts.trailEvents, err = s.prepare(dialect.From("events").Select("timestamp", "items").
		Where(goqu.C("trail_idx").Eq(0)).Order(goqu.C("seq").Asc()))
	if err != nil {
		return err
	}
	s.stmts.lexiconValue, err = s.prepare(dialect.From("lexicon").Select("value").
		Where(goqu.C("field").Eq(0), goqu.C("value_id").Eq(0)))
	return err
}

func (s *Store) prepare(ds *goqu.SelectDataset) (*sqlx.Stmt, error) {
	query, _, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	stmt, err := s.db.Preparex(query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	return stmt, nil
}

// Close releases the statements and the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range []*sqlx.Stmt{s.stmts.trailUUID, s.stmts.trailEvents, s.stmts.lexiconValue} {
		if stmt != nil {
			stmt.Close()
		}
	}
	s.stmts = statements{}
	err := s.db.Close()
	s.db = nil
	return err
}

// uriEscaper escapes the characters SQLite's URI parser would otherwise read
// as query, fragment or escape delimiters.
var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// fileURI builds a SQLite file: URI for path with the given query.
func fileURI(path, query string) string {
	return "file:" + uriEscaper.Replace(path) + "?" + query
}
