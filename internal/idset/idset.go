// Package idset holds the set of trail identifiers requested by the caller.
//
// A Set is built once, either strictly from newline-terminated lines or
// leniently from a comma-separated list, and is read-only afterwards.
// Membership is exact string equality. A cuckoo filter sized to the set
// answers most misses without touching the map; every filter hit is
// confirmed against the map, so the filter never changes the result.
package idset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	cuckoo "github.com/linvon/cuckoo-filter"
)

// IdentifierLen is the length of a hex-encoded 128-bit identifier.
const IdentifierLen = 32

const (
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 32
	cuckooMinKeys         = 1024
)

// InvalidIdentifierError reports a line of strict input that is not exactly
// IdentifierLen characters followed by a newline.
type InvalidIdentifierError struct {
	Line string // raw line as read, including any newline
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid cookie: " + strings.TrimSuffix(e.Line, "\n")
}

// Set is an immutable set of identifiers.
type Set struct {
	ids    map[string]struct{}
	filter *cuckoo.Filter
}

// ReadLines builds a Set from r, one identifier per line. Every line must be
// exactly IdentifierLen characters plus a terminating newline; the first line
// that is not (including a final line without newline) aborts the build with
// an *InvalidIdentifierError.
func ReadLines(r io.Reader) (*Set, error) {
	ids := make(map[string]struct{})
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if len(line) != IdentifierLen+1 || line[IdentifierLen] != '\n' {
				return nil, &InvalidIdentifierError{Line: line}
			}
			ids[line[:IdentifierLen]] = struct{}{}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read identifiers: %w", err)
		}
	}
	return newSet(ids), nil
}

// ParseList builds a Set from a comma-separated list. Tokens are taken
// verbatim: no length check, and empty tokens are kept.
func ParseList(list string) *Set {
	tokens := strings.Split(list, ",")
	ids := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		ids[tok] = struct{}{}
	}
	return newSet(ids)
}

// FromSlice builds a Set from already validated identifiers.
func FromSlice(list []string) *Set {
	ids := make(map[string]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return newSet(ids)
}

func newSet(ids map[string]struct{}) *Set {
	s := &Set{ids: ids}
	if len(ids) == 0 {
		return s
	}

	capacity := len(ids)
	if capacity < cuckooMinKeys {
		capacity = cuckooMinKeys
	}
	cf := cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize,
		uint(capacity), cuckoo.TableTypePacked)
	for id := range ids {
		if !cf.Add([]byte(id)) {
			// Filter is full; fall back to map-only lookups.
			return s
		}
	}
	s.filter = cf
	return s
}

// Contains reports whether id was among the ingested identifiers.
func (s *Set) Contains(id string) bool {
	if len(s.ids) == 0 {
		return false
	}
	if s.filter != nil && !s.filter.Contain([]byte(id)) {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of distinct identifiers.
func (s *Set) Len() int {
	return len(s.ids)
}
