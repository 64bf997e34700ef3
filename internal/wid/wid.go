// Package wid mints the 26-character lexicographically-sortable identifiers
// used for every envelope and task in the workshop. The first 10 characters
// encode the generation millisecond MSB-first; the remaining 16 are drawn
// from a cryptographically-adequate random source. Byte-wise lexicographic
// ordering of ids agrees with generation order for a non-retrograde clock.
package wid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a single shared, mutex-guarded monotonic random source over
// crypto/rand: ids minted within the same millisecond still sort in
// generation order. Monotonic entropy is not safe for concurrent use, so
// access is serialized here.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New mints a new identifier for the current wall-clock time.
func New() string {
	return NewAt(time.Now())
}

// NewAt mints a new identifier whose timestamp prefix encodes t; New calls
// it with the current time.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return id.String()
}

// Time decodes the millisecond timestamp encoded in the first 10 characters
// of an identifier minted by New/NewAt.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// Valid reports whether id has the correct shape for an identifier minted
// by this package: 26 characters over the Crockford base-32 alphabet.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
