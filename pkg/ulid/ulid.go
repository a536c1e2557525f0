// Package ulid generates and parses the lexicographically sortable IDs used
// for rules, runtime state rows, and action log entries throughout the
// alarm engine. It wraps github.com/oklog/ulid/v2 with a small API surface
// so callers never need to reason about monotonic entropy sources directly.
package ulid

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID seeded from the current time and a
// cryptographically random entropy source.
func New() ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
}

// NewString generates a new ULID and returns its canonical string form.
func NewString() string {
	return New().String()
}

// MustParse parses s as a ULID, panicking if s is not a valid ULID string.
func MustParse(s string) ulid.ULID {
	return ulid.MustParse(s)
}

// Parse parses s as a ULID string.
func Parse(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}

// IsValid reports whether s is a syntactically valid ULID string.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time extracts the embedded timestamp component of a ULID.
func Time(id ulid.ULID) time.Time {
	return ulid.Time(id.Time())
}

// Zero returns the zero-valued ULID.
func Zero() ulid.ULID {
	return ulid.ULID{}
}

// IsZero reports whether id is the zero-valued ULID.
func IsZero(id ulid.ULID) bool {
	return id == ulid.ULID{}
}

// String returns the canonical string form of id.
func String(id ulid.ULID) string {
	return id.String()
}
