// Package ident provides strongly-typed, stable identifiers. Each entity kind
// carries its own UUID namespace, so an article ID can never be confused with
// a run ID even though both are UUIDs underneath.
package ident

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind describes an entity kind. The namespace seeds name-based identifiers
// for that kind.
type Kind interface {
	Namespace() uuid.UUID
}

// ID identifies one entity of kind K.
type ID[K Kind] struct {
	u uuid.UUID
}

// keySeparator joins key parts. It is a control character so that parts
// containing ordinary punctuation can't collide.
const keySeparator = "\x1f"

// New derives the identifier for the given natural key. The same kind and
// parts always produce the same ID (RFC 4122 version 5).
func New[K Kind](parts ...string) ID[K] {
	var k K
	return ID[K]{u: uuid.NewSHA1(k.Namespace(), []byte(strings.Join(parts, keySeparator)))}
}

// Random returns a fresh identifier for entities without a natural key.
func Random[K Kind]() ID[K] {
	return ID[K]{u: uuid.New()}
}

// Parse parses the canonical string form of an identifier.
func Parse[K Kind](s string) (ID[K], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[K]{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID[K]{u: u}, nil
}

// String returns the canonical UUID form.
func (id ID[K]) String() string {
	return id.u.String()
}

// IsZero reports whether the ID was never assigned.
func (id ID[K]) IsZero() bool {
	return id.u == uuid.Nil
}

// UUID exposes the underlying UUID.
func (id ID[K]) UUID() uuid.UUID {
	return id.u
}

// Compare orders identifiers by their string form.
func (id ID[K]) Compare(other ID[K]) int {
	return strings.Compare(id.String(), other.String())
}

func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.u.String()), nil
}

func (id *ID[K]) UnmarshalText(b []byte) error {
	parsed, err := Parse[K](string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so IDs can be stored directly.
func (id ID[K]) Value() (driver.Value, error) {
	return id.u.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID[K]) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	case nil:
		*id = ID[K]{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into id", src)
	}
}
