package ident

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fooKind struct{}

func (fooKind) Namespace() uuid.UUID {
	return uuid.MustParse("0b0e5c1a-7f7e-4b8e-9a53-0d6c2f7c1a01")
}

type barKind struct{}

func (barKind) Namespace() uuid.UUID {
	return uuid.MustParse("a41f1f0c-2b8a-4e0e-8d7c-6f2f6f1b9c02")
}

// TestNew_Stable verifies the same key always yields the same ID
func TestNew_Stable(t *testing.T) {
	a := New[fooKind]("Example", "https://example.com/a")
	b := New[fooKind]("Example", "https://example.com/a")

	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

// TestNew_KindNamespaces verifies kinds do not share identifiers
func TestNew_KindNamespaces(t *testing.T) {
	a := New[fooKind]("same")
	b := New[barKind]("same")

	assert.NotEqual(t, a.String(), b.String())
}

// TestNew_PartsDoNotCollide verifies part boundaries matter
func TestNew_PartsDoNotCollide(t *testing.T) {
	a := New[fooKind]("ab", "c")
	b := New[fooKind]("a", "bc")

	assert.NotEqual(t, a, b)
}

// TestRandom verifies random IDs are unique
func TestRandom(t *testing.T) {
	assert.NotEqual(t, Random[fooKind](), Random[fooKind]())
}

// TestParse_RoundTrip verifies parsing the string form
func TestParse_RoundTrip(t *testing.T) {
	id := New[fooKind]("x")

	parsed, err := Parse[fooKind](id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = Parse[fooKind]("not-a-uuid")
	assert.Error(t, err)
}

// TestID_JSON verifies IDs encode as plain strings
func TestID_JSON(t *testing.T) {
	id := New[fooKind]("x")

	data, err := json.Marshal(map[string]ID[fooKind]{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var decoded map[string]ID[fooKind]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded["id"])
}

// TestID_Scan verifies database scanning
func TestID_Scan(t *testing.T) {
	id := New[fooKind]("x")

	var scanned ID[fooKind]
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan(42))
}
