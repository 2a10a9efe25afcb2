// Package tagged implements the integer-tagged sum-type dispatch used
// throughout the Nix remote-worker protocol: a 64-bit opcode followed by a
// variant-specific body. In this repository the stderr message codec is the
// only Union; worker operations are dispatched through pkg/daemon's
// Operation Registry, not through a Union.
package tagged

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// Tag is the 64-bit opcode that precedes a variant's body on the wire.
type Tag = uint64

// Variant describes one arm of a tagged union.
type Variant struct {
	Tag  Tag
	Name string
	// Decode reads the variant's body from r. Body is boxed as any so a
	// single Union can dispatch across heterogeneous variant shapes.
	Decode func(r io.Reader) (any, error)
	// Encode writes body to w in the variant's wire shape.
	Encode func(w io.Writer, body any) error
}

// UnknownTagError is returned when a tag has no registered variant.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("tagged: unknown tag %#x", e.Tag)
}

// Union is an immutable, initialization-time dispatch table for a tagged
// sum type. It is safe for concurrent use: once built, a Union is read-only.
type Union struct {
	byTag map[Tag]*Variant
}

// NewUnion builds a Union from the given variants. Panics on a duplicate
// tag, since that indicates a programming error in the table itself.
func NewUnion(variants ...Variant) *Union {
	u := &Union{byTag: make(map[Tag]*Variant, len(variants))}

	for i := range variants {
		v := variants[i]

		if _, dup := u.byTag[v.Tag]; dup {
			panic(fmt.Sprintf("tagged: duplicate tag %#x (%s)", v.Tag, v.Name))
		}

		u.byTag[v.Tag] = &v
	}

	return u
}

// Variant looks up the variant registered for tag.
func (u *Union) Variant(tag Tag) (*Variant, bool) {
	v, ok := u.byTag[tag]

	return v, ok
}

// Decode reads a tag from r, then dispatches to the matching variant's
// Decode function. Returns an *UnknownTagError if no variant matches.
func (u *Union) Decode(r io.Reader) (Tag, any, error) {
	tag, err := wire.ReadUint64(r)
	if err != nil {
		return 0, nil, err
	}

	v, ok := u.byTag[tag]
	if !ok {
		return tag, nil, &UnknownTagError{Tag: tag}
	}

	body, err := v.Decode(r)

	return tag, body, err
}

// Encode writes tag and dispatches body encoding to the matching variant.
func (u *Union) Encode(w io.Writer, tag Tag, body any) error {
	if err := wire.WriteUint64(w, tag); err != nil {
		return err
	}

	v, ok := u.byTag[tag]
	if !ok {
		return &UnknownTagError{Tag: tag}
	}

	return v.Encode(w, body)
}

// Unit returns the Decode/Encode pair for a unit-like variant: one that
// carries no body beyond its tag.
func Unit() (func(io.Reader) (any, error), func(io.Writer, any) error) {
	decode := func(io.Reader) (any, error) { return nil, nil }
	encode := func(io.Writer, any) error { return nil }

	return decode, encode
}
