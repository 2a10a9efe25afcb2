// Package wire implements the scalar and composite encoding rules shared by
// every message on the Nix remote-worker protocol: little-endian 64-bit
// integers, and byte strings prefixed by their length and padded with zero
// bytes up to the next 8-byte boundary.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ErrStringTooLong is returned by ReadString when a string's declared length
// exceeds the caller-supplied limit.
var ErrStringTooLong = fmt.Errorf("wire: string exceeds maximum size")

// ErrInvalidPadding is returned when the padding bytes following a string are
// not all zero.
var ErrInvalidPadding = fmt.Errorf("wire: invalid padding")

// WriteUint64 writes n to w as a little-endian 64-bit integer.
func WriteUint64(w io.Writer, n uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], n)

	_, err := w.Write(buf[:])

	return err
}

// ReadUint64 reads a little-endian 64-bit integer from r.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBool writes b to w as a uint64, 0 or 1.
func WriteBool(w io.Writer, b bool) error {
	if b {
		return WriteUint64(w, 1)
	}

	return WriteUint64(w, 0)
}

// ReadBool reads a uint64 from r and interprets it as a boolean: any nonzero
// value is true.
func ReadBool(r io.Reader) (bool, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return false, err
	}

	return n != 0, nil
}

// padLen returns the number of zero bytes needed to pad contentLen up to the
// next 8-byte boundary.
func padLen(contentLen uint64) uint64 {
	return (8 - (contentLen % 8)) % 8
}

// WriteString writes s to w as a length-prefixed, zero-padded byte string:
// a uint64 length, the raw bytes, then zero padding to the next 8-byte
// boundary.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint64(w, uint64(len(s))); err != nil {
		return err
	}

	if _, err := io.WriteString(w, s); err != nil {
		return err
	}

	return writePadding(w, uint64(len(s)))
}

// WriteBytes writes b to w using the same length-prefixed, zero-padded
// encoding as WriteString.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUint64(w, uint64(len(b))); err != nil {
		return err
	}

	if _, err := w.Write(b); err != nil {
		return err
	}

	return writePadding(w, uint64(len(b)))
}

// ReadString reads a length-prefixed, zero-padded byte string from r and
// returns it as a string. maxBytes bounds the declared length, so that a
// corrupt or hostile length header cannot force an unbounded allocation.
func ReadString(r io.Reader, maxBytes uint64) (string, error) {
	b, err := ReadBytes(r, maxBytes)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// ReadBytes reads a length-prefixed, zero-padded byte string from r.
func ReadBytes(r io.Reader, maxBytes uint64) ([]byte, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}

	if n > maxBytes {
		return nil, ErrStringTooLong
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	if err := skipPadding(r, n); err != nil {
		return nil, err
	}

	return buf, nil
}

func writePadding(w io.Writer, contentLen uint64) error {
	n := padLen(contentLen)
	if n == 0 {
		return nil
	}

	var pad [8]byte

	_, err := w.Write(pad[:n])

	return err
}

func skipPadding(r io.Reader, contentLen uint64) error {
	n := padLen(contentLen)
	if n == 0 {
		return nil
	}

	var pad [8]byte

	if _, err := io.ReadFull(r, pad[:n]); err != nil {
		return err
	}

	for _, b := range pad[:n] {
		if b != 0 {
			return ErrInvalidPadding
		}
	}

	return nil
}
