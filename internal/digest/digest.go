// Package digest computes a self-describing (multihash) content digest of a
// NAR, for diagnostics only. It is a standalone library: nothing else in
// this repository calls it, so neither the Proxy Driver nor `inspect-diff`
// computes or compares digests.
package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/multiformats/go-multihash"
)

// Digester is an io.Writer sink for pkg/nar.Copy's io.TeeReader: every byte
// of the NAR stream is written to it as the copy proceeds, and Sum produces
// the multihash once the stream is exhausted.
type Digester struct {
	h hash.Hash
}

// New returns a Digester computing a sha2-256 multihash.
func New() *Digester {
	return &Digester{h: sha256.New()}
}

func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the multihash-encoded digest of everything written so far.
func (d *Digester) Sum() (multihash.Multihash, error) {
	mh, err := multihash.Encode(d.h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return nil, fmt.Errorf("digest: encode multihash: %w", err)
	}

	return mh, nil
}

// SumB58 is Sum rendered as a base58 string, the conventional
// human-readable multihash form.
func (d *Digester) SumB58() (string, error) {
	mh, err := d.Sum()
	if err != nil {
		return "", err
	}

	return mh.B58String(), nil
}

// Of computes the multihash digest of an already-buffered NAR.
func Of(r io.Reader) (multihash.Multihash, error) {
	d := New()
	if _, err := io.Copy(d, r); err != nil {
		return nil, fmt.Errorf("digest: read: %w", err)
	}

	return d.Sum()
}
