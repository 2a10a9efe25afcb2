// Package negcache is the proxy's optional negotiation cache: it remembers,
// per daemon target, the version and self-identification string the
// back-side handshake (spec §4.6 Negotiated) last saw, purely so the proxy
// can log when a daemon's advertised identity changes between runs. It is
// advisory only — every connection still performs the real handshake; the
// cache is never consulted to skip or alter one, and it is not a store-path
// cache of any kind.
package negcache

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// Cache wraps a badger database keyed by daemon target string.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) a negotiation cache at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("negcache: open %s: %w", dir, err)
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Seen is what the cache remembers about one daemon target.
type Seen struct {
	Version uint64
	PeerID  string
}

const versionSuffix = ":version"
const peerIDSuffix = ":peer-id"

// Record stores the version and peer id negotiated against target (the
// daemon socket path, or any other string identifying the back-side peer).
func (c *Cache) Record(target string, seen Seen) error {
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(target+versionSuffix), encodeUint64(seen.Version)); err != nil {
			return err
		}

		return txn.Set([]byte(target+peerIDSuffix), []byte(seen.PeerID))
	})
}

// Lookup returns what was last recorded for target, and whether anything was
// found at all (ok is false on a cold cache, never on an error — Lookup
// treats "nothing cached yet" as a normal outcome, not a failure).
func (c *Cache) Lookup(target string) (seen Seen, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		versionItem, verr := txn.Get([]byte(target + versionSuffix))
		if verr == badger.ErrKeyNotFound {
			return nil
		}

		if verr != nil {
			return verr
		}

		peerItem, perr := txn.Get([]byte(target + peerIDSuffix))
		if perr != nil && perr != badger.ErrKeyNotFound {
			return perr
		}

		if err := versionItem.Value(func(val []byte) error {
			seen.Version = decodeUint64(val)

			return nil
		}); err != nil {
			return err
		}

		if perr == nil {
			if err := peerItem.Value(func(val []byte) error {
				seen.PeerID = string(val)

				return nil
			}); err != nil {
				return err
			}
		}

		ok = true

		return nil
	})

	return seen, ok, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)

	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
