// Package nar implements the NAR Stream sub-protocol: a recursive-descent
// parse of the Nix Archive grammar that is just precise enough to find the
// archive's end, performed while copying every consumed byte to an output.
//
// The grammar:
//
//	archive   := "nix-archive-1" node
//	node      := "(" "type" kind body ")"
//	kind      := "regular" | "symlink" | "directory"
//	regular   := ("executable" "")* ("contents" bytes)?
//	symlink   := "target" bytes
//	directory := ( "entry" "(" "name" bytes "node" node ")" )*
//
// All tokens are padded byte strings (see pkg/wire). The parser never builds
// the archive in memory; it reports structure to an EntrySink as it goes.
package nar

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// magic is the fixed token that opens every archive.
const magic = "nix-archive-1"

// maxTokenSize bounds small structural tokens (keywords, entry names, symlink
// targets). File contents are not subject to this limit; they are streamed
// through FileSink instead of buffered.
const maxTokenSize = 4096

// EntrySink receives the structure of one NAR node as the parser discovers
// it. Exactly one of BecomeDirectory, BecomeFile, or BecomeSymlink is called
// per node.
type EntrySink interface {
	BecomeDirectory() DirectorySink
	BecomeFile() FileSink
	BecomeSymlink(target string)
}

// DirectorySink receives one CreateEntry call per directory entry, in the
// order entries appear on the wire (which need not be sorted when parsing,
// only when serializing).
type DirectorySink interface {
	CreateEntry(name string) EntrySink
}

// FileSink receives a regular file's content as it streams in, plus its
// executable bit.
type FileSink interface {
	io.Writer
	SetExecutable(executable bool)
}

// NullSink discards all structure; it is used by Copy, where the only goal
// is to advance the cursor to the archive's end while teeing consumed bytes.
var NullSink EntrySink = nullSink{}

type nullSink struct{}

func (nullSink) BecomeDirectory() DirectorySink   { return nullDirSink{} }
func (nullSink) BecomeFile() FileSink             { return nullFileSink{} }
func (nullSink) BecomeSymlink(target string)      {}

type nullDirSink struct{}

func (nullDirSink) CreateEntry(name string) EntrySink { return nullSink{} }

type nullFileSink struct{}

func (nullFileSink) Write(p []byte) (int, error) { return len(p), nil }
func (nullFileSink) SetExecutable(bool)          {}

// Copy reads exactly one NAR archive from src, writing every consumed byte
// to dst, and returns once the archive's closing token has been read. This
// is the production path used by the Proxy Driver: it does not hold the
// archive in memory, regardless of size.
func Copy(dst io.Writer, src io.Reader) error {
	return Decode(io.TeeReader(src, dst), NullSink)
}

// Decode parses exactly one NAR archive from r, reporting its structure to
// sink. Unlike Copy, it does not mirror bytes anywhere; callers that want
// both (e.g. diagnostics) can wrap r in their own io.TeeReader first.
func Decode(r io.Reader, sink EntrySink) error {
	tok, err := readToken(r)
	if err != nil {
		return fmt.Errorf("nar: read magic: %w", err)
	}

	if tok != magic {
		return fmt.Errorf("nar: expected %q, got %q", magic, tok)
	}

	return parseNode(r, sink)
}

func parseNode(r io.Reader, sink EntrySink) error {
	if err := expectTag(r, "("); err != nil {
		return err
	}

	if err := expectTag(r, "type"); err != nil {
		return err
	}

	kind, err := readToken(r)
	if err != nil {
		return err
	}

	switch kind {
	case "regular":
		return parseRegular(r, sink.BecomeFile())
	case "directory":
		return parseDirectory(r, sink.BecomeDirectory())
	case "symlink":
		return parseSymlink(r, sink)
	default:
		return fmt.Errorf("nar: unknown node kind %q", kind)
	}
}

// parseRegular parses: ("executable" "")* ("contents" bytes)? ")"
//
// Nix has historically tolerated more than one "executable" marker, and
// tolerates omitting "contents" entirely for an empty file.
func parseRegular(r io.Reader, file FileSink) error {
	tok, err := readToken(r)
	if err != nil {
		return err
	}

	for tok == "executable" {
		if err := expectTag(r, ""); err != nil {
			return err
		}

		file.SetExecutable(true)

		tok, err = readToken(r)
		if err != nil {
			return err
		}
	}

	switch tok {
	case "contents":
		if err := streamBytes(r, file); err != nil {
			return err
		}

		return expectTag(r, ")")
	case ")":
		return nil
	default:
		return fmt.Errorf("nar: expected %q or %q, got %q", "contents", ")", tok)
	}
}

func parseSymlink(r io.Reader, sink EntrySink) error {
	if err := expectTag(r, "target"); err != nil {
		return err
	}

	target, err := readToken(r)
	if err != nil {
		return err
	}

	if err := expectTag(r, ")"); err != nil {
		return err
	}

	sink.BecomeSymlink(target)

	return nil
}

// parseDirectory parses: ( "entry" "(" "name" bytes "node" node ")" )* ")"
func parseDirectory(r io.Reader, dir DirectorySink) error {
	for {
		tok, err := readToken(r)
		if err != nil {
			return err
		}

		if tok == ")" {
			return nil
		}

		if tok != "entry" {
			return fmt.Errorf("nar: expected %q or %q, got %q", "entry", ")", tok)
		}

		if err := expectTag(r, "("); err != nil {
			return err
		}

		if err := expectTag(r, "name"); err != nil {
			return err
		}

		name, err := readToken(r)
		if err != nil {
			return err
		}

		if err := expectTag(r, "node"); err != nil {
			return err
		}

		if err := parseNode(r, dir.CreateEntry(name)); err != nil {
			return err
		}

		if err := expectTag(r, ")"); err != nil {
			return err
		}
	}
}

// readToken reads one small padded byte string (a keyword, entry name, or
// symlink target).
func readToken(r io.Reader) (string, error) {
	return wire.ReadString(r, maxTokenSize)
}

func expectTag(r io.Reader, want string) error {
	got, err := readToken(r)
	if err != nil {
		return err
	}

	if got != want {
		return fmt.Errorf("nar: expected %q, got %q", want, got)
	}

	return nil
}

// streamBytes reads one padded byte-string field from r, copying its content
// to w in bounded-size chunks rather than buffering the whole field. This is
// the path regular file contents take, since they may be arbitrarily large.
func streamBytes(r io.Reader, w io.Writer) error {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return err
	}

	if _, err := io.CopyN(w, r, int64(n)); err != nil {
		return fmt.Errorf("nar: read contents: %w", err)
	}

	pad := (8 - (n % 8)) % 8
	if pad == 0 {
		return nil
	}

	var padBuf [8]byte

	_, err = io.ReadFull(r, padBuf[:pad])

	return err
}
