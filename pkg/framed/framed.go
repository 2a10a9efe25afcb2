// Package framed implements the Framed Stream sub-protocol: a sequence of
// (length, bytes) chunks terminated by a zero-length frame, used to carry
// bulk payloads (NAR archives, build logs) alongside a worker operation.
//
// Unlike every other byte string on the wire, frame contents are NOT padded
// to an 8-byte boundary. This is deliberate and load-bearing: the upstream
// nix-daemon writes and expects unpadded frames, so padding them (as an
// earlier revision of this package did, mirroring the padded-string rule
// used everywhere else in the protocol) desynchronizes the stream on the
// very next read.
package framed

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// DefaultChunkSize is the buffer size used by Copy and by Writer's internal
// buffering, chosen to bound memory use during large transfers.
const DefaultChunkSize = 32 * 1024

// Reader reads framed data from an underlying reader, presenting it as a
// single contiguous io.Reader. It transparently reads frame headers as
// frames are exhausted and returns io.EOF after the zero-length terminator.
type Reader struct {
	r          io.Reader
	remaining  uint64
	needHeader bool
	done       bool
}

// NewReader creates a Reader that reads framed data from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, needHeader: true}
}

// Read implements io.Reader, advancing to the next frame's header whenever
// the current frame is exhausted.
func (fr *Reader) Read(p []byte) (int, error) {
	if fr.done {
		return 0, io.EOF
	}

	if fr.needHeader {
		if err := fr.nextFrame(); err != nil {
			return 0, err
		}

		if fr.done {
			return 0, io.EOF
		}
	}

	toRead := uint64(len(p))
	if toRead > fr.remaining {
		toRead = fr.remaining
	}

	n, err := fr.r.Read(p[:toRead])
	fr.remaining -= uint64(n)

	if fr.remaining == 0 {
		fr.needHeader = true
	}

	return n, err
}

func (fr *Reader) nextFrame() error {
	frameLen, err := wire.ReadUint64(fr.r)
	if err != nil {
		return err
	}

	if frameLen == 0 {
		fr.done = true

		return nil
	}

	fr.remaining = frameLen
	fr.needHeader = false

	return nil
}

// Writer writes framed data to an underlying writer. Data written via Write
// is buffered and flushed as a frame once the buffer reaches DefaultChunkSize.
// Close flushes any remaining buffered data and writes the zero-length
// terminator frame; callers MUST call Close to complete the stream.
type Writer struct {
	w      io.Writer
	buf    []byte
	closed bool
}

// NewWriter creates a Writer that writes framed data to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, DefaultChunkSize)}
}

// Write buffers p, flushing full frames as the buffer fills.
func (fw *Writer) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("framed: write to closed Writer")
	}

	written := 0

	for len(p) > 0 {
		space := cap(fw.buf) - len(fw.buf)
		if space > len(p) {
			space = len(p)
		}

		fw.buf = append(fw.buf, p[:space]...)
		p = p[space:]
		written += space

		if len(fw.buf) == cap(fw.buf) {
			if err := fw.flush(); err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

// Close flushes any buffered data as a final frame and writes the
// zero-length terminator.
func (fw *Writer) Close() error {
	if fw.closed {
		return nil
	}

	fw.closed = true

	if len(fw.buf) > 0 {
		if err := fw.flush(); err != nil {
			return err
		}
	}

	return wire.WriteUint64(fw.w, 0)
}

func (fw *Writer) flush() error {
	n := uint64(len(fw.buf))
	if n == 0 {
		return nil
	}

	if err := wire.WriteUint64(fw.w, n); err != nil {
		return err
	}

	if _, err := fw.w.Write(fw.buf); err != nil {
		return err
	}

	fw.buf = fw.buf[:0]

	return nil
}

// Copy performs a bounded-memory streaming copy of a framed stream from src
// to dst: it repeatedly reads a frame length, writes the length and then
// copies exactly that many bytes from src to dst in DefaultChunkSize pieces,
// stopping once the zero-length terminator has been forwarded. It never
// buffers an entire frame, let alone the whole payload.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, DefaultChunkSize)

	var total int64

	for {
		n, err := wire.ReadUint64(src)
		if err != nil {
			return total, fmt.Errorf("framed: read frame length: %w", err)
		}

		if err := wire.WriteUint64(dst, n); err != nil {
			return total, fmt.Errorf("framed: write frame length: %w", err)
		}

		if n == 0 {
			return total, nil
		}

		copied, err := io.CopyBuffer(dst, io.LimitReader(src, int64(n)), buf)
		total += copied

		if err != nil {
			return total, fmt.Errorf("framed: copy frame body: %w", err)
		}

		if copied != int64(n) {
			return total, fmt.Errorf("framed: truncated frame body: wanted %d, got %d", n, copied)
		}
	}
}

// ReadAll reads a complete framed stream into memory as a slice of chunks,
// one per frame, stopping at (and consuming) the zero-length terminator.
// Intended for small payloads and tests; production streaming should use
// Copy or Reader instead.
func ReadAll(r io.Reader) ([][]byte, error) {
	var chunks [][]byte

	for {
		n, err := wire.ReadUint64(r)
		if err != nil {
			return nil, fmt.Errorf("framed: read frame length: %w", err)
		}

		if n == 0 {
			return chunks, nil
		}

		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("framed: read frame body: %w", err)
		}

		chunks = append(chunks, chunk)
	}
}
