package proxy_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/proxy"
	"github.com/nixops-forge/nix-remote-proxy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeU64(w io.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:]) //nolint:errcheck
}

func readU64(t *testing.T, r io.Reader) uint64 {
	t.Helper()

	var b [8]byte
	_, err := io.ReadFull(r, b[:])
	require.NoError(t, err)

	return binary.LittleEndian.Uint64(b[:])
}

func writeStr(w io.Writer, s string) {
	writeU64(w, uint64(len(s)))
	io.WriteString(w, s) //nolint:errcheck

	if pad := (8 - len(s)%8) % 8; pad > 0 {
		w.Write(make([]byte, pad)) //nolint:errcheck
	}
}

func readStr(t *testing.T, r io.Reader) string {
	t.Helper()

	n := readU64(t, r)
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)

	if pad := (8 - n%8) % 8; pad > 0 {
		io.CopyN(io.Discard, r, int64(pad)) //nolint:errcheck
	}

	return string(buf)
}

// TestDriverRelaysIsValidPath runs a full client<->proxy<->daemon handshake
// and one IsValidPath request/response cycle through a real Driver, with
// both peers simulated over net.Pipe connections.
func TestDriverRelaysIsValidPath(t *testing.T) {
	clientConn, frontConn := net.Pipe()
	daemonConn, backConn := net.Pipe()

	defer clientConn.Close()
	defer frontConn.Close()
	defer daemonConn.Close()
	defer backConn.Close()

	clientDone := make(chan struct{})

	go func() {
		defer close(clientDone)

		// Client-role handshake.
		writeU64(clientConn, daemon.ClientMagic)
		assert.Equal(t, daemon.ServerMagic, readU64(t, clientConn))
		assert.Equal(t, daemon.ProtocolVersion, readU64(t, clientConn))
		writeU64(clientConn, daemon.ProtocolVersion)
		writeU64(clientConn, 0)
		writeU64(clientConn, 0)
		assert.Equal(t, "proxy-under-test", readStr(t, clientConn))
		assert.Equal(t, uint64(daemon.LogLast), readU64(t, clientConn))

		// One IsValidPath request.
		writeU64(clientConn, uint64(daemon.OpIsValidPath))
		writeStr(clientConn, "/nix/store/abc-foo")

		assert.Equal(t, uint64(daemon.LogLast), readU64(t, clientConn))
		assert.Equal(t, uint64(1), readU64(t, clientConn)) // IsValidPath -> true
	}()

	daemonDone := make(chan struct{})

	go func() {
		defer close(daemonDone)

		// Server-role (daemon) handshake.
		assert.Equal(t, daemon.ClientMagic, readU64(t, daemonConn))
		writeU64(daemonConn, daemon.ServerMagic)
		writeU64(daemonConn, daemon.ProtocolVersion)
		assert.Equal(t, daemon.ProtocolVersion, readU64(t, daemonConn))
		readU64(t, daemonConn) // obsolete
		readU64(t, daemonConn) // obsolete
		writeStr(daemonConn, "nix (Nix) 2.24.0")
		writeU64(daemonConn, uint64(daemon.LogLast))

		// Serve one IsValidPath.
		assert.Equal(t, uint64(daemon.OpIsValidPath), readU64(t, daemonConn))
		assert.Equal(t, "/nix/store/abc-foo", readStr(t, daemonConn))
		writeU64(daemonConn, uint64(daemon.LogLast))
		writeU64(daemonConn, 1) // valid
	}()

	front, err := session.NewFront(frontConn, frontConn, "proxy-under-test")
	require.NoError(t, err)

	back, err := session.NewBack(backConn, backConn)
	require.NoError(t, err)
	assert.Equal(t, "nix (Nix) 2.24.0", back.Info.PeerID)

	driverDone := make(chan error, 1)

	go func() {
		driverDone <- proxy.New(front, back).Run()
	}()

	select {
	case <-clientDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client")
	}

	select {
	case <-daemonDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for daemon")
	}

	clientConn.Close()

	select {
	case err := <-driverDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for driver to exit")
	}
}

func TestDriverUnsupportedOpcodeIsFatal(t *testing.T) {
	clientConn, frontConn := net.Pipe()
	daemonConn, backConn := net.Pipe()

	defer clientConn.Close()
	defer frontConn.Close()
	defer daemonConn.Close()
	defer backConn.Close()

	go func() {
		writeU64(clientConn, daemon.ClientMagic)
		readU64(t, clientConn)
		readU64(t, clientConn)
		writeU64(clientConn, daemon.ProtocolVersion)
		writeU64(clientConn, 0)
		writeU64(clientConn, 0)
		readStr(t, clientConn)
		readU64(t, clientConn)

		writeU64(clientConn, 9999) // unknown opcode
	}()

	go func() {
		readU64(t, daemonConn)
		writeU64(daemonConn, daemon.ServerMagic)
		writeU64(daemonConn, daemon.ProtocolVersion)
		readU64(t, daemonConn)
		readU64(t, daemonConn)
		readU64(t, daemonConn)
		writeStr(daemonConn, "nix (Nix) 2.24.0")
		writeU64(daemonConn, uint64(daemon.LogLast))
	}()

	front, err := session.NewFront(frontConn, frontConn, "proxy-under-test")
	require.NoError(t, err)

	back, err := session.NewBack(backConn, backConn)
	require.NoError(t, err)

	err = proxy.New(front, back).Run()
	assert.Error(t, err)

	var pe *daemon.ProtocolError
	assert.ErrorAs(t, err, &pe)
}
