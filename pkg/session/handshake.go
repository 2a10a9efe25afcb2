package session

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// NewFront performs the server-role handshake (spec §4.6/§6): the proxy is
// acting as the daemon, speaking to the real client. Grounded on
// original_source's NixDaemonProxy::handshake_with_client.
func NewFront(r io.Reader, w io.Writer, selfID string) (*Session, error) {
	s := &Session{Role: Front, R: r, W: w, state: StateGreeting}

	magic, err := wire.ReadUint64(r)
	if err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read client magic", Err: err}
	}

	if magic != daemon.ClientMagic {
		return nil, &daemon.ProtocolError{
			Op:  "handshake validate client magic",
			Err: fmt.Errorf("expected %#x, got %#x", daemon.ClientMagic, magic),
		}
	}

	if err := wire.WriteUint64(w, daemon.ServerMagic); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write server magic", Err: err}
	}

	if err := wire.WriteUint64(w, daemon.ProtocolVersion); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write server version", Err: err}
	}

	if err := Flush(w); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake flush greeting", Err: err}
	}

	clientVersion, err := wire.ReadUint64(r)
	if err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read client version", Err: err}
	}

	if clientVersion < daemon.ProtocolVersion {
		return nil, &daemon.ProtocolError{
			Op:  "handshake validate client version",
			Err: fmt.Errorf("client version %#x below minimum %#x", clientVersion, daemon.ProtocolVersion),
		}
	}

	// Two obsolete fields (cpu-affinity, reserve-space), ignored.
	if _, err := wire.ReadUint64(r); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read obsolete field 1", Err: err}
	}

	if _, err := wire.ReadUint64(r); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read obsolete field 2", Err: err}
	}

	if err := wire.WriteString(w, selfID); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write self id", Err: err}
	}

	if err := daemon.WriteLast(w); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write initial stderr", Err: err}
	}

	if err := Flush(w); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake flush self id", Err: err}
	}

	s.Info = Info{Version: clientVersion, PeerID: ""}
	s.state = StateIdle

	return s, nil
}

// NewBack performs the client-role handshake (spec §4.6/§6): the proxy is
// acting as a client, speaking to the real daemon. Grounded on
// original_source's NixDaemonClient::handshake_with_daemon.
func NewBack(r io.Reader, w io.Writer) (*Session, error) {
	s := &Session{Role: Back, R: r, W: w, state: StateGreeting}

	if err := wire.WriteUint64(w, daemon.ClientMagic); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write client magic", Err: err}
	}

	if err := Flush(w); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake flush client magic", Err: err}
	}

	magic, err := wire.ReadUint64(r)
	if err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read server magic", Err: err}
	}

	if magic != daemon.ServerMagic {
		return nil, &daemon.ProtocolError{
			Op:  "handshake validate server magic",
			Err: fmt.Errorf("expected %#x, got %#x", daemon.ServerMagic, magic),
		}
	}

	serverVersion, err := wire.ReadUint64(r)
	if err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read server version", Err: err}
	}

	if serverVersion < daemon.ProtocolVersion {
		return nil, &daemon.ProtocolError{
			Op:  "handshake validate server version",
			Err: fmt.Errorf("server version %#x below minimum %#x", serverVersion, daemon.ProtocolVersion),
		}
	}

	if err := wire.WriteUint64(w, daemon.ProtocolVersion); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write negotiated version", Err: err}
	}

	// Two obsolete fields (cpu-affinity, reserve-space), written as zero.
	if err := wire.WriteUint64(w, 0); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write obsolete field 1", Err: err}
	}

	if err := wire.WriteUint64(w, 0); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake write obsolete field 2", Err: err}
	}

	if err := Flush(w); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake flush negotiated version", Err: err}
	}

	peerID, err := wire.ReadString(r, daemon.MaxStringSize)
	if err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake read self id", Err: err}
	}

	s.Info = Info{Version: serverVersion, PeerID: peerID}
	s.state = StateDrainingStderr

	if err := s.drainInitialStderr(); err != nil {
		return nil, &daemon.ProtocolError{Op: "handshake drain initial stderr", Err: err}
	}

	return s, nil
}

// Flush calls Flush on w if it implements one (e.g. *bufio.Writer); plain
// io.Writers (net.Conn, bytes.Buffer) have nothing to flush. Exported so
// pkg/proxy can flush the front/back writers at the end of each operation
// without needing its own copy of this check.
func Flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}

	return nil
}
