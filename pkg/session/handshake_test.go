package session_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/session"
	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeFrontBackRoundTrip(t *testing.T) {
	frontConn, backConn := net.Pipe()
	defer frontConn.Close()
	defer backConn.Close()

	frontDone := make(chan *session.Session, 1)
	frontErr := make(chan error, 1)

	go func() {
		s, err := session.NewFront(frontConn, frontConn, "proxy-0.1.0")
		frontDone <- s
		frontErr <- err
	}()

	back, err := session.NewBack(backConn, backConn)
	require.NoError(t, err)
	assert.Equal(t, daemon.ProtocolVersion, back.Info.Version)
	assert.Equal(t, "proxy-0.1.0", back.Info.PeerID)
	assert.Equal(t, session.StateIdle, back.State())

	front := <-frontDone
	require.NoError(t, <-frontErr)
	assert.Equal(t, daemon.ProtocolVersion, front.Info.Version)
	assert.Equal(t, session.StateIdle, front.State())
	assert.Equal(t, session.Front, front.Role)
	assert.Equal(t, session.Back, back.Role)
}

func TestHandshakeFrontRejectsWrongMagic(t *testing.T) {
	var in bytes.Buffer
	wire.WriteUint64(&in, 0xdeadbeef)

	var out bytes.Buffer

	_, err := session.NewFront(&in, &out, "proxy-0.1.0")
	assert.Error(t, err)

	var pe *daemon.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestHandshakeFrontRejectsOldClient(t *testing.T) {
	var in bytes.Buffer
	wire.WriteUint64(&in, daemon.ClientMagic)
	wire.WriteUint64(&in, 0x0100) // older than ProtocolVersion

	var out bytes.Buffer

	_, err := session.NewFront(&in, &out, "proxy-0.1.0")
	assert.Error(t, err)
}

func TestHandshakeBackRejectsWrongMagic(t *testing.T) {
	var in bytes.Buffer
	wire.WriteUint64(&in, 0xdeadbeef)

	var out bytes.Buffer

	_, err := session.NewBack(&in, &out)
	assert.Error(t, err)

	var pe *daemon.ProtocolError
	assert.ErrorAs(t, err, &pe)
}
