// Package proxy implements the Proxy Driver (spec §4.7): it wires a front
// session (proxy acting as daemon to the real client) to a back session
// (proxy acting as client to the real daemon), relaying every operation
// between them without ever rewriting a payload. Grounded on
// original_source/examples/proxy/proxy.rs's NixProxy::process_connection.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/framed"
	"github.com/nixops-forge/nix-remote-proxy/pkg/nar"
	"github.com/nixops-forge/nix-remote-proxy/pkg/session"
)

// Driver runs one proxied connection to completion.
type Driver struct {
	Front *session.Session
	Back  *session.Session

	// OnOperation, if set, is called once per completed relayOp with the
	// streamed-bytes count (framed-source bytes only; 0 for operations with
	// no framed source) and a short outcome tag ("ok", "upstream-error",
	// "protocol-error"). Used by internal/journal; never affects relaying.
	OnOperation func(op daemon.Operation, started, finished time.Time, bytes int64, outcome string)
}

// New builds a Driver over an already-handshaken front and back session.
func New(front, back *session.Session) *Driver {
	return &Driver{Front: front, Back: back}
}

// Run drives the connection until the client disconnects cleanly or a
// protocol/I-O error makes the session unrecoverable. A clean io.EOF at a
// request boundary returns nil; any other error is returned to the caller,
// which should close both pipes (the Driver does not own their lifetime).
func (d *Driver) Run() error {
	for {
		op, err := d.Front.NextOpcode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if err := d.relayOp(op); err != nil {
			return err
		}
	}
}

// relayOp runs one full request/stream/stderr/response cycle for op,
// exactly the five steps spec §4.7 describes.
func (d *Driver) relayOp(op daemon.Operation) error {
	started := time.Now()

	var streamed int64

	outcome := "ok"

	err := d.doRelayOp(op, &streamed)
	if err != nil {
		outcome = outcomeFor(err)
	}

	if d.OnOperation != nil {
		d.OnOperation(op, started, time.Now(), streamed, outcome)
	}

	return err
}

func outcomeFor(err error) string {
	var ue *daemon.UpstreamError
	if errors.As(err, &ue) {
		return "upstream-error"
	}

	var us *daemon.UnsupportedError
	if errors.As(err, &us) {
		return "unsupported"
	}

	return "protocol-error"
}

func (d *Driver) doRelayOp(op daemon.Operation, streamed *int64) error {
	spec, ok := daemon.Lookup(op)
	if !ok {
		return &daemon.ProtocolError{Op: "lookup operation", Err: fmt.Errorf("unknown opcode %d", uint64(op))}
	}

	// 1. Decode the request from the front, encode it to the back.
	req, err := spec.Codec.DecodeRequest(d.Front.R)
	if err != nil {
		return &daemon.ProtocolError{Op: "decode request " + op.String(), Err: err}
	}

	if err := d.Back.SendRequest(op); err != nil {
		return err
	}

	if err := spec.Codec.EncodeRequest(d.Back.W, req); err != nil {
		return &daemon.ProtocolError{Op: "encode request " + op.String(), Err: err}
	}

	// 2. If the request carries a framed source, relay it front -> back.
	if spec.HasFramedSource {
		if err := d.Front.EnterStreaming(); err != nil {
			return err
		}

		if err := d.Back.EnterStreaming(); err != nil {
			return err
		}

		n, err := framed.Copy(d.Back.W, d.Front.R)
		*streamed = n

		if err != nil {
			return &daemon.ProtocolError{Op: "stream framed source " + op.String(), Err: err}
		}
	}

	if err := session.Flush(d.Back.W); err != nil {
		return &daemon.ProtocolError{Op: "flush back request " + op.String(), Err: err}
	}

	// 3. Drain stderr back -> front, forwarding every message.
	if err := d.Front.EnterDrainingStderr(); err != nil {
		return err
	}

	if err := d.Back.EnterDrainingStderr(); err != nil {
		return err
	}

	if err := d.Back.DrainStderr(d.Front.W); err != nil {
		return d.surfaceUpstreamError("drain stderr "+op.String(), err)
	}

	if err := d.Front.FinishDrainingStderr(); err != nil {
		return err
	}

	// 4. Relay the response: a raw NAR stream for NarFromPath, otherwise a
	// decode+encode through the operation's response codec.
	if spec.NarResponse {
		if err := nar.Copy(d.Front.W, d.Back.R); err != nil {
			return d.surfaceUpstreamError("stream nar response "+op.String(), err)
		}
	} else {
		resp, err := spec.Codec.DecodeResponse(d.Back.R, req)
		if err != nil {
			return d.surfaceUpstreamError("decode response "+op.String(), err)
		}

		if err := spec.Codec.EncodeResponse(d.Front.W, resp); err != nil {
			return &daemon.ProtocolError{Op: "encode response " + op.String(), Err: err}
		}
	}

	// 5. Flush the front.
	if err := session.Flush(d.Front.W); err != nil {
		return &daemon.ProtocolError{Op: "flush front response " + op.String(), Err: err}
	}

	if err := d.Back.Done(); err != nil {
		return err
	}

	return d.Front.Done()
}

// surfaceUpstreamError implements spec §4.8's failure semantics for
// back-side faults: when the real daemon's pipe breaks mid-operation, the
// proxy tries to tell the client why via a synthesized stderr Error
// followed by Last, rather than silently dropping the connection. The
// underlying error is still returned (wrapped) so the caller ends the
// session either way — the synthesized message is best-effort, since a
// session this broken may not have a writable front pipe left either.
func (d *Driver) surfaceUpstreamError(op string, cause error) error {
	daemonErr := &daemon.DaemonError{Message: op + ": " + cause.Error()}

	msg := &daemon.StderrMsg{Type: daemon.LogError, Error: daemonErr}
	if encErr := daemon.EncodeStderrMsg(d.Front.W, msg); encErr == nil {
		daemon.WriteLast(d.Front.W) //nolint:errcheck
		session.Flush(d.Front.W)    //nolint:errcheck
	}

	return &daemon.UpstreamError{DaemonError: daemonErr}
}
