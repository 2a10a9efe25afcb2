// Package session implements the Session State Machine: the handshake and
// per-request state tracking shared by both sides of a proxied connection.
// A Session knows nothing about what any particular operation's body looks
// like — that is the Operation Registry's job (pkg/daemon.Lookup) — it only
// tracks where in the request/stream/stderr/response cycle a connection
// currently is, and performs the handshake that gets it there.
package session

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// Role identifies which end of the proxy a Session represents.
type Role int

const (
	// Front is the proxy acting as a daemon to the real client.
	Front Role = iota
	// Back is the proxy acting as a client to the real daemon.
	Back
)

func (r Role) String() string {
	if r == Front {
		return "front"
	}

	return "back"
}

// State is one node of the Session State Machine (spec §4.6).
type State int

const (
	StateGreeting State = iota
	StateIdle
	StateInRequest
	StateStreaming
	StateDrainingStderr
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "Greeting"
	case StateIdle:
		return "Idle"
	case StateInRequest:
		return "InRequest"
	case StateStreaming:
		return "Streaming"
	case StateDrainingStderr:
		return "DrainingStderr"
	case StateResponding:
		return "Responding"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionError reports an attempt to drive the state machine out of
// order — e.g. draining stderr before a request has been read. It signals a
// bug in the driver, not a wire-protocol problem.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// Info is the negotiated handshake result: the agreed protocol version and
// the peer's self-identifying string (empty on the front side, where the
// client sends none; the daemon's self-identification on the back side).
type Info struct {
	Version uint64
	PeerID  string
}

// Session tracks one connection's position in the state machine and owns
// the raw pipe to that peer. The Proxy Driver reads Op/Codec bodies
// directly off R and writes them directly to W; Session only gates which
// phase the connection is in and drives the stderr relay, since that part
// is always the same shape regardless of operation.
type Session struct {
	Role Role
	R    io.Reader
	W    io.Writer
	Info Info

	state State
	op    daemon.Operation
}

func (s *Session) transition(to State, allowed ...State) error {
	for _, a := range allowed {
		if s.state == a {
			s.state = to

			return nil
		}
	}

	return &TransitionError{From: s.state, To: to}
}

// State returns the session's current position in the state machine.
func (s *Session) State() State {
	return s.state
}

// NextOpcode reads the next worker operation code from the front client (or
// the Idle->InRequest transition on the back side is driven by
// SendRequest instead, since the back side sends rather than reads the
// opcode). It is the Idle -> InRequest transition. A read error here,
// including io.EOF when the peer closed the connection between requests,
// is returned and moves the session to Closed (the Idle --eof--> Closed
// transition in spec §4.6); the Proxy Driver treats io.EOF as a clean end.
func (s *Session) NextOpcode() (daemon.Operation, error) {
	if err := s.transition(StateInRequest, StateIdle); err != nil {
		return 0, err
	}

	n, err := wire.ReadUint64(s.R)
	if err != nil {
		s.state = StateClosed

		return 0, err
	}

	s.op = daemon.Operation(n)

	return s.op, nil
}

// SendRequest writes opcode to the back side's daemon, the back-session
// equivalent of NextOpcode: it is the Idle -> InRequest transition driven by
// the proxy itself rather than by a peer's input.
func (s *Session) SendRequest(op daemon.Operation) error {
	if err := s.transition(StateInRequest, StateIdle); err != nil {
		return err
	}

	s.op = op

	return wire.WriteUint64(s.W, uint64(op))
}

// Op returns the opcode of the request currently in flight.
func (s *Session) Op() daemon.Operation {
	return s.op
}

// EnterStreaming is the InRequest -> Streaming transition, taken only when
// the Operation Registry says the current op has a framed source.
func (s *Session) EnterStreaming() error {
	return s.transition(StateStreaming, StateInRequest)
}

// EnterDrainingStderr is the transition into DrainingStderr, valid from
// either InRequest (no framed source) or Streaming (framed source already
// relayed).
func (s *Session) EnterDrainingStderr() error {
	return s.transition(StateDrainingStderr, StateInRequest, StateStreaming)
}

// DrainStderr reads stderr messages from the peer until (and including) the
// terminating Last, forwarding each one to fwd unless fwd is nil. It is the
// DrainingStderr self-loop plus the DrainingStderr -> Responding transition
// on Last, all in one call since no caller needs to interleave anything
// else while stderr is draining.
func (s *Session) DrainStderr(fwd io.Writer) error {
	if s.state != StateDrainingStderr {
		return &TransitionError{From: s.state, To: StateDrainingStderr}
	}

	if err := s.drainUntilLast(fwd); err != nil {
		return err
	}

	s.state = StateResponding

	return nil
}

// drainInitialStderr reads the empty stderr stream (just Last) that
// immediately follows a successful handshake on both sides, landing
// directly in Idle rather than Responding since there is no request it
// belongs to.
func (s *Session) drainInitialStderr() error {
	if err := s.drainUntilLast(nil); err != nil {
		return err
	}

	s.state = StateIdle

	return nil
}

func (s *Session) drainUntilLast(fwd io.Writer) error {
	for {
		var msg *daemon.StderrMsg

		var err error

		if fwd != nil {
			msg, err = daemon.ForwardStderrMsg(fwd, s.R)
		} else {
			msg, err = daemon.DecodeStderrMsg(s.R)
		}

		if err != nil {
			s.state = StateClosed

			return err
		}

		if msg.Type == daemon.LogLast {
			return nil
		}
	}
}

// FinishDrainingStderr is the DrainingStderr -> Responding transition for a
// session that does not itself read the stderr stream off its own R — the
// front session's peer (the client) only ever receives stderr messages; the
// back session is the one that reads and forwards them, via DrainStderr.
func (s *Session) FinishDrainingStderr() error {
	return s.transition(StateResponding, StateDrainingStderr)
}

// Done is the Responding -> Idle transition, taken once the response (or
// NAR passthrough) has been fully written and flushed.
func (s *Session) Done() error {
	return s.transition(StateIdle, StateResponding)
}

// Close marks the session terminal. It does not close the underlying pipe;
// the caller (Proxy Driver) owns that lifetime.
func (s *Session) Close() {
	s.state = StateClosed
}
