package daemon

import (
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/tagged"
	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// StderrMsg is the stderr message union (§4.2/§3): exactly one of the
// fields below is set, matching Type.
type StderrMsg struct {
	Type LogMessageType

	Write    string // LogWrite
	Next     string // LogNext
	RW       uint64 // LogRead byte count
	Activity *Activity
	StopID   uint64 // LogStopActivity
	Result   *ActivityResult
	Error    *DaemonError
	// Last carries no data.
}

// stderrUnion is the tagged.Union driving stderr message decode/encode. It
// is the one place the eight stderr opcodes are listed.
//
//nolint:gochecknoglobals
var stderrUnion = tagged.NewUnion(
	tagged.Variant{
		Tag: uint64(LogLast), Name: "Last",
		Decode: func(io.Reader) (any, error) { return &StderrMsg{Type: LogLast}, nil },
		Encode: func(io.Writer, any) error { return nil },
	},
	tagged.Variant{
		Tag: uint64(LogError), Name: "Error",
		Decode: func(r io.Reader) (any, error) {
			de, err := readDaemonErrorBody(r)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogError, Error: de}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return writeDaemonErrorBody(w, v.(*StderrMsg).Error)
		},
	},
	tagged.Variant{
		Tag: uint64(LogNext), Name: "Next",
		Decode: func(r io.Reader) (any, error) {
			s, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogNext, Next: s}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return wire.WriteString(w, v.(*StderrMsg).Next)
		},
	},
	tagged.Variant{
		Tag: uint64(LogWrite), Name: "Write",
		Decode: func(r io.Reader) (any, error) {
			s, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogWrite, Write: s}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return wire.WriteString(w, v.(*StderrMsg).Write)
		},
	},
	tagged.Variant{
		Tag: uint64(LogRead), Name: "Read",
		Decode: func(r io.Reader) (any, error) {
			n, err := wire.ReadUint64(r)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogRead, RW: n}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return wire.WriteUint64(w, v.(*StderrMsg).RW)
		},
	},
	tagged.Variant{
		Tag: uint64(LogStartActivity), Name: "StartActivity",
		Decode: func(r io.Reader) (any, error) {
			act, err := readActivity(r)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogStartActivity, Activity: act}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return writeActivity(w, v.(*StderrMsg).Activity)
		},
	},
	tagged.Variant{
		Tag: uint64(LogStopActivity), Name: "StopActivity",
		Decode: func(r io.Reader) (any, error) {
			id, err := wire.ReadUint64(r)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogStopActivity, StopID: id}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return wire.WriteUint64(w, v.(*StderrMsg).StopID)
		},
	},
	tagged.Variant{
		Tag: uint64(LogResult), Name: "Result",
		Decode: func(r io.Reader) (any, error) {
			res, err := readActivityResult(r)
			if err != nil {
				return nil, err
			}

			return &StderrMsg{Type: LogResult, Result: res}, nil
		},
		Encode: func(w io.Writer, v any) error {
			return writeActivityResult(w, v.(*StderrMsg).Result)
		},
	},
)

// DecodeStderrMsg reads one stderr message from r.
func DecodeStderrMsg(r io.Reader) (*StderrMsg, error) {
	_, body, err := stderrUnion.Decode(r)
	if err != nil {
		return nil, &ProtocolError{Op: "decode stderr message", Err: err}
	}

	return body.(*StderrMsg), nil
}

// EncodeStderrMsg writes msg to w.
func EncodeStderrMsg(w io.Writer, msg *StderrMsg) error {
	return stderrUnion.Encode(w, uint64(msg.Type), msg)
}

// ForwardStderrMsg decodes one stderr message from r and immediately
// re-encodes it to w, returning the decoded message so the caller can log
// or translate it. It is the building block for the Proxy Driver's
// DrainingStderr phase: a Codec-driven tee exactly as described for the
// response path.
func ForwardStderrMsg(w io.Writer, r io.Reader) (*StderrMsg, error) {
	msg, err := DecodeStderrMsg(r)
	if err != nil {
		return nil, err
	}

	if err := EncodeStderrMsg(w, msg); err != nil {
		return nil, &ProtocolError{Op: "encode stderr message", Err: err}
	}

	return msg, nil
}

// WriteLast writes a single Last message, terminating a stderr stream. A
// server-side session emits one of these with no preceding messages
// immediately after completing the handshake.
func WriteLast(w io.Writer) error {
	return EncodeStderrMsg(w, &StderrMsg{Type: LogLast})
}

func readDaemonErrorBody(r io.Reader) (*DaemonError, error) {
	err := readDaemonError(r)

	de, ok := err.(*DaemonError) //nolint:errorlint
	if !ok {
		return nil, err
	}

	return de, nil
}

func writeDaemonErrorBody(w io.Writer, e *DaemonError) error {
	if err := wire.WriteString(w, e.Type); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, e.Level); err != nil {
		return err
	}

	if err := wire.WriteString(w, e.Name); err != nil {
		return err
	}

	if err := wire.WriteString(w, e.Message); err != nil {
		return err
	}

	// havePos: always zero, unused.
	if err := wire.WriteUint64(w, 0); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, uint64(len(e.Traces))); err != nil {
		return err
	}

	for _, t := range e.Traces {
		if err := wire.WriteUint64(w, t.HavePos); err != nil {
			return err
		}

		if err := wire.WriteString(w, t.Message); err != nil {
			return err
		}
	}

	return nil
}

func writeActivity(w io.Writer, a *Activity) error {
	if err := wire.WriteUint64(w, a.ID); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, uint64(a.Level)); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, uint64(a.Type)); err != nil {
		return err
	}

	if err := wire.WriteString(w, a.Text); err != nil {
		return err
	}

	if err := writeFields(w, a.Fields); err != nil {
		return err
	}

	return wire.WriteUint64(w, a.Parent)
}

func writeActivityResult(w io.Writer, res *ActivityResult) error {
	if err := wire.WriteUint64(w, res.ID); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, uint64(res.Type)); err != nil {
		return err
	}

	return writeFields(w, res.Fields)
}

func writeFields(w io.Writer, fields []LogField) error {
	if err := wire.WriteUint64(w, uint64(len(fields))); err != nil {
		return err
	}

	for _, f := range fields {
		if f.IsInt {
			if err := wire.WriteUint64(w, 0); err != nil {
				return err
			}

			if err := wire.WriteUint64(w, f.Int); err != nil {
				return err
			}

			continue
		}

		if err := wire.WriteUint64(w, 1); err != nil {
			return err
		}

		if err := wire.WriteString(w, f.String); err != nil {
			return err
		}
	}

	return nil
}
