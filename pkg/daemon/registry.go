package daemon

import (
	"fmt"
	"io"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// Kind names one scalar or composite field shape the registry knows how to
// relay without understanding its meaning.
type Kind int

const (
	KString Kind = iota
	KStrings
	KBool
	KUint64
	KStringMap
)

func readField(r io.Reader, k Kind) (any, error) {
	switch k {
	case KString:
		return wire.ReadString(r, MaxStringSize)
	case KStrings:
		return ReadStrings(r, MaxStringSize)
	case KBool:
		return wire.ReadBool(r)
	case KUint64:
		return wire.ReadUint64(r)
	case KStringMap:
		return ReadStringMap(r, MaxStringSize)
	default:
		return nil, fmt.Errorf("registry: unknown field kind %d", k)
	}
}

func writeField(w io.Writer, k Kind, v any) error {
	switch k {
	case KString:
		return wire.WriteString(w, v.(string))
	case KStrings:
		return WriteStrings(w, v.([]string))
	case KBool:
		return wire.WriteBool(w, v.(bool))
	case KUint64:
		return wire.WriteUint64(w, v.(uint64))
	case KStringMap:
		return WriteStringMap(w, v.(map[string]string))
	default:
		return fmt.Errorf("registry: unknown field kind %d", k)
	}
}

// Codec decodes and re-encodes one operation's request and response. Decode
// and Encode are split so the Proxy Driver can log or inspect the decoded
// value between the two; Response decode is given the already-decoded
// request because an operation (QueryPathInfo) omits a field from the
// response that the request already established.
type Codec struct {
	DecodeRequest  func(r io.Reader) (any, error)
	EncodeRequest  func(w io.Writer, req any) error
	DecodeResponse func(r io.Reader, req any) (any, error)
	EncodeResponse func(w io.Writer, resp any) error
}

// OpSpec is one row of the Operation Registry (§4.5): everything the Proxy
// Driver needs to relay an operation without hard-coding its shape.
type OpSpec struct {
	Op Operation

	// HasFramedSource is true when the request is followed by a Framed
	// Stream (§4.3) of source data: AddToStore, AddToStoreNar,
	// AddMultipleToStore, AddBuildLog. The proxy relays these frames
	// verbatim via pkg/framed, without parsing what they contain.
	HasFramedSource bool

	// NarResponse is true only for NarFromPath: the response is a raw NAR
	// Stream rather than a sequence of typed fields, and is relayed via
	// pkg/nar instead of Codec.
	NarResponse bool

	Codec Codec
}

func fieldsCodec(reqKinds, respKinds []Kind) Codec {
	decode := func(kinds []Kind) func(io.Reader) (any, error) {
		return func(r io.Reader) (any, error) {
			vals := make([]any, len(kinds))

			for i, k := range kinds {
				v, err := readField(r, k)
				if err != nil {
					return nil, err
				}

				vals[i] = v
			}

			return vals, nil
		}
	}

	encode := func(kinds []Kind) func(io.Writer, any) error {
		return func(w io.Writer, v any) error {
			vals, _ := v.([]any)
			for i, k := range kinds {
				if err := writeField(w, k, vals[i]); err != nil {
					return err
				}
			}

			return nil
		}
	}

	return Codec{
		DecodeRequest: decode(reqKinds),
		EncodeRequest: encode(reqKinds),
		DecodeResponse: func(r io.Reader, _ any) (any, error) {
			return decode(respKinds)(r)
		},
		EncodeResponse: encode(respKinds),
	}
}

// noResponseCodec builds a Codec for operations whose reply is nothing but
// the stderr stream: AddTempRoot, AddIndirectRoot, RegisterDrvOutput,
// AddSignatures, OptimiseStore, and the framed-source upload operations.
func noResponseCodec(reqKinds []Kind) Codec {
	c := fieldsCodec(reqKinds, nil)
	c.DecodeResponse = func(io.Reader, any) (any, error) { return nil, nil }
	c.EncodeResponse = func(io.Writer, any) error { return nil }

	return c
}

// QueryPathInfoResponse is the decoded OpQueryPathInfo reply.
type QueryPathInfoResponse struct {
	Found bool
	Info  *PathInfo
}

func queryPathInfoCodec() Codec {
	c := fieldsCodec([]Kind{KString}, nil)

	c.DecodeResponse = func(r io.Reader, req any) (any, error) {
		path := req.([]any)[0].(string) //nolint:errcheck,forcetypeassert

		found, err := wire.ReadBool(r)
		if err != nil {
			return nil, err
		}

		if !found {
			return &QueryPathInfoResponse{}, nil
		}

		info, err := ReadPathInfo(r, path)
		if err != nil {
			return nil, err
		}

		return &QueryPathInfoResponse{Found: true, Info: info}, nil
	}

	c.EncodeResponse = func(w io.Writer, v any) error {
		resp := v.(*QueryPathInfoResponse) //nolint:forcetypeassert

		if err := wire.WriteBool(w, resp.Found); err != nil {
			return err
		}

		if !resp.Found {
			return nil
		}

		return writePathInfoFields(w, resp.Info)
	}

	return c
}

// writePathInfoFields writes every PathInfo field except StorePath, matching
// the wire shape of a QueryPathInfo reply (the path is already known to the
// caller from the request and is not repeated).
func writePathInfoFields(w io.Writer, info *PathInfo) error {
	if err := wire.WriteString(w, info.Deriver); err != nil {
		return err
	}

	if err := wire.WriteString(w, info.NarHash); err != nil {
		return err
	}

	if err := WriteStrings(w, info.References); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, info.RegistrationTime); err != nil {
		return err
	}

	if err := wire.WriteUint64(w, info.NarSize); err != nil {
		return err
	}

	if err := wire.WriteBool(w, info.Ultimate); err != nil {
		return err
	}

	if err := WriteStrings(w, info.Sigs); err != nil {
		return err
	}

	return wire.WriteString(w, info.CA)
}

// addToStoreCodec handles OpAddToStore: request is name/camStr/refs/repair
// followed by a framed NAR; response is a full ValidPathInfo with the new
// store path on the wire (unlike QueryPathInfo's reply, which omits it).
func addToStoreCodec() Codec {
	c := fieldsCodec([]Kind{KString, KString, KStrings, KBool}, nil)

	c.DecodeResponse = func(r io.Reader, _ any) (any, error) {
		path, err := wire.ReadString(r, MaxStringSize)
		if err != nil {
			return nil, err
		}

		return ReadPathInfo(r, path)
	}

	c.EncodeResponse = func(w io.Writer, v any) error {
		return WritePathInfo(w, v.(*PathInfo)) //nolint:forcetypeassert
	}

	return c
}

// readPathInfoWithStorePath decodes the "storePath then PathInfo body" shape
// of AddToStoreNar's request.
func readPathInfoWithStorePath(r io.Reader) (*PathInfo, error) {
	path, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, err
	}

	return ReadPathInfo(r, path)
}

// addToStoreNarCodec handles OpAddToStoreNar: PathInfo, repair,
// dontCheckSigs, then a framed NAR. No response beyond stderr.
func addToStoreNarCodec() Codec {
	return Codec{
		DecodeRequest: func(r io.Reader) (any, error) {
			info, err := readPathInfoWithStorePath(r)
			if err != nil {
				return nil, err
			}

			repair, err := wire.ReadBool(r)
			if err != nil {
				return nil, err
			}

			dontCheckSigs, err := wire.ReadBool(r)
			if err != nil {
				return nil, err
			}

			return &AddToStoreNarRequest{Info: *info, Repair: repair, DontCheckSigs: dontCheckSigs}, nil
		},
		EncodeRequest: func(w io.Writer, v any) error {
			req := v.(*AddToStoreNarRequest) //nolint:forcetypeassert

			if err := WritePathInfo(w, &req.Info); err != nil {
				return err
			}

			if err := wire.WriteBool(w, req.Repair); err != nil {
				return err
			}

			return wire.WriteBool(w, req.DontCheckSigs)
		},
		DecodeResponse: func(io.Reader, any) (any, error) { return nil, nil },
		EncodeResponse: func(io.Writer, any) error { return nil },
	}
}

// buildDerivationCodec handles OpBuildDerivation: storePath, a
// BasicDerivation, and a BuildMode, replying with one BuildResult.
func buildDerivationCodec() Codec {
	return Codec{
		DecodeRequest: func(r io.Reader) (any, error) {
			path, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return nil, err
			}

			drv, err := readBasicDerivation(r)
			if err != nil {
				return nil, err
			}

			mode, err := wire.ReadUint64(r)
			if err != nil {
				return nil, err
			}

			return &BuildDerivationRequest{StorePath: path, Drv: drv, Mode: BuildMode(mode)}, nil
		},
		EncodeRequest: func(w io.Writer, v any) error {
			req := v.(*BuildDerivationRequest) //nolint:forcetypeassert

			if err := wire.WriteString(w, req.StorePath); err != nil {
				return err
			}

			if err := WriteBasicDerivation(w, req.Drv); err != nil {
				return err
			}

			return wire.WriteUint64(w, uint64(req.Mode))
		},
		DecodeResponse: func(r io.Reader, _ any) (any, error) { return ReadBuildResult(r) },
		EncodeResponse: func(w io.Writer, v any) error { return WriteBuildResult(w, v.(*BuildResult)) }, //nolint:forcetypeassert
	}
}

// buildPathsWithResultsCodec handles OpBuildPathsWithResults: paths and a
// mode, replying with one (derived path string, BuildResult) pair per path.
func buildPathsWithResultsCodec() Codec {
	c := fieldsCodec([]Kind{KStrings, KUint64}, nil)

	c.DecodeResponse = func(r io.Reader, _ any) (any, error) {
		count, err := wire.ReadUint64(r)
		if err != nil {
			return nil, err
		}

		results := make([]DerivedPathBuildResult, count)

		for i := uint64(0); i < count; i++ {
			path, err := wire.ReadString(r, MaxStringSize)
			if err != nil {
				return nil, err
			}

			br, err := ReadBuildResult(r)
			if err != nil {
				return nil, err
			}

			results[i] = DerivedPathBuildResult{Path: path, Result: *br}
		}

		return results, nil
	}

	c.EncodeResponse = func(w io.Writer, v any) error {
		results := v.([]DerivedPathBuildResult) //nolint:forcetypeassert

		if err := wire.WriteUint64(w, uint64(len(results))); err != nil {
			return err
		}

		for _, res := range results {
			if err := wire.WriteString(w, res.Path); err != nil {
				return err
			}

			if err := WriteBuildResult(w, &res.Result); err != nil {
				return err
			}
		}

		return nil
	}

	return c
}

// setOptionsCodec handles OpSetOptions: a ClientSettings record, no response.
func setOptionsCodec() Codec {
	return Codec{
		DecodeRequest: func(r io.Reader) (any, error) { return ReadClientSettings(r) },
		EncodeRequest: func(w io.Writer, v any) error { return WriteClientSettings(w, v.(*ClientSettings)) }, //nolint:forcetypeassert
		DecodeResponse: func(io.Reader, any) (any, error) { return nil, nil },
		EncodeResponse: func(io.Writer, any) error { return nil },
	}
}

// readBasicDerivation parses a BasicDerivation, mirroring WriteBasicDerivation.
func readBasicDerivation(r io.Reader) (*BasicDerivation, error) {
	nrOutputs, err := wire.ReadUint64(r)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation outputs count", Err: err}
	}

	outputs := make(map[string]DerivationOutput, nrOutputs)

	for i := uint64(0); i < nrOutputs; i++ {
		name, err := wire.ReadString(r, MaxStringSize)
		if err != nil {
			return nil, &ProtocolError{Op: "read derivation output name", Err: err}
		}

		path, err := wire.ReadString(r, MaxStringSize)
		if err != nil {
			return nil, &ProtocolError{Op: "read derivation output path", Err: err}
		}

		hashAlgo, err := wire.ReadString(r, MaxStringSize)
		if err != nil {
			return nil, &ProtocolError{Op: "read derivation output hash algo", Err: err}
		}

		hash, err := wire.ReadString(r, MaxStringSize)
		if err != nil {
			return nil, &ProtocolError{Op: "read derivation output hash", Err: err}
		}

		outputs[name] = DerivationOutput{Path: path, HashAlgorithm: hashAlgo, Hash: hash}
	}

	inputs, err := ReadStrings(r, MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation inputs", Err: err}
	}

	platform, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation platform", Err: err}
	}

	builder, err := wire.ReadString(r, MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation builder", Err: err}
	}

	args, err := ReadStrings(r, MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation args", Err: err}
	}

	env, err := ReadStringMap(r, MaxStringSize)
	if err != nil {
		return nil, &ProtocolError{Op: "read derivation env", Err: err}
	}

	return &BasicDerivation{
		Outputs:  outputs,
		Inputs:   inputs,
		Platform: platform,
		Builder:  builder,
		Args:     args,
		Env:      env,
	}, nil
}

//nolint:gochecknoglobals
var registry = buildRegistry()

func buildRegistry() map[Operation]OpSpec {
	specs := []OpSpec{
		{Op: OpIsValidPath, Codec: fieldsCodec([]Kind{KString}, []Kind{KBool})},
		{Op: OpQueryReferrers, Codec: fieldsCodec([]Kind{KString}, []Kind{KStrings})},
		{Op: OpAddToStore, HasFramedSource: true, Codec: addToStoreCodec()},
		{Op: OpBuildPaths, Codec: fieldsCodec([]Kind{KStrings, KUint64}, []Kind{KUint64})},
		{Op: OpEnsurePath, Codec: fieldsCodec([]Kind{KString}, []Kind{KUint64})},
		{Op: OpAddTempRoot, Codec: noResponseCodec([]Kind{KString})},
		{Op: OpAddIndirectRoot, Codec: noResponseCodec([]Kind{KString})},
		{Op: OpFindRoots, Codec: fieldsCodec(nil, []Kind{KStringMap})},
		{Op: OpSetOptions, Codec: setOptionsCodec()},
		{
			Op: OpCollectGarbage,
			Codec: fieldsCodec(
				[]Kind{KUint64, KStrings, KBool, KUint64, KUint64, KUint64, KUint64},
				[]Kind{KStrings, KUint64, KUint64},
			),
		},
		{Op: OpQueryAllValidPaths, Codec: fieldsCodec(nil, []Kind{KStrings})},
		{Op: OpQueryPathInfo, Codec: queryPathInfoCodec()},
		{Op: OpQueryPathFromHashPart, Codec: fieldsCodec([]Kind{KString}, []Kind{KString})},
		{Op: OpQueryValidPaths, Codec: fieldsCodec([]Kind{KStrings, KBool}, []Kind{KStrings})},
		{Op: OpQuerySubstitutablePaths, Codec: fieldsCodec([]Kind{KStrings}, []Kind{KStrings})},
		{Op: OpQueryValidDerivers, Codec: fieldsCodec([]Kind{KString}, []Kind{KStrings})},
		{Op: OpOptimiseStore, Codec: noResponseCodec(nil)},
		{Op: OpVerifyStore, Codec: fieldsCodec([]Kind{KBool, KBool}, []Kind{KBool})},
		{Op: OpBuildDerivation, Codec: buildDerivationCodec()},
		{Op: OpAddSignatures, Codec: noResponseCodec([]Kind{KString, KStrings})},
		{Op: OpNarFromPath, NarResponse: true, Codec: fieldsCodec([]Kind{KString}, nil)},
		{Op: OpAddToStoreNar, HasFramedSource: true, Codec: addToStoreNarCodec()},
		{
			Op: OpQueryMissing,
			Codec: fieldsCodec(
				[]Kind{KStrings},
				[]Kind{KStrings, KStrings, KStrings, KUint64, KUint64},
			),
		},
		{Op: OpQueryDerivationOutputMap, Codec: fieldsCodec([]Kind{KString}, []Kind{KStringMap})},
		{Op: OpRegisterDrvOutput, Codec: noResponseCodec([]Kind{KString})},
		{Op: OpQueryRealisation, Codec: fieldsCodec([]Kind{KString}, []Kind{KStrings})},
		{Op: OpAddMultipleToStore, HasFramedSource: true, Codec: noResponseCodec([]Kind{KBool, KBool})},
		{Op: OpAddBuildLog, HasFramedSource: true, Codec: noResponseCodec([]Kind{KString})},
		{Op: OpBuildPathsWithResults, Codec: buildPathsWithResultsCodec()},
		{Op: OpAddPermRoot, Codec: fieldsCodec([]Kind{KString, KString}, []Kind{KString})},
	}

	m := make(map[Operation]OpSpec, len(specs))
	for _, s := range specs {
		m[s.Op] = s
	}

	return m
}

// Lookup returns the OpSpec for op, or false if the proxy has never heard of
// it (a ProtocolError case for the Proxy Driver).
func Lookup(op Operation) (OpSpec, bool) {
	s, ok := registry[op]

	return s, ok
}
