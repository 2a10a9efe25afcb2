package tagged_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/pkg/tagged"
	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringVariant(tag tagged.Tag, name string) tagged.Variant {
	return tagged.Variant{
		Tag:  tag,
		Name: name,
		Decode: func(r io.Reader) (any, error) {
			return wire.ReadString(r, 1024)
		},
		Encode: func(w io.Writer, body any) error {
			return wire.WriteString(w, body.(string))
		},
	}
}

func unitVariant(tag tagged.Tag, name string) tagged.Variant {
	decode, encode := tagged.Unit()

	return tagged.Variant{Tag: tag, Name: name, Decode: decode, Encode: encode}
}

func TestUnionEncodeDecodeRoundTrip(t *testing.T) {
	u := tagged.NewUnion(
		stringVariant(1, "greet"),
		unitVariant(2, "ping"),
	)

	var buf bytes.Buffer
	require.NoError(t, u.Encode(&buf, 1, "hello"))

	tag, body, err := u.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, tagged.Tag(1), tag)
	assert.Equal(t, "hello", body)
}

func TestUnionUnitVariantRoundTrip(t *testing.T) {
	u := tagged.NewUnion(unitVariant(2, "ping"))

	var buf bytes.Buffer
	require.NoError(t, u.Encode(&buf, 2, nil))

	tag, body, err := u.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, tagged.Tag(2), tag)
	assert.Nil(t, body)
}

func TestUnionDecodeUnknownTag(t *testing.T) {
	u := tagged.NewUnion(stringVariant(1, "greet"))

	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 99))

	_, _, err := u.Decode(&buf)
	require.Error(t, err)

	var unk *tagged.UnknownTagError
	require.True(t, errors.As(err, &unk))
	assert.Equal(t, tagged.Tag(99), unk.Tag)
}

func TestUnionEncodeUnknownTag(t *testing.T) {
	u := tagged.NewUnion(stringVariant(1, "greet"))

	var buf bytes.Buffer
	err := u.Encode(&buf, 99, "whatever")

	var unk *tagged.UnknownTagError
	require.True(t, errors.As(err, &unk))
}

func TestNewUnionPanicsOnDuplicateTag(t *testing.T) {
	defer func() {
		assert.NotNil(t, recover())
	}()

	tagged.NewUnion(
		stringVariant(1, "greet"),
		unitVariant(1, "ping"),
	)
}

func TestUnionVariantLookup(t *testing.T) {
	u := tagged.NewUnion(stringVariant(1, "greet"), unitVariant(2, "ping"))

	v, ok := u.Variant(1)
	require.True(t, ok)
	assert.Equal(t, "greet", v.Name)

	_, ok = u.Variant(404)
	assert.False(t, ok)
}

func TestUnknownTagErrorMessage(t *testing.T) {
	err := &tagged.UnknownTagError{Tag: 0x2a}
	assert.Contains(t, err.Error(), "0x2a")
}
