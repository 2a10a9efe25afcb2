package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 0x0123456789abcdef))

	got, err := wire.ReadUint64(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789abcdef), got)
}

func TestWriteUint64LittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 1))
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
}

func TestWriteReadBoolRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteBool(&buf, true))
	require.NoError(t, wire.WriteBool(&buf, false))

	a, err := wire.ReadBool(&buf)
	require.NoError(t, err)
	assert.True(t, a)

	b, err := wire.ReadBool(&buf)
	require.NoError(t, err)
	assert.False(t, b)
}

func TestReadBoolAnyNonzeroIsTrue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 42))

	got, err := wire.ReadBool(&buf)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestWriteReadStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, "nix-archive-1"))

	got, err := wire.ReadString(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, "nix-archive-1", got)
}

func TestWriteStringEmptyString(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, ""))

	// Length 0, no content, no padding: exactly one uint64 of zero.
	assert.Equal(t, 8, buf.Len())

	got, err := wire.ReadString(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestWriteStringPaddingLengthOneString(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, "x"))

	// 8 bytes length + 1 byte content + 7 bytes padding == 16.
	assert.Equal(t, 16, buf.Len())

	got, err := wire.ReadString(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestWriteStringExactlyEightBytesNoPadding(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, "12345678"))

	// 8 bytes length + 8 bytes content + 0 padding == 16.
	assert.Equal(t, 16, buf.Len())
}

func TestReadStringRejectsOverLongDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, "this string is definitely too long"))

	_, err := wire.ReadString(&buf, 4)
	assert.ErrorIs(t, err, wire.ErrStringTooLong)
}

func TestReadBytesRejectsNonZeroPadding(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 1))
	buf.WriteByte('x')
	buf.Write([]byte{1, 0, 0, 0, 0, 0, 0}) // corrupt padding: first byte nonzero

	_, err := wire.ReadBytes(&buf, 1024)
	assert.ErrorIs(t, err, wire.ErrInvalidPadding)
}

func TestWriteReadBytesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	require.NoError(t, wire.WriteBytes(&buf, want))

	got, err := wire.ReadBytes(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadStringTruncatedInputIsError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 100))
	buf.WriteString("short")

	_, err := wire.ReadString(&buf, 1024)
	assert.Error(t, err)
}

func TestWriteReadStringLongValue(t *testing.T) {
	var buf bytes.Buffer
	long := strings.Repeat("ab", 1000)
	require.NoError(t, wire.WriteString(&buf, long))

	got, err := wire.ReadString(&buf, uint64(len(long)))
	require.NoError(t, err)
	assert.Equal(t, long, got)
}
