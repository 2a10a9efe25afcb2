package plog_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/internal/plog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTextFormat(t *testing.T) {
	var buf bytes.Buffer
	plog.Init(plog.Config{Level: "info", Format: "text", Output: &buf})

	plog.Default().Info("handshake complete", "version", uint64(0x122))

	out := buf.String()
	assert.Contains(t, out, "handshake complete")
	assert.Contains(t, out, "version=290")
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	plog.Init(plog.Config{Level: "info", Format: "json", Output: &buf})

	plog.Default().Info("op relayed", "op", "IsValidPath")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "op relayed", decoded["msg"])
	assert.Equal(t, "IsValidPath", decoded["op"])
}

func TestInitLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	plog.Init(plog.Config{Level: "warn", Format: "text", Output: &buf})

	plog.Default().Debug("should not appear")
	plog.Default().Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSessionCarriesIDAndRole(t *testing.T) {
	var buf bytes.Buffer
	plog.Init(plog.Config{Level: "info", Format: "json", Output: &buf})

	plog.Session("sess-1", "front").Info("op relayed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "sess-1", decoded["session"])
	assert.Equal(t, "front", decoded["role"])
}

func TestDefaultSurvivesBeforeInit(t *testing.T) {
	// Default must never be nil even if Init is never called; logging to
	// stderr is an acceptable default, just not a panic.
	assert.NotPanics(t, func() {
		plog.Default().Info("fallback logger works")
	})
}

func TestParseLevelCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	plog.Init(plog.Config{Level: "DEBUG", Format: "text", Output: &buf})

	plog.Default().Debug("visible at debug")
	assert.True(t, strings.Contains(buf.String(), "visible at debug"))
}
