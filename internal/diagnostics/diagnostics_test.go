package diagnostics_test

import (
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/internal/diagnostics"
	"github.com/nixops-forge/nix-remote-proxy/pkg/nar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareJSONFullMatch(t *testing.T) {
	type pathInfo struct {
		StorePath string
		NarSize   uint64
	}

	a := pathInfo{StorePath: "/nix/store/abc-foo", NarSize: 128}
	b := pathInfo{StorePath: "/nix/store/abc-foo", NarSize: 128}

	res, err := diagnostics.CompareJSON(a, b)
	require.NoError(t, err)
	assert.True(t, res.Equal)
}

func TestCompareJSONMismatch(t *testing.T) {
	type pathInfo struct {
		StorePath string
		NarSize   uint64
	}

	a := pathInfo{StorePath: "/nix/store/abc-foo", NarSize: 128}
	b := pathInfo{StorePath: "/nix/store/abc-foo", NarSize: 256}

	res, err := diagnostics.CompareJSON(a, b)
	require.NoError(t, err)
	assert.False(t, res.Equal)
	assert.NotEmpty(t, res.Report)
}

func TestCompareTreesIgnoresFileContentBytesButNotLength(t *testing.T) {
	a := &nar.Tree{Kind: "regular", Contents: []byte("hello")}
	b := &nar.Tree{Kind: "regular", Contents: []byte("world")}

	res, err := diagnostics.CompareTrees(a, b)
	require.NoError(t, err)
	assert.True(t, res.Equal, "same kind and content length should match despite different bytes")

	c := &nar.Tree{Kind: "regular", Contents: []byte("hello!")}
	res, err = diagnostics.CompareTrees(a, c)
	require.NoError(t, err)
	assert.False(t, res.Equal, "different content length must not match")
}

func TestCompareTreesDirectoryStructure(t *testing.T) {
	a := &nar.Tree{
		Kind: "directory",
		Entries: []nar.TreeEntry{
			{Name: "bin", Node: &nar.Tree{Kind: "directory"}},
			{Name: "hello", Node: &nar.Tree{Kind: "regular", Contents: []byte("x")}},
		},
	}
	b := &nar.Tree{
		Kind: "directory",
		Entries: []nar.TreeEntry{
			{Name: "bin", Node: &nar.Tree{Kind: "directory"}},
			{Name: "hello", Node: &nar.Tree{Kind: "regular", Contents: []byte("y")}},
		},
	}

	res, err := diagnostics.CompareTrees(a, b)
	require.NoError(t, err)
	assert.True(t, res.Equal)

	b.Entries[1].Node.Kind = "symlink"
	res, err = diagnostics.CompareTrees(a, b)
	require.NoError(t, err)
	assert.False(t, res.Equal)
}
