package nar_test

import (
	"bytes"
	"testing"

	"github.com/nixops-forge/nix-remote-proxy/pkg/nar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTreeRegularFileRoundTrip(t *testing.T) {
	tree := &nar.Tree{Kind: "regular", Contents: []byte("hello world")}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestEncodeDecodeTreeExecutableFile(t *testing.T) {
	tree := &nar.Tree{Kind: "regular", Executable: true, Contents: []byte("#!/bin/sh\n")}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.True(t, got.Executable)
	assert.Equal(t, tree.Contents, got.Contents)
}

func TestEncodeDecodeTreeEmptyFile(t *testing.T) {
	tree := &nar.Tree{Kind: "regular"}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, "regular", got.Kind)
	assert.Empty(t, got.Contents)
}

func TestEncodeDecodeTreeSymlink(t *testing.T) {
	tree := &nar.Tree{Kind: "symlink", Target: "/nix/store/abc-dep"}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestEncodeDecodeTreeEmptyDirectory(t *testing.T) {
	tree := &nar.Tree{Kind: "directory"}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, "directory", got.Kind)
	assert.Empty(t, got.Entries)
}

func TestEncodeTreeSortsDirectoryEntriesByName(t *testing.T) {
	tree := &nar.Tree{
		Kind: "directory",
		Entries: []nar.TreeEntry{
			{Name: "zeta", Node: &nar.Tree{Kind: "regular"}},
			{Name: "alpha", Node: &nar.Tree{Kind: "regular"}},
			{Name: "mid", Node: &nar.Tree{Kind: "regular"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{
		got.Entries[0].Name, got.Entries[1].Name, got.Entries[2].Name,
	})
}

func TestEncodeDecodeTreeNestedDirectory(t *testing.T) {
	tree := &nar.Tree{
		Kind: "directory",
		Entries: []nar.TreeEntry{
			{Name: "bin", Node: &nar.Tree{
				Kind: "directory",
				Entries: []nar.TreeEntry{
					{Name: "tool", Node: &nar.Tree{Kind: "regular", Executable: true, Contents: []byte("bin")}},
				},
			}},
			{Name: "link", Node: &nar.Tree{Kind: "symlink", Target: "bin/tool"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, nar.EncodeTree(&buf, tree))

	got, err := nar.DecodeTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}
