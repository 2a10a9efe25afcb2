// Package diagnostics compares two decoded protocol records structurally,
// rendering a JSON diff. It backs the `inspect-diff` CLI subcommand (e.g.
// "does one captured NAR archive match another, structurally, ignoring
// exact file-content bytes") and test fixture comparisons. It is a library
// capability only: the Proxy Driver's forwarding path never parses NAR
// contents or canonicalizes a response, it stays byte-for-byte.
package diagnostics

import (
	"encoding/json"
	"fmt"

	"github.com/nixops-forge/nix-remote-proxy/pkg/nar"
	"github.com/nsf/jsondiff"
)

// Result is the outcome of comparing two records.
type Result struct {
	Equal  bool
	Report string
}

// CompareJSON structurally diffs two arbitrary JSON-marshalable values, such
// as a daemon.PathInfo from a proxied response next to one read directly
// from a reference daemon.
func CompareJSON(a, b any) (Result, error) {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return Result{}, fmt.Errorf("diagnostics: marshal first value: %w", err)
	}

	bJSON, err := json.Marshal(b)
	if err != nil {
		return Result{}, fmt.Errorf("diagnostics: marshal second value: %w", err)
	}

	opts := jsondiff.DefaultConsoleOptions()

	diff, report := jsondiff.Compare(aJSON, bJSON, &opts)

	return Result{
		Equal:  diff == jsondiff.FullMatch,
		Report: report,
	}, nil
}

// treeView is the JSON-friendly projection of a nar.Tree: Tree itself is
// already exported-field-only, but treeView exists so contents render as a
// length instead of a base64 blob swamping the diff report.
type treeView struct {
	Kind       string      `json:"kind"`
	Executable bool        `json:"executable,omitempty"`
	ContentLen int         `json:"content_len,omitempty"`
	Target     string      `json:"target,omitempty"`
	Entries    []entryView `json:"entries,omitempty"`
}

type entryView struct {
	Name string    `json:"name"`
	Node *treeView `json:"node"`
}

func toView(t *nar.Tree) *treeView {
	if t == nil {
		return nil
	}

	v := &treeView{
		Kind:       t.Kind,
		Executable: t.Executable,
		ContentLen: len(t.Contents),
		Target:     t.Target,
	}

	for _, e := range t.Entries {
		v.Entries = append(v.Entries, entryView{Name: e.Name, Node: toView(e.Node)})
	}

	return v
}

// CompareTrees structurally diffs two decoded NAR archives without
// comparing file contents byte-for-byte (only their lengths), which keeps
// the report readable for archives with large files.
func CompareTrees(a, b *nar.Tree) (Result, error) {
	return CompareJSON(toView(a), toView(b))
}
