package nar

import (
	"io"
	"sort"

	"github.com/nixops-forge/nix-remote-proxy/pkg/wire"
)

// Tree is an in-memory NAR node. It is not used by the Proxy Driver's
// forwarding path (that stays streaming-only, per Copy); it exists for
// tests and for internal/diagnostics, which need to compare two archives
// structurally rather than byte-for-byte.
type Tree struct {
	// Kind is one of "regular", "symlink", or "directory".
	Kind string

	// Regular file fields.
	Executable bool
	Contents   []byte

	// Symlink field.
	Target string

	// Directory field, in the order encountered on the wire.
	Entries []TreeEntry
}

// TreeEntry is one named child of a directory Tree.
type TreeEntry struct {
	Name string
	Node *Tree
}

// DecodeTree buffers one complete NAR archive from r into a Tree. Intended
// for tests and diagnostics, not for the streaming forward path.
func DecodeTree(r io.Reader) (*Tree, error) {
	root := &Tree{}

	if err := Decode(r, root); err != nil {
		return nil, err
	}

	return root, nil
}

// EncodeTree writes t to w in canonical form: directory entries sorted by
// name, matching the order the real Nix daemon produces.
func EncodeTree(w io.Writer, t *Tree) error {
	if err := wire.WriteString(w, magic); err != nil {
		return err
	}

	return encodeNode(w, t)
}

func encodeNode(w io.Writer, t *Tree) error {
	if err := wire.WriteString(w, "("); err != nil {
		return err
	}

	if err := wire.WriteString(w, "type"); err != nil {
		return err
	}

	switch t.Kind {
	case "regular":
		if err := wire.WriteString(w, "regular"); err != nil {
			return err
		}

		if t.Executable {
			if err := wire.WriteString(w, "executable"); err != nil {
				return err
			}

			if err := wire.WriteString(w, ""); err != nil {
				return err
			}
		}

		if len(t.Contents) > 0 {
			if err := wire.WriteString(w, "contents"); err != nil {
				return err
			}

			if err := wire.WriteBytes(w, t.Contents); err != nil {
				return err
			}
		}
	case "symlink":
		if err := wire.WriteString(w, "symlink"); err != nil {
			return err
		}

		if err := wire.WriteString(w, "target"); err != nil {
			return err
		}

		if err := wire.WriteString(w, t.Target); err != nil {
			return err
		}
	case "directory":
		if err := wire.WriteString(w, "directory"); err != nil {
			return err
		}

		entries := append([]TreeEntry(nil), t.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		for _, e := range entries {
			if err := wire.WriteString(w, "entry"); err != nil {
				return err
			}

			if err := wire.WriteString(w, "("); err != nil {
				return err
			}

			if err := wire.WriteString(w, "name"); err != nil {
				return err
			}

			if err := wire.WriteString(w, e.Name); err != nil {
				return err
			}

			if err := wire.WriteString(w, "node"); err != nil {
				return err
			}

			if err := encodeNode(w, e.Node); err != nil {
				return err
			}

			if err := wire.WriteString(w, ")"); err != nil {
				return err
			}
		}
	}

	return wire.WriteString(w, ")")
}

// BecomeDirectory implements EntrySink.
func (t *Tree) BecomeDirectory() DirectorySink {
	t.Kind = "directory"

	return (*treeDir)(t)
}

// BecomeFile implements EntrySink.
func (t *Tree) BecomeFile() FileSink {
	t.Kind = "regular"

	return (*treeFile)(t)
}

// BecomeSymlink implements EntrySink.
func (t *Tree) BecomeSymlink(target string) {
	t.Kind = "symlink"
	t.Target = target
}

type treeDir Tree

func (d *treeDir) CreateEntry(name string) EntrySink {
	child := &Tree{}
	d.Entries = append(d.Entries, TreeEntry{Name: name, Node: child})

	return child
}

type treeFile Tree

func (f *treeFile) Write(p []byte) (int, error) {
	f.Contents = append(f.Contents, p...)

	return len(p), nil
}

func (f *treeFile) SetExecutable(executable bool) {
	f.Executable = executable
}
