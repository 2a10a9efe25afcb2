package main

import (
	"fmt"
	"os"

	"github.com/nixops-forge/nix-remote-proxy/internal/diagnostics"
	"github.com/nixops-forge/nix-remote-proxy/pkg/nar"
)

// InspectDiffCmd structurally compares two NAR archive captures — e.g. one
// streamed through the proxy and one captured independently — without caring
// whether the bytes of any one file's contents matched exactly, only the
// archive's shape.
type InspectDiffCmd struct {
	A string `arg:"" help:"Path to the first NAR archive."`
	B string `arg:"" help:"Path to the second NAR archive."`
}

func (c *InspectDiffCmd) Run() error {
	fa, err := os.Open(c.A)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.A, err)
	}
	defer fa.Close()

	fb, err := os.Open(c.B)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.B, err)
	}
	defer fb.Close()

	treeA, err := nar.DecodeTree(fa)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.A, err)
	}

	treeB, err := nar.DecodeTree(fb)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.B, err)
	}

	result, err := diagnostics.CompareTrees(treeA, treeB)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	if result.Equal {
		fmt.Println("archives match")

		return nil
	}

	fmt.Println(result.Report)

	return fmt.Errorf("archives differ")
}
