package main

import (
	"fmt"

	"github.com/nixops-forge/nix-remote-proxy/internal/journal"
)

// HistoryCmd queries a journal database written by a previous `serve
// --journal=<path>` run.
type HistoryCmd struct {
	Path  string `arg:"" help:"Path to the journal sqlite3 database."`
	Limit int    `help:"Number of most recent operations to show (0 = all)." default:"20"`
}

func (c *HistoryCmd) Run() error {
	j, err := journal.Open(c.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.History(c.Limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	for _, e := range entries {
		fmt.Printf("%s  %-24s  session=%s  bytes=%d  outcome=%s  duration=%s\n",
			e.FinishedAt.Format("2006-01-02T15:04:05"),
			e.Op.String(),
			e.SessionID,
			e.Bytes,
			e.Outcome,
			e.FinishedAt.Sub(e.StartedAt),
		)
	}

	return nil
}
