package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/nixops-forge/nix-remote-proxy/internal/journal"
	"github.com/nixops-forge/nix-remote-proxy/internal/negcache"
	"github.com/nixops-forge/nix-remote-proxy/internal/plog"
	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/nixops-forge/nix-remote-proxy/pkg/proxy"
	"github.com/nixops-forge/nix-remote-proxy/pkg/session"
)

// ServeCmd runs the proxy on stdin/stdout, speaking the front-side handshake
// to whatever invoked it and spawning a daemon subprocess for the back
// side — the "single invocation starts the proxy on stdin/stdout" surface
// spec.md §6 describes, plus the process-spawning and configuration-env
// concerns §1 calls out as the core's external collaborators.
type ServeCmd struct {
	Daemon     string `help:"Daemon binary to spawn for the back side." default:"nix-daemon"`
	SelfID     string `help:"Self-identification string sent to the client during handshake." default:"nix-remote-proxy"`
	Journal    string `help:"Path to a sqlite3 audit trail, or \"auto\" for the XDG default. Empty disables it." default:""`
	Negcache   string `help:"Path to a badger negotiation cache dir, or \"auto\" for the XDG default. Empty disables it." default:""`
	LogLevel   string `help:"debug, info, warn, or error." default:"info"`
	LogFormat  string `help:"text or json." default:"text"`
}

func (c *ServeCmd) Run() error {
	plog.Init(plog.Config{Level: c.LogLevel, Format: c.LogFormat})
	log := plog.Default()

	// Configuration environment (spec §6): the target-store identifier is
	// the only environment variable the core recognizes, and its absence is
	// a clean startup refusal rather than something the protocol engine
	// discovers mid-handshake.
	storeTarget := os.Getenv("NIX_REMOTE")
	if storeTarget == "" {
		return fmt.Errorf("NIX_REMOTE is not set; refusing to start without a target store")
	}

	var j *journal.Journal

	if path := resolveJournalPath(c.Journal); path != "" {
		var err error

		j, err = journal.Open(path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}

		defer j.Close()

		log.Info("journal enabled", "path", path)
	}

	var nc *negcache.Cache

	if dir := resolveNegcacheDir(c.Negcache); dir != "" {
		var err error

		nc, err = negcache.Open(dir)
		if err != nil {
			return fmt.Errorf("open negotiation cache: %w", err)
		}

		defer nc.Close()

		log.Info("negotiation cache enabled", "dir", dir)
	}

	cmd := exec.Command(c.Daemon, "--stdio")
	cmd.Env = append(os.Environ(), "NIX_REMOTE="+storeTarget)
	cmd.Stderr = os.Stderr

	daemonStdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open daemon stdin: %w", err)
	}

	daemonStdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open daemon stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", c.Daemon, err)
	}

	front, err := session.NewFront(os.Stdin, os.Stdout, c.SelfID)
	if err != nil {
		return fmt.Errorf("front handshake: %w", err)
	}

	back, err := session.NewBack(daemonStdout, daemonStdin)
	if err != nil {
		return fmt.Errorf("back handshake: %w", err)
	}

	if nc != nil {
		seen := negcache.Seen{Version: back.Info.Version, PeerID: back.Info.PeerID}

		prev, ok, err := nc.Lookup(c.Daemon)
		if err != nil {
			log.Warn("negotiation cache lookup failed", "error", err)
		} else if ok && prev != seen {
			log.Info("daemon version changed since last run",
				"previous_version", prev.Version, "previous_peer_id", prev.PeerID,
				"version", seen.Version, "peer_id", seen.PeerID)
		}

		if err := nc.Record(c.Daemon, seen); err != nil {
			log.Warn("negotiation cache record failed", "error", err)
		}
	}

	sessionID := fmt.Sprintf("pid-%d", os.Getpid())

	driver := proxy.New(front, back)
	driver.OnOperation = func(op daemon.Operation, started, finished time.Time, bytes int64, outcome string) {
		log.Debug("operation relayed", "op", op.String(), "bytes", bytes, "outcome", outcome)

		if j == nil {
			return
		}

		if err := j.Record(journal.Entry{
			SessionID:  sessionID,
			Op:         op,
			StartedAt:  started,
			FinishedAt: finished,
			Bytes:      bytes,
			Outcome:    outcome,
		}); err != nil {
			log.Warn("journal record failed", "error", err)
		}
	}

	runErr := driver.Run()

	daemonStdin.Close()

	waitErr := cmd.Wait()
	if runErr != nil {
		return fmt.Errorf("proxy: %w", runErr)
	}

	if waitErr != nil && !strings.Contains(waitErr.Error(), "signal") {
		return fmt.Errorf("%s exited: %w", c.Daemon, waitErr)
	}

	return nil
}

func resolveJournalPath(flag string) string {
	if flag == "" {
		return ""
	}

	if flag != "auto" {
		return flag
	}

	path, err := xdg.DataFile("nix-remote-proxy/journal.db")
	if err != nil {
		return ""
	}

	return path
}

func resolveNegcacheDir(flag string) string {
	if flag == "" {
		return ""
	}

	if flag != "auto" {
		return flag
	}

	path, err := xdg.CacheFile("nix-remote-proxy/negcache")
	if err != nil {
		return ""
	}

	return path
}
