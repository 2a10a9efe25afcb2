package journal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nixops-forge/nix-remote-proxy/internal/journal"
	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { j.Close() })

	return j
}

func TestRecordAndHistory(t *testing.T) {
	j := openTestJournal(t)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(50 * time.Millisecond)

	require.NoError(t, j.Record(journal.Entry{
		SessionID:  "sess-1",
		Op:         daemon.OpIsValidPath,
		StartedAt:  start,
		FinishedAt: end,
		Bytes:      128,
		Outcome:    "ok",
	}))

	history, err := j.History(0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	entry := history[0]
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, daemon.OpIsValidPath, entry.Op)
	assert.Equal(t, int64(128), entry.Bytes)
	assert.Equal(t, "ok", entry.Outcome)
}

func TestHistoryNewestFirst(t *testing.T) {
	j := openTestJournal(t)

	base := time.Unix(1700000000, 0).UTC()

	for i, op := range []daemon.Operation{daemon.OpIsValidPath, daemon.OpQueryPathInfo, daemon.OpBuildPaths} {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, j.Record(journal.Entry{
			SessionID:  "sess-1",
			Op:         op,
			StartedAt:  ts,
			FinishedAt: ts,
			Bytes:      1,
			Outcome:    "ok",
		}))
	}

	history, err := j.History(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, daemon.OpBuildPaths, history[0].Op)
	assert.Equal(t, daemon.OpQueryPathInfo, history[1].Op)
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := journal.Open(path)
	require.NoError(t, err)
	j1.Close()

	j2, err := journal.Open(path)
	require.NoError(t, err)
	defer j2.Close()

	history, err := j2.History(0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
