package state

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRemove(t *testing.T) {
	dir := t.TempDir()

	st := &State{
		RepoRoot:  dir,
		BrokerURL: "redis://127.0.0.1:6379",
		APIPort:   3002,
		CreatedAt: time.Now(),
		Processes: []ProcessRecord{
			{Name: "broker", Role: "broker", External: true},
			{Name: "worker-0", Role: "worker", PID: 1234, Command: []string{"node", "worker.js"}},
			{Name: "api", Role: "api", PID: 1235, StdoutLog: "/tmp/api.stdout.log"},
		},
	}
	require.NoError(t, Save(dir, st))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, st.BrokerURL, loaded.BrokerURL)
	require.Equal(t, st.APIPort, loaded.APIPort)
	require.Len(t, loaded.Processes, 3)
	require.True(t, loaded.Processes[0].External)
	require.Equal(t, 1234, loaded.Processes[1].PID)

	require.NoError(t, Remove(dir))
	_, err = Load(dir)
	require.Error(t, err)

	// Removing twice is fine.
	require.NoError(t, Remove(dir))
}

func TestSanitizeEnv(t *testing.T) {
	got := SanitizeEnv(map[string]string{
		"BROKER_URL":     "redis://127.0.0.1:6379",
		"API_AUTH_TOKEN": "hunter2",
		"PORT":           "3002",
	})
	require.Equal(t, "redis://127.0.0.1:6379", got["BROKER_URL"])
	require.Equal(t, "[REDACTED]", got["API_AUTH_TOKEN"])
	require.Equal(t, "3002", got["PORT"])

	require.Nil(t, SanitizeEnv(nil))
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(0))
	require.False(t, ProcessAlive(-1))

	// A exited-and-reaped pid; spawn and wait to get one.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	require.False(t, ProcessAlive(cmd.Process.Pid))
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	lines, err := TailLines(path, 2, 1<<20)
	require.NoError(t, err)
	require.Equal(t, []string{"three", "four"}, lines)

	lines, err = TailLines(path, 10, 1<<20)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	_, err = TailLines(filepath.Join(dir, "missing.txt"), 2, 1<<20)
	require.Error(t, err)
}

func TestTailLines_RespectsMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("aaaa\nbbbb\ncccc\n"), 0o644))

	// Only the last 8 bytes are read; the partial line at the cut is dropped.
	lines, err := TailLines(path, 10, 8)
	require.NoError(t, err)
	require.Equal(t, []string{"cccc"}, lines)
}

func TestFilterSince(t *testing.T) {
	lines := []string{
		"2026-08-23 09:00:00 starting up",
		"2026-08-23 10:30:00 accepting connections",
		"no timestamp here",
		"2026-08-23 11:00:00 worker registered",
	}

	since := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	got := FilterSince(lines, since)
	require.Equal(t, []string{
		"2026-08-23 10:30:00 accepting connections",
		"no timestamp here",
		"2026-08-23 11:00:00 worker registered",
	}, got)

	// Zero time keeps everything.
	require.Equal(t, lines, FilterSince(lines, time.Time{}))
}
