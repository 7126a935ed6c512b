package proc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRead_Self(t *testing.T) {
	s, err := Read(os.Getpid(), nil)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), s.PID)
	require.NotEmpty(t, s.State)
	require.Greater(t, s.MemoryMB, int64(0))
	require.Greater(t, s.Threads, 0)
	require.Zero(t, s.CPUPercent) // no tracker, no rate
}

func TestRead_InvalidPID(t *testing.T) {
	_, err := Read(0, nil)
	require.Error(t, err)

	// A pid that almost certainly does not exist.
	_, err = Read(1<<22-1, nil)
	require.Error(t, err)
}

func TestRead_TrackerComputesCPU(t *testing.T) {
	tracker := NewTracker()

	_, err := Read(os.Getpid(), tracker)
	require.NoError(t, err)

	// Burn a little CPU between samples.
	deadline := time.Now().Add(100 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	s, err := Read(os.Getpid(), tracker)
	require.NoError(t, err)
	require.GreaterOrEqual(t, s.CPUPercent, 0.0)
}

func TestReadAll_SkipsExited(t *testing.T) {
	out := ReadAll([]int{os.Getpid(), 1 << 22}, nil)
	require.Contains(t, out, os.Getpid())
	require.NotContains(t, out, 1<<22)
}
