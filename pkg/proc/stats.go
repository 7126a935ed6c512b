// Package proc samples /proc/<pid>/stat for the status view.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Sample is one observation of a backend process.
type Sample struct {
	PID        int     `json:"pid"`
	State      string  `json:"state"`       // R, S, D, Z, T, ...
	CPUPercent float64 `json:"cpu_percent"` // needs two samples via Tracker
	MemoryMB   int64   `json:"memory_mb"`   // resident set, megabytes
	Threads    int     `json:"threads"`
}

// Tracker keeps per-pid CPU time snapshots so CPUPercent can be derived
// from consecutive samples.
type Tracker struct {
	prev map[int]snapshot
}

type snapshot struct {
	jiffies uint64 // utime+stime
	taken   time.Time
}

func NewTracker() *Tracker {
	return &Tracker{prev: make(map[int]snapshot)}
}

// Linux userspace jiffy rate; /proc stat times are reported in these units.
const clockTicksPerSecond = 100.0

// Read samples one pid. A nil tracker yields CPUPercent 0 on every call.
func Read(pid int, tracker *Tracker) (*Sample, error) {
	if pid <= 0 {
		return nil, errors.New("invalid pid")
	}
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil, errors.Wrap(err, "read stat")
	}

	// pid (comm) state ppid ... ; comm may contain spaces and parens, so
	// split after the last ')'.
	content := string(raw)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat: no closing paren")
	}
	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 22 {
		return nil, errors.Errorf("malformed stat: %d fields after comm", len(fields))
	}

	// Indices after comm: 0 state, 11 utime, 12 stime, 17 num_threads, 21 rss.
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse utime")
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse stime")
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	rssPages, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	s := &Sample{
		PID:      pid,
		State:    fields[0][:1],
		MemoryMB: rssPages * int64(os.Getpagesize()) / (1024 * 1024),
		Threads:  threads,
	}

	if tracker != nil {
		now := time.Now()
		total := utime + stime
		if prev, ok := tracker.prev[pid]; ok {
			if elapsed := now.Sub(prev.taken).Seconds(); elapsed > 0 {
				cpuSeconds := float64(total-prev.jiffies) / clockTicksPerSecond
				s.CPUPercent = cpuSeconds / elapsed * 100.0
			}
		}
		tracker.prev[pid] = snapshot{jiffies: total, taken: now}
	}

	return s, nil
}

// ReadAll samples every pid, skipping those that have exited.
func ReadAll(pids []int, tracker *Tracker) map[int]*Sample {
	out := make(map[int]*Sample, len(pids))
	for _, pid := range pids {
		s, err := Read(pid, tracker)
		if err != nil {
			continue
		}
		out[pid] = s
	}
	return out
}
