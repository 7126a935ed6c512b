// Package state persists what the supervisor started so that down, status
// and logs can operate from a different invocation than up.
package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".crawlctl"
	StateFilename = "state.json"
	LogsDirName   = "logs"
)

type State struct {
	RepoRoot  string          `json:"repo_root"`
	BrokerURL string          `json:"broker_url"`
	APIPort   int             `json:"api_port"`
	CreatedAt time.Time       `json:"created_at"`
	Processes []ProcessRecord `json:"processes"`
}

type ProcessRecord struct {
	Name      string            `json:"name"`
	Role      string            `json:"role"` // "broker"|"worker"|"api"
	PID       int               `json:"pid"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"` // sanitized overlay, see SanitizeEnv
	StdoutLog string            `json:"stdout_log"`
	StderrLog string            `json:"stderr_log"`
	StartedAt time.Time         `json:"started_at,omitempty"`

	// External marks a process crawlctl found already running and did not
	// spawn (an externally-managed broker). It is never terminated by down.
	External bool `json:"external,omitempty"`
}

func StatePath(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, StateFilename)
}

func LogsDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, LogsDirName)
}

func Load(repoRoot string) (*State, error) {
	b, err := os.ReadFile(StatePath(repoRoot))
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &s, nil
}

func Save(repoRoot string, s *State) error {
	if s == nil {
		return errors.New("nil state")
	}
	dir := filepath.Dir(StatePath(repoRoot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := os.WriteFile(StatePath(repoRoot), b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	return nil
}

func Remove(repoRoot string) error {
	if err := os.Remove(StatePath(repoRoot)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

// ProcessAlive reports whether pid refers to a live (non-zombie) process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	// The state character follows the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(bytes.TrimSpace(b[i+1:]))
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
