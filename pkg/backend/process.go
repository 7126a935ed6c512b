// Package backend manages the child processes that make up the local scrape
// backend: the job-queue broker, the queue workers, and the HTTP API server.
package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Spec is the immutable launch specification for a managed process.
type Spec struct {
	Name    string
	Role    Role
	Command []string
	Cwd     string
	Env     map[string]string
}

// Process is a single supervised child process. The supervisor owns it
// exclusively; nothing else may signal it or touch its handle.
//
// The exit of the underlying OS process is reported exactly once by closing
// the channel returned from Done, which lets shutdown race a grace timer
// against process exit with a plain select.
type Process struct {
	spec Spec

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done    chan struct{}
	exitErr error

	stdoutPath string
	stderrPath string
}

func NewProcess(spec Spec) *Process {
	return &Process{
		spec:  spec,
		state: Unstarted,
		done:  make(chan struct{}),
	}
}

func (p *Process) Name() string { return p.spec.Name }
func (p *Process) Role() Role   { return p.spec.Role }
func (p *Process) Spec() Spec   { return p.spec }

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the OS pid, or 0 if the process was never started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

func (p *Process) StdoutLog() string { return p.stdoutPath }
func (p *Process) StderrLog() string { return p.stderrPath }

// Done is closed exactly once, when the OS process has been observed to exit.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr is only meaningful after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Exited reports whether the process has been observed to exit, without
// blocking.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Start spawns the process as a process group leader with stdout/stderr
// captured to log files under logsDir. The primary output channel stays
// clean for protocol responses.
func (p *Process) Start(ctx context.Context, logsDir string) error {
	if len(p.spec.Command) == 0 {
		return errors.Errorf("process %q missing command", p.spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "start %s", p.spec.Name)
	}

	p.mu.Lock()
	if p.state != Unstarted {
		p.mu.Unlock()
		return errors.Errorf("process %q already started (state %s)", p.spec.Name, p.state)
	}
	p.state = Starting
	p.mu.Unlock()

	ts := time.Now().Format("20060102-150405")
	p.stdoutPath = filepath.Join(logsDir, p.spec.Name+"-"+ts+".stdout.log")
	p.stderrPath = filepath.Join(logsDir, p.spec.Name+"-"+ts+".stderr.log")

	stdoutFile, err := os.OpenFile(p.stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		p.fail()
		return errors.Wrap(err, "open stdout log")
	}
	stderrFile, err := os.OpenFile(p.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = stdoutFile.Close()
		p.fail()
		return errors.Wrap(err, "open stderr log")
	}

	// Not CommandContext: the process must outlive the Start call's context,
	// and termination is the shutdown coordinator's job.
	// #nosec G204 -- commands come from the resolved backend config.
	cmd := exec.Command(p.spec.Command[0], p.spec.Command[1:]...)
	cmd.Dir = p.spec.Cwd
	cmd.Env = mergeEnv(os.Environ(), p.spec.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		p.fail()
		return errors.Wrapf(err, "start %s", p.spec.Name)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.state = Running
	p.mu.Unlock()

	log.Info().Str("process", p.spec.Name).Str("role", string(p.spec.Role)).Int("pid", p.pid).Msg("process started")

	go func() {
		err := cmd.Wait()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()

		p.mu.Lock()
		p.exitErr = err
		if p.state == Stopping {
			p.state = Stopped
		} else if err != nil {
			p.state = Failed
		} else {
			p.state = Stopped
		}
		p.cmd = nil // handle released once exit is observed
		p.mu.Unlock()

		log.Debug().Str("process", p.spec.Name).Int("pid", p.pid).Err(err).Msg("process exited")
		close(p.done)
	}()

	return nil
}

// MarkStopping records that termination has been requested. Exit observed
// after this resolves to Stopped rather than Failed.
func (p *Process) MarkStopping() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running || p.state == Starting {
		p.state = Stopping
	}
}

// SignalGroup delivers sig to the whole process group, falling back to the
// single pid when the group is gone.
func (p *Process) SignalGroup(sig syscall.Signal) error {
	pid := p.PID()
	if pid <= 0 {
		return errors.Errorf("process %q has no pid", p.spec.Name)
	}
	if pgid, err := syscall.Getpgid(pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return syscall.Kill(pid, sig)
}

func (p *Process) fail() {
	p.mu.Lock()
	p.state = Failed
	p.mu.Unlock()
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
