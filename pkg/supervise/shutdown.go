package supervise

import (
	"context"
	"syscall"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/backend"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// How long after SIGKILL we keep watching for the exit before declaring the
// process unkillable. Surviving SIGKILL is an operational anomaly (typically
// an uninterruptible kernel wait), not something escalation can fix.
const killConfirmTimeout = 2 * time.Second

// terminate drives a single process from running to exited: SIGTERM to the
// process group, then a race between the exit channel and the grace timer,
// then SIGKILL if the timer wins. The timer losing means no SIGKILL is ever
// sent, regardless of which signal made the process exit.
func terminate(ctx context.Context, p *backend.Process, grace time.Duration) error {
	if !p.State().Active() {
		return nil
	}
	p.MarkStopping()

	if err := p.SignalGroup(syscall.SIGTERM); err != nil {
		log.Debug().Str("process", p.Name()).Err(err).Msg("SIGTERM delivery failed; process likely gone")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		// Signal already delivered; the caller gave up on confirming exit.
		return errors.Wrapf(ctx.Err(), "terminate %s", p.Name())
	case <-timer.C:
		log.Warn().Str("process", p.Name()).Dur("grace", grace).Msg("grace period expired, sending SIGKILL")
	}

	if err := p.SignalGroup(syscall.SIGKILL); err != nil {
		log.Debug().Str("process", p.Name()).Err(err).Msg("SIGKILL delivery failed; process likely gone")
	}

	confirm := time.NewTimer(killConfirmTimeout)
	defer confirm.Stop()
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "terminate %s", p.Name())
	case <-confirm.C:
		return errors.Errorf("process %s (pid %d) survived SIGKILL", p.Name(), p.PID())
	}
}

// terminateBatch terminates every process concurrently with independent
// grace timers and waits for all of them, so a batch costs the longest
// single grace period rather than the sum.
func terminateBatch(ctx context.Context, procs []*backend.Process, grace time.Duration) error {
	// Not errgroup.WithContext: one process failing to die must not cancel
	// the waits on its siblings.
	var g errgroup.Group
	for _, p := range procs {
		g.Go(func() error { return terminate(ctx, p, grace) })
	}
	return g.Wait()
}

// TerminatePID terminates a process group crawlctl no longer holds a handle
// for (a pid recorded in a previous invocation's state file). Exit is
// observed by polling since there is no exit channel to wait on.
func TerminatePID(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, pgErr := syscall.Getpgid(pid)
	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if waitDead(ctx, pid, grace) {
		return nil
	}
	log.Warn().Int("pid", pid).Dur("grace", grace).Msg("grace period expired, sending SIGKILL")

	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	if waitDead(ctx, pid, killConfirmTimeout) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "terminate pid %d", pid)
	}
	return errors.Errorf("pid %d survived SIGKILL", pid)
}

func waitDead(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		if !state.ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !state.ProcessAlive(pid)
		case <-t.C:
		}
	}
}
