// Package supervise brings up the local scrape backend (broker, workers,
// API server) in dependency order, gates on observed readiness, and tears
// the set down deterministically without leaking processes.
package supervise

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/crawlctl/pkg/backend"
	"github.com/go-go-golems/crawlctl/pkg/events"
	"github.com/go-go-golems/crawlctl/pkg/retry"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Phase is the supervisor's own lifecycle. Ready is the only phase in which
// client calls against the API server are expected to succeed.
type Phase int

const (
	Idle Phase = iota
	Starting
	Ready
	Stopping
	Stopped
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Supervisor owns the backend's managed processes for its whole lifetime.
// Its control flow is sequential; only shutdown fans out.
type Supervisor struct {
	cfg Config
	pub message.Publisher

	mu             sync.Mutex
	phase          Phase
	broker         *backend.Process // nil when an external broker is used
	workers        []*backend.Process
	api            *backend.Process
	externalBroker bool

	// Set exactly once, before any termination begins. Guards re-entrant
	// Stop calls racing each other (signal handler vs caller).
	shuttingDown atomic.Bool
}

// New builds a supervisor. pub may be nil; lifecycle events are then
// dropped.
func New(cfg Config, pub message.Publisher) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Supervisor{cfg: cfg, pub: pub, phase: Idle}, nil
}

func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Start spawns broker, workers, then the API server, strictly in that order:
// workers need a reachable broker, and the API server enqueues jobs that
// only get processed because workers are present. It returns only once the
// API server answers its readiness endpoint, or with a typed error after
// rolling back everything it spawned. No partially-up backend ever survives
// a failed Start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != Idle {
		phase := s.phase
		s.mu.Unlock()
		return errors.Errorf("supervisor already started (phase %s)", phase)
	}
	s.phase = Starting
	s.mu.Unlock()

	if err := os.MkdirAll(state.LogsDir(s.cfg.RepoRoot), 0o755); err != nil {
		s.setPhase(Failed)
		return errors.Wrap(err, "mkdir logs dir")
	}

	if err := s.startSequence(ctx); err != nil {
		s.rollback()
		s.setPhase(Failed)
		events.Publish(s.pub, events.Event{Type: events.BackendFailed, Detail: err.Error()})
		return err
	}

	// The Ready transition and the shutdown flag are checked under the same
	// lock terminateAll snapshots under, so a Stop that completed while we
	// gated on readiness can never be overwritten with Ready.
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		s.rollback()
		s.setPhase(Failed)
		return errShuttingDown
	}
	s.phase = Ready
	s.mu.Unlock()
	events.Publish(s.pub, events.Event{Type: events.BackendReady})
	log.Info().Int("workers", len(s.workers)).Bool("external_broker", s.externalBroker).Msg("backend ready")
	return nil
}

// errShuttingDown aborts a Start that lost a race against a concurrent
// Stop (typically signal-triggered). The failure path's rollback then
// terminates anything the Stop's snapshot may have missed.
var errShuttingDown = errors.New("shutting down")

func (s *Supervisor) startSequence(ctx context.Context) error {
	brokerAddr, err := s.cfg.brokerAddress()
	if err != nil {
		return err
	}

	if s.shuttingDown.Load() {
		return errShuttingDown
	}

	// An externally managed broker (system redis, docker compose) makes
	// spawning our own both useless and harmful. Probe before spawning.
	if retry.Do(ctx, s.cfg.BrokerDetect, retry.TCPProbe(brokerAddr)) == nil {
		s.externalBroker = true
		log.Info().Str("broker", brokerAddr).Msg("external broker detected, not spawning one")
		events.Publish(s.pub, events.Event{Type: events.StageReady, Process: "broker", Role: string(backend.RoleBroker), Detail: "external"})
	} else {
		if err := s.spawnBroker(ctx); err != nil {
			return err
		}
		if err := retry.Do(ctx, s.cfg.BrokerStartup, retry.TCPProbe(brokerAddr)); err != nil {
			return s.brokerWaitError(brokerAddr, err)
		}
		events.Publish(s.pub, events.Event{Type: events.StageReady, Process: s.broker.Name(), Role: string(backend.RoleBroker), PID: s.broker.PID()})
	}

	// Accepting connections is not the same as being able to serve queue
	// metadata; give the broker a settle delay before workers enumerate
	// queues.
	if err := s.settle(ctx); err != nil {
		return err
	}

	for i := 0; i < s.cfg.Workers; i++ {
		if s.shuttingDown.Load() {
			return errShuttingDown
		}
		if err := s.spawnWorker(ctx, i); err != nil {
			return err
		}
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	for _, w := range s.workers {
		if w.Exited() {
			return &PrematureExitError{Process: w.Name(), Err: w.ExitErr()}
		}
	}

	if s.shuttingDown.Load() {
		return errShuttingDown
	}
	if err := s.spawnAPI(ctx); err != nil {
		return err
	}

	return s.awaitReadiness(ctx)
}

func (s *Supervisor) spawnBroker(ctx context.Context) error {
	p := backend.NewProcess(backend.Spec{
		Name:    "broker",
		Role:    backend.RoleBroker,
		Command: s.cfg.BrokerCommand,
		Cwd:     s.cfg.BackendRoot,
	})
	if err := p.Start(ctx, state.LogsDir(s.cfg.RepoRoot)); err != nil {
		return &SpawnError{Process: "broker", Err: err}
	}
	// Registration and the flag check share the critical section that
	// terminateAll snapshots under: a concurrent Stop either sees this
	// process in its snapshot or we see its flag and abort, in which case
	// rollback terminates it.
	s.mu.Lock()
	s.broker = p
	aborted := s.shuttingDown.Load()
	s.mu.Unlock()
	if aborted {
		return errShuttingDown
	}
	events.Publish(s.pub, events.Event{Type: events.ProcessStarted, Process: p.Name(), Role: string(backend.RoleBroker), PID: p.PID()})
	return nil
}

func (s *Supervisor) spawnWorker(ctx context.Context, idx int) error {
	name := fmt.Sprintf("worker-%d", idx)
	p := backend.NewProcess(backend.Spec{
		Name:    name,
		Role:    backend.RoleWorker,
		Command: s.cfg.WorkerCommand,
		Cwd:     s.cfg.BackendRoot,
		Env: map[string]string{
			"BROKER_URL": s.cfg.BrokerURL,
			"REDIS_URL":  s.cfg.BrokerURL,
		},
	})
	if err := p.Start(ctx, state.LogsDir(s.cfg.RepoRoot)); err != nil {
		return &SpawnError{Process: name, Err: err}
	}
	s.mu.Lock()
	s.workers = append(s.workers, p)
	aborted := s.shuttingDown.Load()
	s.mu.Unlock()
	if aborted {
		return errShuttingDown
	}
	events.Publish(s.pub, events.Event{Type: events.ProcessStarted, Process: name, Role: string(backend.RoleWorker), PID: p.PID()})
	return nil
}

func (s *Supervisor) spawnAPI(ctx context.Context) error {
	p := backend.NewProcess(backend.Spec{
		Name:    "api",
		Role:    backend.RoleAPI,
		Command: s.cfg.APICommand,
		Cwd:     s.cfg.BackendRoot,
		Env: map[string]string{
			"BROKER_URL": s.cfg.BrokerURL,
			"REDIS_URL":  s.cfg.BrokerURL,
			"PORT":       fmt.Sprintf("%d", s.cfg.APIPort),
		},
	})
	if err := p.Start(ctx, state.LogsDir(s.cfg.RepoRoot)); err != nil {
		return &SpawnError{Process: "api", Err: err}
	}
	s.mu.Lock()
	s.api = p
	aborted := s.shuttingDown.Load()
	s.mu.Unlock()
	if aborted {
		return errShuttingDown
	}
	events.Publish(s.pub, events.Event{Type: events.ProcessStarted, Process: p.Name(), Role: string(backend.RoleAPI), PID: p.PID()})
	return nil
}

// awaitReadiness polls the API readiness endpoint under the configured
// budget, aborting early if the API process dies while we poll.
func (s *Supervisor) awaitReadiness(ctx context.Context) error {
	api := s.api
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-api.Done():
			cancel()
		case <-pollCtx.Done():
		}
	}()

	err := retry.Do(pollCtx, s.cfg.APIReadiness, retry.HTTPProbe(s.cfg.ReadinessURL()))
	if err == nil {
		events.Publish(s.pub, events.Event{Type: events.StageReady, Process: api.Name(), Role: string(backend.RoleAPI), PID: api.PID()})
		return nil
	}
	if api.Exited() {
		return &PrematureExitError{Process: api.Name(), Err: api.ExitErr()}
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &ReadinessError{Endpoint: s.cfg.ReadinessURL(), Attempts: exhausted.Attempts, Elapsed: exhausted.Elapsed, Err: err}
	}
	return errors.Wrap(err, "await readiness")
}

func (s *Supervisor) brokerWaitError(addr string, err error) error {
	if s.broker != nil && s.broker.Exited() {
		return &PrematureExitError{Process: s.broker.Name(), Err: s.broker.ExitErr()}
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &ReadinessError{Endpoint: addr, Attempts: exhausted.Attempts, Elapsed: exhausted.Elapsed, Err: err}
	}
	return errors.Wrap(err, "await broker")
}

// settle honors cancellation; a failed Start still rolls back whatever was
// spawned before the deadline hit.
func (s *Supervisor) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "settle delay")
	case <-time.After(s.cfg.SettleDelay):
		return nil
	}
}

// Stop terminates everything the supervisor spawned, API server first and
// broker last: workers and the API server want the broker reachable during
// their own shutdown. Within a batch terminations run concurrently. Stop is
// idempotent; redundant calls return success immediately. It only returns
// an error when a process survived SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	if s.phase == Idle || s.phase == Stopped {
		s.phase = Stopped
		s.mu.Unlock()
		return nil
	}
	if s.phase == Failed {
		// Start already rolled everything back.
		s.mu.Unlock()
		return nil
	}
	s.phase = Stopping
	s.mu.Unlock()

	events.Publish(s.pub, events.Event{Type: events.ShutdownBegan})
	err := s.terminateAll(ctx)
	s.setPhase(Stopped)
	events.Publish(s.pub, events.Event{Type: events.ShutdownDone})
	return err
}

// rollback runs on the Start failure path. Termination is unconditional: a
// concurrent Stop that won the flag may have snapshotted the process set
// before the last spawn registered, and terminate tolerates running twice
// against the same process.
func (s *Supervisor) rollback() {
	if s.shuttingDown.CompareAndSwap(false, true) {
		log.Warn().Msg("startup failed, rolling back spawned processes")
	}
	_ = s.terminateAll(context.Background())
	// Leave the flag set: the rollback is a completed shutdown and later
	// Stop calls must be no-ops.
}

func (s *Supervisor) terminateAll(ctx context.Context) error {
	s.mu.Lock()
	api := s.api
	workers := append([]*backend.Process{}, s.workers...)
	broker := s.broker
	s.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("termination incomplete")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if api != nil {
		record(terminateBatch(ctx, []*backend.Process{api}, s.cfg.GracePeriod))
	}
	if len(workers) > 0 {
		record(terminateBatch(ctx, workers, s.cfg.GracePeriod))
	}
	if broker != nil {
		record(terminateBatch(ctx, []*backend.Process{broker}, s.cfg.GracePeriod))
	}

	for _, p := range s.processes() {
		events.Publish(s.pub, events.Event{Type: events.ProcessExited, Process: p.Name(), Role: string(p.Role()), PID: p.PID()})
	}
	return firstErr
}

// HealthCheck is the single-probe liveness check used for periodic
// reporting, distinct from the bounded-retry gate Start uses.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	probe := retry.HTTPProbe(s.cfg.ReadinessURL())
	return retry.Do(ctx, retry.Policy{MaxAttempts: 1, PerAttemptTimeout: 2 * time.Second}, probe) == nil
}

func (s *Supervisor) processes() []*backend.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*backend.Process{}
	if s.broker != nil {
		out = append(out, s.broker)
	}
	out = append(out, s.workers...)
	if s.api != nil {
		out = append(out, s.api)
	}
	return out
}

// Records snapshots the supervised set for the state file.
func (s *Supervisor) Records() []state.ProcessRecord {
	var recs []state.ProcessRecord
	if s.externalBroker {
		recs = append(recs, state.ProcessRecord{
			Name:     "broker",
			Role:     string(backend.RoleBroker),
			External: true,
		})
	}
	for _, p := range s.processes() {
		recs = append(recs, state.ProcessRecord{
			Name:      p.Name(),
			Role:      string(p.Role()),
			PID:       p.PID(),
			Command:   p.Spec().Command,
			Cwd:       p.Spec().Cwd,
			Env:       state.SanitizeEnv(p.Spec().Env),
			StdoutLog: p.StdoutLog(),
			StderrLog: p.StderrLog(),
			StartedAt: p.StartedAt(),
		})
	}
	return recs
}
