package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/crawlctl/pkg/events"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/go-go-golems/crawlctl/pkg/supervise"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpCmd() *cobra.Command {
	var force bool
	var attach bool
	var workers int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the backend (broker + workers + API server) and wait until it is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(state.StatePath(opts.RepoRoot)); err == nil {
				if !force {
					return errors.New("state exists; run crawlctl down first or use --force")
				}
				log.Info().Msg("existing state found; stopping first (--force)")
				if err := stopFromState(cmd.Context(), opts); err != nil {
					return err
				}
			}

			cfg, err := resolveSupervisorConfig(opts)
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workers = workers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var bus *events.Bus
			if attach {
				bus, err = events.NewInMemoryBus()
				if err != nil {
					return err
				}
				bus.OnLifecycle("print-lifecycle", func(ev events.Event) error {
					line := string(ev.Type)
					if ev.Process != "" {
						line += " " + ev.Process
					}
					if ev.PID > 0 {
						line += fmt.Sprintf(" (pid %d)", ev.PID)
					}
					if ev.Detail != "" {
						line += ": " + ev.Detail
					}
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), line)
					return nil
				})
				go func() {
					if err := bus.Run(ctx); err != nil {
						log.Debug().Err(err).Msg("event bus stopped")
					}
				}()
				// The in-memory transport drops events published before the
				// subscription is live; wait so the earliest lifecycle
				// events are not lost.
				select {
				case <-bus.Router.Running():
				case <-ctx.Done():
					return errors.Wrap(ctx.Err(), "event bus startup")
				}
			}

			var pub message.Publisher
			if bus != nil {
				pub = bus.Publisher
			}
			sup, err := supervise.New(cfg, pub)
			if err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
			if err := sup.Start(startCtx); err != nil {
				return err
			}

			st := &state.State{
				RepoRoot:  opts.RepoRoot,
				BrokerURL: cfg.BrokerURL,
				APIPort:   cfg.APIPort,
				CreatedAt: time.Now(),
				Processes: sup.Records(),
			}
			if err := state.Save(opts.RepoRoot, st); err != nil {
				_ = sup.Stop(context.Background())
				return err
			}

			if !attach {
				log.Info().Int("processes", len(st.Processes)).Msg("up complete")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}

			return runAttached(ctx, cmd, opts, sup)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop existing state before starting")
	cmd.Flags().BoolVar(&attach, "attach", false, "Stay in the foreground, print lifecycle events, stop the backend on SIGINT/SIGTERM")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of queue workers (overrides config)")
	return cmd
}

// runAttached keeps the supervisor resident, reporting liveness with the
// single-probe health check until a termination signal arrives.
func runAttached(ctx context.Context, cmd *cobra.Command, opts rootOptions, sup *supervise.Supervisor) error {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("signal received, stopping backend")
			stopCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
			defer cancel()
			err := sup.Stop(stopCtx)
			if rmErr := state.Remove(opts.RepoRoot); rmErr != nil && err == nil {
				err = rmErr
			}
			return err
		case <-t.C:
			if !sup.HealthCheck(ctx) {
				log.Warn().Msg("backend health check failed")
			}
		}
	}
}

func stopFromState(ctx context.Context, opts rootOptions) error {
	st, err := state.Load(opts.RepoRoot)
	if err != nil {
		return err
	}
	if err := terminateRecorded(ctx, st, opts.Timeout); err != nil {
		return err
	}
	return state.Remove(opts.RepoRoot)
}
