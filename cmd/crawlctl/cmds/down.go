package cmds

import (
	"context"
	"fmt"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/backend"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/go-go-golems/crawlctl/pkg/supervise"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDownCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the backend recorded in the state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no backend state found")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			if err := terminateRecordedWithGrace(ctx, st, grace); err != nil {
				return err
			}
			if err := state.Remove(opts.RepoRoot); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "How long each process gets to exit after SIGTERM")
	return cmd
}

func terminateRecorded(ctx context.Context, st *state.State, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return terminateRecordedWithGrace(ctx, st, 5*time.Second)
}

// terminateRecordedWithGrace stops recorded pids in reverse startup order:
// the api batch, then the worker batch, then the broker. Within a batch
// terminations run concurrently. External processes are left alone.
func terminateRecordedWithGrace(ctx context.Context, st *state.State, grace time.Duration) error {
	batches := []string{
		string(backend.RoleAPI),
		string(backend.RoleWorker),
		string(backend.RoleBroker),
	}

	var firstErr error
	for _, role := range batches {
		var g errgroup.Group
		for _, rec := range st.Processes {
			if rec.Role != role || rec.External || rec.PID <= 0 {
				continue
			}
			if !state.ProcessAlive(rec.PID) {
				continue
			}
			g.Go(func() error {
				log.Info().Str("process", rec.Name).Int("pid", rec.PID).Msg("stopping")
				return supervise.TerminatePID(ctx, rec.PID, grace)
			})
		}
		if err := g.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
