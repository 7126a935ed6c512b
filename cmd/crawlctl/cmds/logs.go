package cmds

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var tailLines int
	var since string
	var stderrLog bool

	cmd := &cobra.Command{
		Use:   "logs PROCESS",
		Short: "Show captured logs for a backend process (broker, worker-0, api, ...)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				return err
			}

			var path string
			for _, rec := range st.Processes {
				if rec.Name != args[0] {
					continue
				}
				if stderrLog {
					path = rec.StderrLog
				} else {
					path = rec.StdoutLog
				}
			}
			if path == "" {
				return errors.Errorf("no log recorded for process %q", args[0])
			}

			var sinceTime time.Time
			if since != "" {
				sinceTime, err = dateparse.ParseAny(since)
				if err != nil {
					return errors.Wrapf(err, "parse --since %q", since)
				}
			}

			lines, err := state.TailLines(path, tailLines, 8<<20)
			if err != nil {
				return err
			}
			for _, line := range state.FilterSince(lines, sinceTime) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 100, "How many lines from the end of the log")
	cmd.Flags().StringVar(&since, "since", "", "Only lines at or after this time (free-form, e.g. \"2026-08-23 10:00\" or \"Aug 23 10:00\")")
	cmd.Flags().BoolVar(&stderrLog, "stderr", false, "Show the stderr log instead of stdout")
	return cmd
}
