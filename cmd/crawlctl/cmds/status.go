package cmds

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/proc"
	"github.com/go-go-golems/crawlctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var tailLines int
	var withStats bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the supervised backend processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				return err
			}

			var samples map[int]*proc.Sample
			if withStats {
				samples = sampleStats(st)
			}

			type procStatus struct {
				Name       string       `json:"name"`
				Role       string       `json:"role"`
				PID        int          `json:"pid,omitempty"`
				External   bool         `json:"external,omitempty"`
				Alive      bool         `json:"alive"`
				Stdout     string       `json:"stdout_log,omitempty"`
				Stderr     string       `json:"stderr_log,omitempty"`
				Stats      *proc.Sample `json:"stats,omitempty"`
				StderrTail []string     `json:"stderr_tail,omitempty"`
			}

			var procs []procStatus
			for _, rec := range st.Processes {
				alive := rec.External || state.ProcessAlive(rec.PID)
				ps := procStatus{
					Name:     rec.Name,
					Role:     rec.Role,
					PID:      rec.PID,
					External: rec.External,
					Alive:    alive,
					Stdout:   rec.StdoutLog,
					Stderr:   rec.StderrLog,
				}
				if samples != nil {
					ps.Stats = samples[rec.PID]
				}
				if !alive && tailLines > 0 && rec.StderrLog != "" {
					if lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20); err == nil {
						ps.StderrTail = lines
					}
				}
				procs = append(procs, ps)
			}

			b, err := json.MarshalIndent(map[string]any{
				"broker_url": st.BrokerURL,
				"api_port":   st.APIPort,
				"created_at": st.CreatedAt,
				"processes":  procs,
			}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many stderr lines to include for dead processes")
	cmd.Flags().BoolVar(&withStats, "stats", false, "Include CPU/memory stats from /proc")
	return cmd
}

// sampleStats takes two samples a beat apart so CPU percentages are real.
func sampleStats(st *state.State) map[int]*proc.Sample {
	var pids []int
	for _, rec := range st.Processes {
		if rec.PID > 0 {
			pids = append(pids, rec.PID)
		}
	}
	tracker := proc.NewTracker()
	proc.ReadAll(pids, tracker)
	time.Sleep(500 * time.Millisecond)
	return proc.ReadAll(pids, tracker)
}
