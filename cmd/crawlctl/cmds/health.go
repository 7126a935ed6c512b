package cmds

import (
	"fmt"

	"github.com/go-go-golems/crawlctl/pkg/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend's readiness endpoint once",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			port, err := resolveAPIPort(opts)
			if err != nil {
				return err
			}
			if !client.ForPort(port).Health(cmd.Context()) {
				return errors.Errorf("backend on port %d is not healthy", port)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
