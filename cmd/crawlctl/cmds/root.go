package cmds

import (
	"github.com/spf13/cobra"
)

func AddCommands(root *cobra.Command) error {
	root.AddCommand(newUpCmd())
	root.AddCommand(newDownCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newLogsCmd())

	root.AddCommand(newScrapeCmd())
	root.AddCommand(newCrawlCmd())
	root.AddCommand(newSearchCmd())
	return nil
}
