package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/crawlctl/pkg/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newScrapeCmd() *cobra.Command {
	var formats []string
	var onlyMain bool

	cmd := &cobra.Command{
		Use:   "scrape URL",
		Short: "Scrape a single URL through the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := backendClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Scrape(cmd.Context(), client.ScrapeRequest{
				URL:             args[0],
				Formats:         formats,
				OnlyMainContent: onlyMain,
			})
			if err != nil {
				return describeClientErr(err)
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().StringSliceVar(&formats, "format", []string{"markdown"}, "Output format (repeatable): markdown, html, links")
	cmd.Flags().BoolVar(&onlyMain, "only-main-content", true, "Strip navigation, footers and boilerplate")
	return cmd
}

func newCrawlCmd() *cobra.Command {
	var limit int
	var maxDepth int
	var wait bool
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "crawl URL",
		Short: "Start a crawl job; optionally wait for completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := backendClient(cmd)
			if err != nil {
				return err
			}
			id, err := c.StartCrawl(cmd.Context(), client.CrawlRequest{
				URL:      args[0],
				Limit:    limit,
				MaxDepth: maxDepth,
			})
			if err != nil {
				return describeClientErr(err)
			}
			if !wait {
				return printJSON(cmd, map[string]string{"id": id})
			}
			return waitForCrawl(cmd, c, id, pollInterval)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of pages")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 2, "Maximum link depth")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the crawl finishes and print the result")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "How often to poll with --wait")
	return cmd
}

func waitForCrawl(cmd *cobra.Command, c *client.Client, id string, interval time.Duration) error {
	ctx := cmd.Context()
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		st, err := c.CrawlStatus(ctx, id)
		if err != nil {
			return describeClientErr(err)
		}
		if st.Status == "completed" || st.Status == "failed" {
			return printJSON(cmd, st)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "crawl %s: %s (%d/%d)\n", id, st.Status, st.Completed, st.Total)

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for crawl")
		case <-t.C:
		}
	}
}

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run a search query through the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := backendClient(cmd)
			if err != nil {
				return err
			}
			results, err := c.Search(cmd.Context(), client.SearchRequest{Query: args[0], Limit: limit})
			if err != nil {
				return describeClientErr(err)
			}
			return printJSON(cmd, results)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum number of results")
	return cmd
}

func backendClient(cmd *cobra.Command) (*client.Client, error) {
	opts, err := getRootOptions(cmd)
	if err != nil {
		return nil, err
	}
	port, err := resolveAPIPort(opts)
	if err != nil {
		return nil, err
	}
	return client.ForPort(port), nil
}

func describeClientErr(err error) error {
	if errors.Is(err, client.ErrBackendUnavailable) {
		return errors.New("backend unavailable; is it running? (crawlctl up)")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, "backend request timed out")
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal output")
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
