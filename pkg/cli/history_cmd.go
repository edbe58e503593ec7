package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(client *Client) *cobra.Command {
	var (
		refID      string
		state      string
		maxResults int
		pageToken  string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished queries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if refID != "" {
				q.Set("ref_id", refID)
			}
			if state != "" {
				q.Set("state", state)
			}
			if maxResults > 0 {
				q.Set("max_results", strconv.Itoa(maxResults))
			}
			if pageToken != "" {
				q.Set("page_token", pageToken)
			}

			page, err := client.History(cmd.Context(), q)
			if err != nil {
				return err
			}
			for all && page.NextPageToken != "" {
				q.Set("page_token", page.NextPageToken)
				next, err := client.History(cmd.Context(), q)
				if err != nil {
					return err
				}
				page.Entries = append(page.Entries, next.Entries...)
				page.NextPageToken = next.NextPageToken
			}

			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), page)
			}
			rows := make([][]string, len(page.Entries))
			for i, e := range page.Entries {
				exec := ""
				if e.ExecutionMs != nil {
					exec = (time.Duration(*e.ExecutionMs) * time.Millisecond).String()
				}
				rows[i] = []string{
					strconv.FormatInt(e.ID, 10),
					e.RefID,
					string(e.State),
					strconv.Itoa(e.RequestCount),
					exec,
					formatBytes(e.BytesScanned),
					e.QueryID,
					e.CreatedAt.Local().Format(time.DateTime),
				}
			}
			PrintTable(cmd.OutOrStdout(), []string{"id", "ref_id", "state", "requests", "duration", "scanned", "query_id", "created"}, rows)
			if page.NextPageToken != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d shown, next page: --page-token %s\n", len(page.Entries), page.Total, page.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&refID, "ref-id", "", "Only queries with this reference id")
	cmd.Flags().StringVar(&state, "state", "", "Only queries that ended in this state (Done, Error, Cancelled)")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token of the page to fetch")
	cmd.Flags().BoolVar(&all, "all", false, "Follow page tokens until the history is exhausted")

	return cmd
}
