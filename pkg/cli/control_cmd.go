package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pagequery/internal/api"
)

func newCancelCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <query-id>",
		Short: "Cancel a running backend query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), api.CancelResponse{Message: msg})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newVariablesCmd(client *Client) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "variables <SQL>",
		Short: "Run a template variable query and print its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := queryOptions{from: from, to: to}
			req, err := opts.request(args[0], time.Now())
			if err != nil {
				return err
			}
			values, err := client.Variables(cmd.Context(), api.VariablesRequest{Query: args[0], Range: req.Range})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), map[string][]string{"values": values})
			}
			for _, v := range values {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "now-1h", "Range start")
	cmd.Flags().StringVar(&to, "to", "now", "Range end")
	return cmd
}

func newHealthCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server can reach its backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				if err := PrintJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res["status"], res["message"])
			}
			if res["status"] != "OK" {
				return fmt.Errorf("server unhealthy: %s", res["message"])
			}
			return nil
		},
	}
}
